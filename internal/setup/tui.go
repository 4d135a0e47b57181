package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/stockfolio/config"
)

var (
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collects the raw wizard input.
type answers struct {
	provider        string
	store           string
	walDir          string
	addr            string
	initialBalance  string
	liveTTL         string
	referenceTTL    string
	burstyTTL       string
	overviewSymbols string
	kafkaBrokers    string
}

func defaultAnswers() answers {
	return answers{
		provider:        config.ProviderSimulate,
		store:           config.StoreMemory,
		walDir:          "./wal/ledger",
		addr:            ":8080",
		initialBalance:  "10000",
		liveTTL:         "60s",
		referenceTTL:    "0s",
		burstyTTL:       "30s",
		overviewSymbols: "AAPL,MSFT,GOOGL,AMZN,TSLA",
	}
}

func clearScreen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("STOCKFOLIO CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := defaultAnswers()
	var confirm bool

	clearScreen("STEP 1: QUOTE PROVIDER")
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where do quotes come from?").
				Options(
					huh.NewOption("Simulated market (no keys needed)", config.ProviderSimulate),
					huh.NewOption("Alpha Vantage (equities)", config.ProviderAlphaVantage),
					huh.NewOption("Binance (crypto tickers)", config.ProviderBinance),
					huh.NewOption("Bybit (crypto tickers)", config.ProviderBybit),
					huh.NewOption("Hyperliquid (crypto mids)", config.ProviderHyperliquid),
				).
				Value(&a.provider),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 2: ACCOUNT STORE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where are accounts and the ledger kept?").
				Options(
					huh.NewOption("Memory (lost on restart)", config.StoreMemory),
					huh.NewOption("Journal (write-ahead log on disk)", config.StoreJournal),
					huh.NewOption("Postgres (DATABASE_URL)", config.StorePostgres),
				).
				Value(&a.store),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.store == config.StoreJournal {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Journal directory").
					Value(&a.walDir).
					Validate(validateNotEmpty),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	clearScreen("STEP 3: ACCOUNTS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&a.addr).
				Validate(validateNotEmpty),
			huh.NewInput().
				Title("Initial balance").
				Description("Cash given to new accounts (e.g. 10000)").
				Value(&a.initialBalance).
				Validate(validateBalance),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 4: QUOTE FRESHNESS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Live quote window").
				Description("Used to price trades (e.g. 60s)").
				Value(&a.liveTTL).
				Validate(validateDuration),
			huh.NewInput().
				Title("Reference quote window").
				Description("0s keeps reference data until restart").
				Value(&a.referenceTTL).
				Validate(validateDuration),
			huh.NewInput().
				Title("Overview quote window").
				Value(&a.burstyTTL).
				Validate(validateDuration),
			huh.NewInput().
				Title("Overview symbols").
				Description("Comma separated (e.g. AAPL,MSFT)").
				Value(&a.overviewSymbols).
				Validate(validateSymbols),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 5: NOTIFICATIONS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Kafka brokers").
				Description("Comma separated, leave empty to disable").
				Value(&a.kafkaBrokers),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary(a)))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := writeConfig(path, a.toConfig()); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting server...", path)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

func summary(a answers) string {
	return fmt.Sprintf(
		"Provider: %s\nStore: %s\nAddress: %s\nInitial balance: %s\nLive window: %s\nOverview: %s\n",
		a.provider, a.store, a.addr, a.initialBalance, a.liveTTL, a.overviewSymbols,
	)
}

func (a answers) toConfig() config.ConfigTmp {
	tmp := config.ConfigTmp{
		Addr:            a.addr,
		Provider:        a.provider,
		Store:           a.store,
		InitialBalance:  a.initialBalance,
		LiveTTL:         a.liveTTL,
		ReferenceTTL:    a.referenceTTL,
		BurstyTTL:       a.burstyTTL,
		OverviewSymbols: splitSymbols(a.overviewSymbols),
	}
	if a.store == config.StoreJournal {
		tmp.WALDir = a.walDir
	}
	for _, b := range strings.Split(a.kafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			tmp.KafkaBrokers = append(tmp.KafkaBrokers, b)
		}
	}
	return tmp
}

func writeConfig(path string, tmp config.ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func validateNotEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func validateBalance(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a duration like 30s or 5m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateSymbols(s string) error {
	symbols := splitSymbols(s)
	if len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	for _, sym := range symbols {
		if strings.ContainsAny(sym, " /") {
			return fmt.Errorf("invalid symbol %q", sym)
		}
	}
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
