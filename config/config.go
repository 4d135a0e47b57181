package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Supported quote providers.
const (
	ProviderAlphaVantage = "alphavantage"
	ProviderBinance      = "binance"
	ProviderBybit        = "bybit"
	ProviderHyperliquid  = "hyperliquid"
	ProviderSimulate     = "simulate"
)

// Supported account stores.
const (
	StoreMemory   = "memory"
	StoreJournal  = "journal"
	StorePostgres = "postgres"
)

// DefaultGeneratedPath is where the setup wizard writes its output.
const DefaultGeneratedPath = "config.gen.yaml"

const (
	defaultAddr               = ":8080"
	defaultWALDir             = "./wal/ledger"
	defaultInitialBalance     = "10000"
	defaultLiveTTL            = 60 * time.Second
	defaultReferenceTTL       = time.Duration(0)
	defaultBurstyTTL          = 30 * time.Second
	defaultProviderTimeout    = 5 * time.Second
	defaultQuoteRetries       = 2
	defaultCacheMaxEntries    = 10_000
	defaultNotificationBuffer = 64
	defaultKafkaTopic         = "portfolio-snapshots"
	defaultCertCacheDir       = "cert-cache"
	defaultHyperliquidURL     = "https://api.hyperliquid.xyz"
)

var defaultOverviewSymbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}

// Config is the validated runtime configuration.
type Config struct {
	Addr               string
	Provider           string
	Store              string
	WALDir             string
	InitialBalance     decimal.Decimal
	LiveTTL            time.Duration
	ReferenceTTL       time.Duration
	BurstyTTL          time.Duration
	ProviderTimeout    time.Duration
	QuoteRetries       int
	CacheMaxEntries    int64
	OverviewSymbols    []string
	NotificationBuffer int
	KafkaBrokers       []string
	KafkaTopic         string
	TLSDomains         []string
	CertCacheDir       string
	AlphaVantageURL    string
	HyperliquidURL     string
	Secrets            Secrets
}

// Secrets are read from the environment only, never from the yaml file.
type Secrets struct {
	AlphaVantageAPIKey    string `env:"ALPHAVANTAGE_API_KEY"`
	BinanceAPIKey         string `env:"BINANCE_API_KEY"`
	BinanceAPISecret      string `env:"BINANCE_API_SECRET"`
	BybitAPIKey           string `env:"BYBIT_API_KEY"`
	BybitAPISecret        string `env:"BYBIT_API_SECRET"`
	HyperliquidPrivateKey string `env:"HYPERLIQUID_PRIVATE_KEY"`
	DatabaseURL           string `env:"DATABASE_URL"`
}

// ConfigTmp is the yaml representation. Decimals and durations are kept as
// strings so that a missing value can be told apart from an explicit zero.
type ConfigTmp struct {
	Addr               string   `yaml:"addr,omitempty"`
	Provider           string   `yaml:"provider"`
	Store              string   `yaml:"store"`
	WALDir             string   `yaml:"wal_dir,omitempty"`
	InitialBalance     string   `yaml:"initial_balance,omitempty"`
	LiveTTL            string   `yaml:"live_ttl,omitempty"`
	ReferenceTTL       string   `yaml:"reference_ttl,omitempty"`
	BurstyTTL          string   `yaml:"bursty_ttl,omitempty"`
	ProviderTimeout    string   `yaml:"provider_timeout,omitempty"`
	QuoteRetries       *int     `yaml:"quote_retries,omitempty"`
	CacheMaxEntries    int64    `yaml:"cache_max_entries,omitempty"`
	OverviewSymbols    []string `yaml:"overview_symbols,omitempty"`
	NotificationBuffer int      `yaml:"notification_buffer,omitempty"`
	KafkaBrokers       []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic         string   `yaml:"kafka_topic,omitempty"`
	TLSDomains         []string `yaml:"tls_domains,omitempty"`
	CertCacheDir       string   `yaml:"cert_cache_dir,omitempty"`
	AlphaVantageURL    string   `yaml:"alphavantage_url,omitempty"`
	HyperliquidURL     string   `yaml:"hyperliquid_url,omitempty"`
}

// Options are the parsed command line switches.
type Options struct {
	ConfigPath string
	Setup      bool
	Config     ConfigTmp
}

// Get parses os.Args and the environment.
func Get() (Config, bool, error) {
	opts, err := ParseFlags(os.Args[1:])
	if err != nil {
		return Config{}, false, err
	}
	if opts.Setup {
		return Config{}, true, nil
	}

	cfg, err := Load(opts)
	return cfg, false, err
}

// ParseFlags reads command line switches. A --config path wins over every
// other flag.
func ParseFlags(args []string) (Options, error) {
	fs := flag.NewFlagSet("stockfolio", flag.ContinueOnError)

	var (
		opts      Options
		overview  string
		brokers   string
		domains   string
		retries   int
		tmp       ConfigTmp
		liveTTL   time.Duration
		refTTL    time.Duration
		burstyTTL time.Duration
		timeout   time.Duration
	)

	fs.StringVar(&opts.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&opts.Setup, "setup", false, "run the interactive configuration wizard")
	fs.StringVar(&tmp.Addr, "addr", defaultAddr, "http listen address")
	fs.StringVar(&tmp.Provider, "provider", ProviderSimulate, "quote provider: alphavantage, binance, bybit, hyperliquid, simulate")
	fs.StringVar(&tmp.Store, "store", StoreMemory, "account store: memory, journal, postgres")
	fs.StringVar(&tmp.WALDir, "waldir", defaultWALDir, "directory of the journal store")
	fs.StringVar(&tmp.InitialBalance, "initialbalance", defaultInitialBalance, "cash balance of new accounts")
	fs.DurationVar(&liveTTL, "livettl", defaultLiveTTL, "freshness window of live quotes")
	fs.DurationVar(&refTTL, "referencettl", defaultReferenceTTL, "freshness window of reference quotes, 0 never expires")
	fs.DurationVar(&burstyTTL, "burstyttl", defaultBurstyTTL, "freshness window of overview quotes")
	fs.DurationVar(&timeout, "providertimeout", defaultProviderTimeout, "upper bound of a single provider call")
	fs.IntVar(&retries, "quoteretries", defaultQuoteRetries, "retries of a failed provider call")
	fs.Int64Var(&tmp.CacheMaxEntries, "cachemaxentries", defaultCacheMaxEntries, "maximum cached quotes")
	fs.StringVar(&overview, "overview", strings.Join(defaultOverviewSymbols, ","), "comma separated overview symbols")
	fs.IntVar(&tmp.NotificationBuffer, "notificationbuffer", defaultNotificationBuffer, "per subscriber notification buffer")
	fs.StringVar(&brokers, "kafkabrokers", "", "comma separated kafka brokers, empty disables the sink")
	fs.StringVar(&tmp.KafkaTopic, "kafkatopic", defaultKafkaTopic, "kafka topic for portfolio snapshots")
	fs.StringVar(&domains, "tlsdomains", "", "comma separated domains for automatic TLS")
	fs.StringVar(&tmp.CertCacheDir, "certcachedir", defaultCertCacheDir, "autocert cache directory")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	tmp.LiveTTL = liveTTL.String()
	tmp.ReferenceTTL = refTTL.String()
	tmp.BurstyTTL = burstyTTL.String()
	tmp.ProviderTimeout = timeout.String()
	tmp.QuoteRetries = &retries
	tmp.OverviewSymbols = splitList(overview)
	tmp.KafkaBrokers = splitList(brokers)
	tmp.TLSDomains = splitList(domains)
	opts.Config = tmp

	return opts, nil
}

// Load builds the runtime config from the yaml file (when given) or the
// flags, then reads secrets from the environment.
func Load(opts Options) (Config, error) {
	tmp := opts.Config
	if opts.ConfigPath != "" {
		fromFile, err := readYaml(opts.ConfigPath)
		if err != nil {
			return Config{}, err
		}
		tmp = fromFile
	}

	cfg, err := tmp.toConfig()
	if err != nil {
		return Config{}, err
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return Config{}, fmt.Errorf("failed to read secrets from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readYaml(path string) (ConfigTmp, error) {
	var tmp ConfigTmp

	f, err := os.ReadFile(path)
	if err != nil {
		return ConfigTmp{}, err
	}
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return ConfigTmp{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
	}
	return tmp, nil
}

func (c ConfigTmp) toConfig() (Config, error) {
	cfg := Config{
		Addr:               orDefault(c.Addr, defaultAddr),
		Provider:           strings.ToLower(orDefault(c.Provider, ProviderSimulate)),
		Store:              strings.ToLower(orDefault(c.Store, StoreMemory)),
		WALDir:             orDefault(c.WALDir, defaultWALDir),
		CacheMaxEntries:    c.CacheMaxEntries,
		QuoteRetries:       defaultQuoteRetries,
		OverviewSymbols:    normalizeSymbols(c.OverviewSymbols),
		NotificationBuffer: c.NotificationBuffer,
		KafkaBrokers:       c.KafkaBrokers,
		KafkaTopic:         orDefault(c.KafkaTopic, defaultKafkaTopic),
		TLSDomains:         c.TLSDomains,
		CertCacheDir:       orDefault(c.CertCacheDir, defaultCertCacheDir),
		AlphaVantageURL:    c.AlphaVantageURL,
		HyperliquidURL:     orDefault(c.HyperliquidURL, defaultHyperliquidURL),
	}

	balance, err := decimal.NewFromString(orDefault(c.InitialBalance, defaultInitialBalance))
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'initial_balance' param in config (must be a decimal), error: %w", err)
	}
	cfg.InitialBalance = balance

	durations := []struct {
		name  string
		raw   string
		def   time.Duration
		field *time.Duration
	}{
		{"live_ttl", c.LiveTTL, defaultLiveTTL, &cfg.LiveTTL},
		{"reference_ttl", c.ReferenceTTL, defaultReferenceTTL, &cfg.ReferenceTTL},
		{"bursty_ttl", c.BurstyTTL, defaultBurstyTTL, &cfg.BurstyTTL},
		{"provider_timeout", c.ProviderTimeout, defaultProviderTimeout, &cfg.ProviderTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.field = d.def
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect '%s' param in config (must be a duration like 30s), error: %w", d.name, err)
		}
		*d.field = parsed
	}

	if c.QuoteRetries != nil {
		cfg.QuoteRetries = *c.QuoteRetries
	}
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = defaultCacheMaxEntries
	}
	if cfg.NotificationBuffer == 0 {
		cfg.NotificationBuffer = defaultNotificationBuffer
	}
	if c.OverviewSymbols == nil {
		cfg.OverviewSymbols = append([]string(nil), defaultOverviewSymbols...)
	}

	return cfg, nil
}

// Validate checks values that cannot be fixed by defaults.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAlphaVantage:
		if c.Secrets.AlphaVantageAPIKey == "" {
			return fmt.Errorf("ALPHAVANTAGE_API_KEY environment variable must be set for provider %s", c.Provider)
		}
	case ProviderBinance, ProviderBybit, ProviderHyperliquid, ProviderSimulate:
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}

	switch c.Store {
	case StoreMemory:
	case StoreJournal:
		if c.WALDir == "" {
			return fmt.Errorf("'wal_dir' must be set for store %s", c.Store)
		}
	case StorePostgres:
		if c.Secrets.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable must be set for store %s", c.Store)
		}
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}

	if c.InitialBalance.IsNegative() {
		return fmt.Errorf("invalid 'initial_balance' %s, must not be negative", c.InitialBalance)
	}
	if c.LiveTTL < 0 || c.ReferenceTTL < 0 || c.BurstyTTL < 0 {
		return fmt.Errorf("quote freshness windows must not be negative")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("invalid 'provider_timeout' %s, must be positive", c.ProviderTimeout)
	}
	if c.QuoteRetries < 0 {
		return fmt.Errorf("invalid 'quote_retries' %d, must not be negative", c.QuoteRetries)
	}
	if c.CacheMaxEntries < 0 || c.NotificationBuffer < 0 {
		return fmt.Errorf("cache and notification sizes must not be negative")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("'kafka_topic' must be set when kafka brokers are configured")
	}
	return nil
}

// KafkaEnabled reports whether snapshots are forwarded to kafka.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// TLSEnabled reports whether the gateway serves ACME certificates.
func (c Config) TLSEnabled() bool { return len(c.TLSDomains) > 0 }

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeSymbols(symbols []string) []string {
	if symbols == nil {
		return nil
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
