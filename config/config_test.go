package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYaml(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearSecrets(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ALPHAVANTAGE_API_KEY", "BINANCE_API_KEY", "BINANCE_API_SECRET",
		"BYBIT_API_KEY", "BYBIT_API_SECRET", "HYPERLIQUID_PRIVATE_KEY", "DATABASE_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearSecrets(t)

	opts, err := ParseFlags(nil)
	require.NoError(t, err)
	cfg, err := Load(opts)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, ProviderSimulate, cfg.Provider)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.True(t, cfg.InitialBalance.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 60*time.Second, cfg.LiveTTL)
	assert.Equal(t, time.Duration(0), cfg.ReferenceTTL)
	assert.Equal(t, 30*time.Second, cfg.BurstyTTL)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 2, cfg.QuoteRetries)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}, cfg.OverviewSymbols)
	assert.False(t, cfg.KafkaEnabled())
	assert.False(t, cfg.TLSEnabled())
}

func TestParseFlags(t *testing.T) {
	opts, err := ParseFlags([]string{
		"--provider", "binance",
		"--store", "journal",
		"--livettl", "10s",
		"--quoteretries", "0",
		"--overview", "btcusdt, ethusdt",
		"--kafkabrokers", "k1:9092,k2:9092",
	})
	require.NoError(t, err)

	clearSecrets(t)
	cfg, err := Load(opts)
	require.NoError(t, err)
	assert.Equal(t, ProviderBinance, cfg.Provider)
	assert.Equal(t, StoreJournal, cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.LiveTTL)
	assert.Equal(t, 0, cfg.QuoteRetries)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.OverviewSymbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())

	opts, err = ParseFlags([]string{"--setup"})
	require.NoError(t, err)
	assert.True(t, opts.Setup)

	_, err = ParseFlags([]string{"--unknown"})
	require.Error(t, err)
}

func TestLoad_Yaml(t *testing.T) {
	clearSecrets(t)
	t.Setenv("ALPHAVANTAGE_API_KEY", "demo")
	t.Setenv("DATABASE_URL", "postgres://localhost/stockfolio")

	path := writeYaml(t, `
addr: ":9090"
provider: AlphaVantage
store: postgres
initial_balance: "2500.50"
live_ttl: 15s
reference_ttl: 24h
provider_timeout: 2s
quote_retries: 3
overview_symbols: [aapl, " msft "]
kafka_brokers: ["localhost:9092"]
tls_domains: ["stocks.example.com"]
`)

	cfg, err := Load(Options{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, ProviderAlphaVantage, cfg.Provider)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.True(t, cfg.InitialBalance.Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, 15*time.Second, cfg.LiveTTL)
	assert.Equal(t, 24*time.Hour, cfg.ReferenceTTL)
	assert.Equal(t, 30*time.Second, cfg.BurstyTTL)
	assert.Equal(t, 2*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 3, cfg.QuoteRetries)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.OverviewSymbols)
	assert.Equal(t, "portfolio-snapshots", cfg.KafkaTopic)
	assert.True(t, cfg.TLSEnabled())
	assert.Equal(t, "demo", cfg.Secrets.AlphaVantageAPIKey)
	assert.Equal(t, "postgres://localhost/stockfolio", cfg.Secrets.DatabaseURL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown provider", "provider: nasdaq\nstore: memory\n"},
		{"unknown store", "provider: simulate\nstore: redis\n"},
		{"bad balance", "provider: simulate\ninitial_balance: lots\n"},
		{"negative balance", "provider: simulate\ninitial_balance: \"-1\"\n"},
		{"bad duration", "provider: simulate\nlive_ttl: soon\n"},
		{"zero timeout", "provider: simulate\nprovider_timeout: 0s\n"},
		{"negative retries", "provider: simulate\nquote_retries: -1\n"},
		{"alphavantage without key", "provider: alphavantage\n"},
		{"postgres without dsn", "provider: simulate\nstore: postgres\n"},
		{"broken yaml", "provider: [simulate\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearSecrets(t)
			_, err := Load(Options{ConfigPath: writeYaml(t, tt.yaml)})
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(Options{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
}
