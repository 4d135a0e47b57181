package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stockfolio/config"
)

func TestValidators(t *testing.T) {
	tests := []struct {
		name     string
		validate func(string) error
		input    string
		ok       bool
	}{
		{"balance", validateBalance, "10000", true},
		{"fractional balance", validateBalance, "99.95", true},
		{"negative balance", validateBalance, "-5", false},
		{"text balance", validateBalance, "a lot", false},
		{"duration", validateDuration, "45s", true},
		{"zero duration", validateDuration, "0s", true},
		{"negative duration", validateDuration, "-1m", false},
		{"bad duration", validateDuration, "soon", false},
		{"symbols", validateSymbols, "aapl, msft", true},
		{"no symbols", validateSymbols, " , ", false},
		{"pair symbol", validateSymbols, "BTC/USDT", false},
		{"empty", validateNotEmpty, "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validate(tt.input)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWriteConfig_LoadsBack(t *testing.T) {
	a := defaultAnswers()
	a.store = config.StoreJournal
	a.walDir = t.TempDir()
	a.liveTTL = "20s"
	a.overviewSymbols = "tsla, nvda"
	a.kafkaBrokers = "localhost:9092, "

	path := filepath.Join(t.TempDir(), "config.gen.yaml")
	require.NoError(t, writeConfig(path, a.toConfig()))

	cfg, err := config.Load(config.Options{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderSimulate, cfg.Provider)
	assert.Equal(t, config.StoreJournal, cfg.Store)
	assert.Equal(t, a.walDir, cfg.WALDir)
	assert.Equal(t, 20*time.Second, cfg.LiveTTL)
	assert.Equal(t, time.Duration(0), cfg.ReferenceTTL)
	assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.OverviewSymbols)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}
