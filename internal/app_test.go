package internal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stockfolio/config"
	"github.com/vadiminshakov/stockfolio/internal/domain"
	"github.com/vadiminshakov/stockfolio/internal/services/pricer"
	"github.com/vadiminshakov/stockfolio/internal/storage/journal"
	"github.com/vadiminshakov/stockfolio/internal/storage/memory"
)

func testConfig(t *testing.T, args ...string) config.Config {
	t.Helper()
	opts, err := config.ParseFlags(append([]string{"--addr", "127.0.0.1:0"}, args...))
	require.NoError(t, err)
	cfg, err := config.Load(opts)
	require.NoError(t, err)
	return cfg
}

func TestNewQuoteProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     any
	}{
		{config.ProviderSimulate, &pricer.SimulateProvider{}},
		{config.ProviderBinance, &pricer.BinanceProvider{}},
		{config.ProviderBybit, &pricer.BybitProvider{}},
		{config.ProviderAlphaVantage, &pricer.AlphaVantageProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			conf := config.Config{Provider: tt.provider}
			conf.Secrets.AlphaVantageAPIKey = "demo"

			p, err := NewQuoteProvider(conf)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}

	_, err := NewQuoteProvider(config.Config{Provider: "nasdaq"})
	require.Error(t, err)
}

func TestNewAccountStore(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := NewAccountStore(ctx, config.Config{Store: config.StoreMemory}, logger)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	require.NoError(t, store.Close())

	store, err = NewAccountStore(ctx, config.Config{Store: config.StoreJournal, WALDir: t.TempDir()}, logger)
	require.NoError(t, err)
	assert.IsType(t, &journal.WALStore{}, store)
	require.NoError(t, store.Close())

	_, err = NewAccountStore(ctx, config.Config{Store: "redis"}, logger)
	require.Error(t, err)
}

func TestApp_TradeIsPublished(t *testing.T) {
	conf := testConfig(t, "--initialbalance", "5000")
	app, err := NewApp(context.Background(), conf, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	ctx := context.Background()
	account, err := app.Executor.OpenAccount(ctx, "alice", nil)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(5000)))

	sub, err := app.Bus.Subscribe("alice")
	require.NoError(t, err)
	defer app.Bus.Unsubscribe(sub)

	result, err := app.Executor.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Transaction.Sequence)

	select {
	case snap := <-sub.C:
		assert.Equal(t, uint64(1), snap.TradeCount)
		require.NotNil(t, snap.Transaction)
		assert.Equal(t, domain.SideBuy, snap.Transaction.Side)
	case <-time.After(time.Second):
		t.Fatal("snapshot was not published")
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	conf := testConfig(t)
	app, err := NewApp(context.Background(), conf, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
