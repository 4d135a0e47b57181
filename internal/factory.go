package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stockfolio/config"
	"github.com/vadiminshakov/stockfolio/internal/clients"
	"github.com/vadiminshakov/stockfolio/internal/domain"
	"github.com/vadiminshakov/stockfolio/internal/services/pricer"
	"github.com/vadiminshakov/stockfolio/internal/services/quotecache"
	"github.com/vadiminshakov/stockfolio/internal/services/trader"
	"github.com/vadiminshakov/stockfolio/internal/storage/journal"
	"github.com/vadiminshakov/stockfolio/internal/storage/memory"
	"github.com/vadiminshakov/stockfolio/internal/storage/postgres"
)

// AccountStore is a trader.Store that owns resources.
type AccountStore interface {
	trader.Store
	Close() error
}

// NewQuoteProvider is the single point of dispatch to a quote source.
func NewQuoteProvider(conf config.Config) (quotecache.Provider, error) {
	secrets := conf.Secrets

	switch conf.Provider {
	case config.ProviderAlphaVantage:
		client := clients.NewAlphaVantageClient(conf.AlphaVantageURL, secrets.AlphaVantageAPIKey)
		return pricer.NewAlphaVantageProvider(client), nil
	case config.ProviderBinance:
		client := clients.NewBinanceClient(secrets.BinanceAPIKey, secrets.BinanceAPISecret)
		return pricer.NewBinanceProvider(client), nil
	case config.ProviderBybit:
		client := clients.NewBybitClient(secrets.BybitAPIKey, secrets.BybitAPISecret)
		return pricer.NewBybitProvider(client), nil
	case config.ProviderHyperliquid:
		client, err := clients.NewHyperliquidClient(secrets.HyperliquidPrivateKey, conf.HyperliquidURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create hyperliquid client")
		}
		return pricer.NewHyperliquidProvider(client.Info()), nil
	case config.ProviderSimulate:
		return pricer.NewSimulateProvider(time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", conf.Provider)
	}
}

// NewAccountStore opens the configured store. The caller closes it.
func NewAccountStore(ctx context.Context, conf config.Config, logger *zap.Logger) (AccountStore, error) {
	switch conf.Store {
	case config.StoreMemory:
		return memory.NewStore(), nil
	case config.StoreJournal:
		store, err := journal.NewWALStore(conf.WALDir, logger.With(zap.String("store", "journal")))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open journal store")
		}
		return store, nil
	case config.StorePostgres:
		store, err := postgres.Connect(ctx, conf.Secrets.DatabaseURL, logger.With(zap.String("store", "postgres")))
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to postgres")
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", conf.Store)
	}
}

// NewQuoteCache puts the provider behind a cache configured from conf.
func NewQuoteCache(provider quotecache.Provider, conf config.Config, logger *zap.Logger) (*quotecache.Cache, error) {
	return quotecache.New(provider,
		quotecache.WithLogger(logger.With(zap.String("component", "quotecache"))),
		quotecache.WithTimeout(conf.ProviderTimeout),
		quotecache.WithMaxEntries(conf.CacheMaxEntries),
		quotecache.WithPolicy(domain.QuoteLive, conf.LiveTTL),
		quotecache.WithPolicy(domain.QuoteReference, conf.ReferenceTTL),
		quotecache.WithPolicy(domain.QuoteBursty, conf.BurstyTTL),
	)
}
