package internal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/stockfolio/config"
	"github.com/vadiminshakov/stockfolio/internal/domain"
	"github.com/vadiminshakov/stockfolio/internal/events"
	"github.com/vadiminshakov/stockfolio/internal/services/quotecache"
	"github.com/vadiminshakov/stockfolio/internal/services/trader"
	"github.com/vadiminshakov/stockfolio/internal/web"
)

// App owns every long-lived component of a running service.
type App struct {
	Config   config.Config
	Store    AccountStore
	Quotes   *quotecache.Cache
	Bus      *events.Bus
	Executor *trader.Executor
	Server   *web.Server

	sink   *events.KafkaSink
	logger *zap.Logger
}

// NewApp builds the components described by conf.
func NewApp(ctx context.Context, conf config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := NewQuoteProvider(conf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create quote provider")
	}

	quotes, err := NewQuoteCache(provider, conf, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create quote cache")
	}

	store, err := NewAccountStore(ctx, conf, logger)
	if err != nil {
		quotes.Close()
		return nil, err
	}

	return newApp(conf, store, quotes, logger)
}

func newApp(conf config.Config, store AccountStore, quotes *quotecache.Cache, logger *zap.Logger) (*App, error) {
	bus := events.NewBus(conf.NotificationBuffer, logger.With(zap.String("component", "events")))

	executor, err := trader.NewExecutor(store, quotes, bus,
		trader.WithLogger(logger.With(zap.String("component", "trader"))),
		trader.WithInitialBalance(conf.InitialBalance),
		trader.WithRetrier(trader.NewQuoteRetrier(conf.QuoteRetries)),
	)
	if err != nil {
		bus.Close()
		quotes.Close()
		_ = store.Close()
		return nil, errors.Wrap(err, "failed to create executor")
	}

	app := &App{
		Config:   conf,
		Store:    store,
		Quotes:   quotes,
		Bus:      bus,
		Executor: executor,
		logger:   logger,
		Server: web.NewServer(conf.Addr, executor, quotes, bus,
			logger.With(zap.String("component", "web")),
			web.WithOverviewSymbols(conf.OverviewSymbols),
		),
	}

	if conf.KafkaEnabled() {
		writer := events.NewKafkaWriter(conf.KafkaBrokers, conf.KafkaTopic)
		app.sink = events.NewKafkaSink(bus, writer, logger.With(zap.String("component", "kafka")))
	}

	return app, nil
}

// Run serves until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.Quotes.Warm(a.Config.OverviewSymbols, domain.QuoteBursty)

	g, ctx := errgroup.WithContext(ctx)

	if a.sink != nil {
		g.Go(func() error {
			return a.sink.Run(ctx)
		})
	}

	g.Go(func() error {
		if a.Config.TLSEnabled() {
			return a.Server.StartWithAutoTLS(ctx, a.Config.TLSDomains, a.Config.CertCacheDir)
		}
		return a.Server.Start(ctx)
	})

	a.logger.Info("stockfolio started",
		zap.String("addr", a.Config.Addr),
		zap.String("provider", a.Config.Provider),
		zap.String("store", a.Config.Store),
		zap.Bool("kafka", a.sink != nil),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the bus, the cache and the store.
func (a *App) Close() error {
	a.Bus.Close()
	a.Quotes.Close()
	return a.Store.Close()
}
