// Command stockfolio runs the paper trading and portfolio accounting service.
// Accounts buy and sell at quotes from a configurable provider, and every
// committed trade is pushed to stream subscribers and optionally to Kafka.
//
// Usage:
//
//	stockfolio --config config.yaml
//	stockfolio --setup
//	stockfolio (uses CLI arguments)
//
// Secrets are read from the environment:
//
//	For Alpha Vantage: ALPHAVANTAGE_API_KEY
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET (optional for quotes)
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET (optional for quotes)
//	For Hyperliquid: HYPERLIQUID_PRIVATE_KEY (optional for quotes)
//	For the postgres store: DATABASE_URL
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vadiminshakov/stockfolio/config"
	"github.com/vadiminshakov/stockfolio/internal"
	"github.com/vadiminshakov/stockfolio/internal/setup"
)

func main() {
	conf, runSetup, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if runSetup {
		if err := setup.RunTUI(config.DefaultGeneratedPath); err != nil {
			log.Fatal(err)
		}
		conf, err = config.Load(config.Options{ConfigPath: config.DefaultGeneratedPath})
		if err != nil {
			log.Fatal(err)
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, conf, logger)
	if err != nil {
		logger.Fatal("failed to build service", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close service", zap.Error(err))
		}
	}()

	if err := app.Run(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return
	}
	logger.Info("service stopped")
}
