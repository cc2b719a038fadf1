// Package main is the entry point for the rebalancer service.
// The service keeps exchange accounts close to their target allocations:
// it values each account, computes rebalance actions and places limit orders,
// either on request over HTTP or on a fixed auto trading tick.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/di"
	portfoliohandlers "github.com/aristath/rebalancer/internal/modules/portfolio/handlers"
	rebalancinghandlers "github.com/aristath/rebalancer/internal/modules/rebalancing/handlers"
	strategyhandlers "github.com/aristath/rebalancer/internal/modules/strategy/handlers"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/server"
	"github.com/aristath/rebalancer/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires databases, clients, services and jobs
// 4. Starts the book feed, the scheduler and the HTTP server
// 5. Waits for a shutdown signal and stops everything in reverse order
//
// Three SQLite databases live under DATA_DIR:
// - config.db: strategy configurations
// - ledger.db: submitted orders and the decision log
// - cache.db: tick leases
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
		File:   cfg.LogFile,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Bool("testnet", cfg.Binance.Testnet).
		Str("price_source", cfg.Pricing.Source).
		Msg("Starting rebalancer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(log)

	container, _, err := di.Wire(ctx, cfg, sched, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// Closing flushes the WAL of every database
	defer container.Close()

	if container.BookFeed != nil {
		go container.BookFeed.Run(ctx)
		log.Info().Msg("Book ticker feed started")
	}

	var system *server.SystemHandlers
	if container.BookFeed != nil {
		system = server.NewSystemHandlers(log, container.Databases(), container.PriceService, container.BookFeed)
	} else {
		system = server.NewSystemHandlers(log, container.Databases(), container.PriceService, nil)
	}

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		System:  system,
		Handlers: []server.RouteRegistrar{
			rebalancinghandlers.NewHandler(container.RebalanceService, container.DecisionRepo, container.OrderRepo, log),
			portfoliohandlers.NewHandler(container.PortfolioService, log),
			strategyhandlers.NewHandler(container.StrategyRepo, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so no tick starts while the server drains
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
