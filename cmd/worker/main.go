package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/orderpoint/internal/cache"
	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/config"
	"github.com/andresuchdata/orderpoint/internal/cron"
	"github.com/andresuchdata/orderpoint/internal/forecast"
	"github.com/andresuchdata/orderpoint/internal/leadtime"
	"github.com/andresuchdata/orderpoint/internal/replenish"
	"github.com/andresuchdata/orderpoint/internal/repository/postgres"
	"github.com/andresuchdata/orderpoint/internal/rules"
	"github.com/andresuchdata/orderpoint/pkg/logger"
)

// Version is stamped at build time and gated against the module
// registry before each pass.
var Version = "1.0"

// pollInterval is the fallback wake-up when no notification arrives:
// schedules computed on another host must still run here.
const pollInterval = time.Minute

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.Server.Mode)
	workerLog := logger.WithComponent("worker")

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	forecastCache, err := cache.NewForecastCache(cfg.Cache)
	if err != nil {
		workerLog.Warn().Err(err).Msg("forecast cache unavailable, running uncached")
		forecastCache = cache.NewNoopForecastCache()
	} else if err := forecastCache.InvalidateAll(context.Background()); err != nil {
		// Entries cached by a previous process may predate schema or
		// config changes; start the cycle from live stock data.
		workerLog.Warn().Err(err).Msg("failed to flush forecast cache at startup")
	}

	clk := clock.System()

	// Repositories.
	cronStore := postgres.NewCronStore(db)
	moduleStore := postgres.NewModuleStore(db)
	orderpoints := postgres.NewOrderpointRepository(db)
	stock := cache.NewCachedStockQuerier(postgres.NewStockRepository(db), forecastCache)
	products := postgres.NewProductRepository(db)
	locations := postgres.NewLocationRepository(db)
	ruleReader := postgres.NewRuleRepository(db)
	supplyOrders := cache.NewInvalidatingSupplyWriter(postgres.NewSupplyOrderRepository(db), forecastCache)
	activities := postgres.NewActivityRepository(db)

	// Replenishment pipeline.
	selector := rules.NewSelector(ruleReader, locations)
	engine := rules.NewEngine(selector, products, locations, rules.NewSupplyRunner(supplyOrders), logger.WithComponent("rules"))
	resolver := leadtime.NewResolver(selector, clk)
	forecaster := forecast.NewEngine(stock, resolver, clk, cfg.Stock.VisibilityDays)
	orchestrator := replenish.NewOrchestrator(orderpoints, products, locations, stock, forecaster, engine, ruleReader, activities, clk, logger.WithComponent("replenish"))

	// Scheduler.
	registry := cron.NewRegistry()
	registry.MustRegister(cron.VacuumActionName, cron.NewVacuumAction(cronStore, clk))
	replenish.RegisterActions(registry, orchestrator)

	executor := cron.NewExecutor(cronStore, registry, clk, cfg.Cron, cron.LogAdminNotifier{Log: workerLog}, workerLog)
	scheduler := cron.NewScheduler(cronStore, moduleStore, executor, registry, clk, Version, workerLog)

	listener, err := cron.NewListener(cfg.Database.ConnString(), db.Name(), workerLog)
	if err != nil {
		log.Fatalf("Failed to start trigger listener: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	workerLog.Info().
		Str("version", Version).
		Str("database", db.Name()).
		Strs("actions", registry.Names()).
		Msg("cron worker started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := scheduler.ProcessJobs(ctx, cfg.Cron.SoftLimit()); err != nil {
			workerLog.Error().Err(err).Msg("cron pass failed")
		}

		select {
		case <-quit:
			workerLog.Info().Msg("cron worker shutting down")
			return
		case <-listener.Wake():
			// Another session queued a trigger; run a pass right away.
		case <-ticker.C:
		}
	}
}
