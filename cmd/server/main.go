package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/orderpoint/internal/api"
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

// Version is stamped at build time; the ops API checks it against the
// module registry the same way the worker does.
var Version = "1.0"

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.Server.Mode)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	forecastCache, err := cache.NewForecastCache(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("forecast cache unavailable, running uncached")
		forecastCache = cache.NewNoopForecastCache()
	}

	clk := clock.System()

	cronStore := postgres.NewCronStore(db)
	moduleStore := postgres.NewModuleStore(db)
	orderpoints := postgres.NewOrderpointRepository(db)
	stock := cache.NewCachedStockQuerier(postgres.NewStockRepository(db), forecastCache)
	products := postgres.NewProductRepository(db)
	locations := postgres.NewLocationRepository(db)
	ruleReader := postgres.NewRuleRepository(db)
	supplyOrders := cache.NewInvalidatingSupplyWriter(postgres.NewSupplyOrderRepository(db), forecastCache)
	activities := postgres.NewActivityRepository(db)

	selector := rules.NewSelector(ruleReader, locations)
	engine := rules.NewEngine(selector, products, locations, rules.NewSupplyRunner(supplyOrders), logger.WithComponent("rules"))
	resolver := leadtime.NewResolver(selector, clk)
	forecaster := forecast.NewEngine(stock, resolver, clk, cfg.Stock.VisibilityDays)
	orchestrator := replenish.NewOrchestrator(orderpoints, products, locations, stock, forecaster, engine, ruleReader, activities, clk, logger.WithComponent("replenish"))

	// The API shares the worker's registry so triggered jobs validate
	// against the same action set.
	registry := cron.NewRegistry()
	registry.MustRegister(cron.VacuumActionName, cron.NewVacuumAction(cronStore, clk))
	replenish.RegisterActions(registry, orchestrator)

	apiLog := logger.WithComponent("api")
	executor := cron.NewExecutor(cronStore, registry, clk, cfg.Cron, cron.LogAdminNotifier{Log: apiLog}, apiLog)
	scheduler := cron.NewScheduler(cronStore, moduleStore, executor, registry, clk, Version, apiLog)

	router := api.NewRouter(&api.Services{
		Orderpoints:  orderpoints,
		Orchestrator: orchestrator,
		CronStore:    cronStore,
		Scheduler:    scheduler,
	}, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
