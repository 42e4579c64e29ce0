package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solar-platform/internal/app"
	"solar-platform/internal/config"
	"solar-platform/internal/handlers"
	"solar-platform/internal/repository"
	"solar-platform/internal/services"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("solar-api", version, app.LogLevel(cfg))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting solar platform API server", logging.Fields{
		"version":        version,
		"server_host":    cfg.Server.Host,
		"server_port":    cfg.Server.Port,
		"db_host":        cfg.Database.Host,
		"db_name":        cfg.Database.Database,
		"climate_source": cfg.Climate.Source,
		"tariff_source":  cfg.Tariff.Source,
	})

	metricsCollector := metrics.NewCollector("solar_platform", nil)

	db, err := database.NewPostgresDB(app.DatabaseConfig(cfg), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	redisClient, err := app.NewRedisClient(ctx, cfg)
	if err != nil {
		// The shared tier is optional; memory and PostgreSQL still cache.
		logger.Warn(ctx, "[STARTUP_REDIS_UNAVAILABLE] Running without redis cache tier", logging.Fields{
			"error": err.Error(),
		})
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	stack, err := app.NewStack(cfg, app.Deps{
		DB:         db,
		Redis:      redisClient,
		HTTPClient: &http.Client{Timeout: 2 * cfg.Climate.Timeout},
		Logger:     logger,
		Metrics:    metricsCollector,
	})
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to assemble simulation engine", logging.Fields{}, err)
	}

	// Initialize repositories
	simulationRepo := repository.NewSimulationRepository(db, logger, metricsCollector)
	tariffRepo := repository.NewTariffRepository(db, logger, metricsCollector)

	// Initialize services
	simulationService := services.NewSimulationService(stack.Engine, simulationRepo, logger, metricsCollector)
	quoteService := services.NewQuoteService(simulationRepo, logger, metricsCollector)
	tariffService := services.NewTariffService(tariffRepo, logger, metricsCollector)

	// Initialize handlers
	simulationHandler := handlers.NewSimulationHandler(
		simulationService,
		quoteService,
		tariffService,
		stack.Financing,
		db,
		logger,
		metricsCollector,
	)

	// Setup router
	router := mux.NewRouter()
	simulationHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	var limiter *handlers.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = handlers.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, metricsCollector)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handlers.Chain(router, logger, limiter, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
