package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/labelscan/internal/api/handler"
	"github.com/cuongbtq/labelscan/internal/api/router"
	"github.com/cuongbtq/labelscan/internal/bootstrap"
	"github.com/cuongbtq/labelscan/internal/config"
	"github.com/cuongbtq/labelscan/internal/submission"
	"github.com/cuongbtq/labelscan/internal/worker"
	"github.com/cuongbtq/labelscan/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Bool("embedded_worker", cfg.Worker.Embedded),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Open(ctx, cfg, appLogger.Logger, cfg.App.Name)
	if err != nil {
		return err
	}
	defer services.Close()

	coordinator := submission.New(
		services.Cache,
		services.Tracker,
		services.Broker,
		services.Inflight,
		bootstrap.SubmissionConfig(&cfg.Submission),
		appLogger.Logger,
	)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, coordinator, services.Checks)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown",
				slog.Any("error", err),
			)
			return err
		}
		appLogger.Info("Server shutdown complete")
		return nil
	})

	if cfg.Worker.Embedded {
		runner, closeRunner, err := bootstrap.NewRunner(ctx, &cfg.Pipeline, appLogger.Logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer closeRunner()

		w := worker.NewWorker(bootstrap.WorkerConfig(&cfg.Worker, services, runner, appLogger.Logger))
		g.Go(func() error {
			err := w.Run(gctx, cfg.Worker.ShutdownTimeout)
			if errors.Is(err, worker.ErrShutdownTimeout) {
				return nil
			}
			return err
		})
	}

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	return g.Wait()
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, coordinator handler.Coordinator, checks map[string]func(ctx context.Context) error) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	healthChecks := make(map[string]handler.HealthCheck, len(checks))
	for name, check := range checks {
		healthChecks[name] = check
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:         logger,
		ServiceName:    cfg.App.Name,
		Coordinator:    coordinator,
		HealthChecks:   healthChecks,
		MaxUploadBytes: cfg.Submission.MaxUploadBytes,
		RateLimit:      cfg.Submission.RateLimit.RequestsPerSecond,
		RateBurst:      cfg.Submission.RateLimit.Burst,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
