package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/scholarfinder/reviewflow/internal/cache"
	"github.com/scholarfinder/reviewflow/internal/config"
	"github.com/scholarfinder/reviewflow/internal/gateway/handler"
	"github.com/scholarfinder/reviewflow/internal/gateway/router"
	"github.com/scholarfinder/reviewflow/internal/jobstore"
	"github.com/scholarfinder/reviewflow/internal/scholarfinder"
	"github.com/scholarfinder/reviewflow/internal/workflow"
	"github.com/scholarfinder/reviewflow/shared/events"
	"github.com/scholarfinder/reviewflow/shared/logger"
	"github.com/scholarfinder/reviewflow/shared/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// retryingSink emits workflow events through the publisher's retry policy;
// the coordinator still treats publish failures as non-fatal
type retryingSink struct {
	publisher *events.Publisher
}

func (s retryingSink) Publish(ctx context.Context, routingKey string, body []byte) error {
	return s.publisher.PublishWithRetry(ctx, routingKey, body)
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("REVIEWFLOW_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/reviewflow/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting reviewflow gateway",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("remote_base_url", cfg.Remote.BaseURL),
	)

	// Initialize the durable job-identity store
	dbClient, err := sqlite.NewClient(&sqlite.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: cfg.Store.BusyTimeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store database: %w", err)
	}

	store, err := jobstore.New(dbClient, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize job store: %w", err)
	}

	appLogger.Info("Job identity store ready",
		slog.String("path", cfg.Store.Path),
	)

	// Initialize the response cache
	responseCache, err := cache.New(cfg.CacheTable(), appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	// Initialize the remote API client
	client := scholarfinder.NewClient(&scholarfinder.Config{
		BaseURL:      cfg.Remote.BaseURL,
		HeavyTimeout: cfg.Remote.Timeout.Heavy,
		LightTimeout: cfg.Remote.Timeout.Light,
		Retry: scholarfinder.RetryPolicy{
			MaxAttempts: cfg.Remote.Retry.MaxAttempts,
			BaseDelay:   cfg.Remote.Retry.BaseDelay,
			MaxDelay:    cfg.Remote.Retry.MaxDelay,
		},
		Upload: scholarfinder.UploadPolicy{
			MaxSizeBytes:      int64(cfg.Remote.Upload.MaxSizeMB) << 20,
			AllowedExtensions: cfg.Remote.Upload.AllowedExtensions,
		},
	}, appLogger.Logger)

	// Initialize the optional workflow event publisher
	var sink workflow.EventSink
	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher, err = initEvents(&cfg.Events, appLogger.Logger)
		if err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		sink = retryingSink{publisher: publisher}
		appLogger.Info("Workflow event stream ready",
			slog.String("exchange", cfg.Events.Exchange),
			slog.Bool("connected", publisher.IsConnected()),
		)
	}

	// Wire the workflow coordinator
	coordinator := workflow.NewCoordinator(&workflow.CoordinatorConfig{
		Client:       client,
		Cache:        responseCache,
		Store:        store,
		Events:       sink,
		PollInterval: cfg.Polling.Interval,
		PollBudget:   cfg.Polling.Budget,
	}, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, coordinator)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Reviewflow gateway is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if publisher != nil {
			publisher.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
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

// initEvents initializes the workflow event publisher
func initEvents(cfg *config.EventsConfig, logger *slog.Logger) (*events.Publisher, error) {
	eventsConfig := &events.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange,
		ExchangeType:       "topic",
		ExchangeDurable:    true,
		RetryAttempts:      cfg.RetryAttempts,
		RetryInterval:      cfg.RetryInterval,
		Heartbeat:          cfg.Heartbeat,
		PublishRetries:     cfg.PublishRetries,
		PublishRetryDelay:  cfg.PublishRetryDelay,
		PublishBackoffMult: cfg.PublishBackoffMult,
	}

	return events.NewPublisher(eventsConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, coordinator *workflow.Coordinator) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:      logger,
		Coordinator: coordinator,
	}

	return router.SetupRouter(handlerDeps)
}
