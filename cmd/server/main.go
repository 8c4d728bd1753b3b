/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, environment and command-line flags
  2. Create logger and metrics
  3. Open the document store (memory, SQLite or PostgreSQL)
  4. Guard it with a circuit breaker
  5. Create the transaction service and migrate legacy records
  6. Configure HTTP router and the maintenance scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port          HTTP server port (PORT, default: 8080)
  -store         memory | sqlite | postgres (STORE_DRIVER, default: sqlite)
  -db            SQLite database path (SQLITE_PATH)
                 Use ":memory:" for in-memory database
  -database-url  PostgreSQL connection string (DATABASE_URL)
  -log-level     debug | info | warn | error (LOG_LEVEL)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Stop the maintenance scheduler
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/points.db"

  # Run with PostgreSQL
  ./server -store=postgres -database-url="postgres://points@localhost/points"

  # Run in memory on a different port
  ./server -store=memory -port=3000

SEE ALSO:
  - internal/config/config.go: Environment variables
  - api/server.go: Router configuration
  - compras/service.go: Transaction service
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/compras"
	"github.com/warp/points-engine/internal/config"
	"github.com/warp/points-engine/internal/observability"
	"github.com/warp/points-engine/internal/resilience"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/ledger/store"
	"github.com/warp/points-engine/store/postgres"
	"github.com/warp/points-engine/store/sqlite"
)

// backend is what every store driver provides.
type backend interface {
	ledger.DocumentStore
	ledger.CommissionLedger
	api.Resetter
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg := config.Load()

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "Store driver: memory, sqlite or postgres")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.Parse()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	metrics := observability.NewMetrics()

	// Initialize store
	raw, ping, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	guarded := resilience.Guard(raw, resilience.Config{
		Name:          "document-store",
		CallTimeout:   cfg.StoreTimeout,
		MaxFailures:   uint32(cfg.BreakerMaxFailures),
		OpenTimeout:   cfg.BreakerOpenTimeout,
		OnStateChange: func(name string, open bool) {
			metrics.SetBreakerOpen(name, open)
			logger.Warn("circuit breaker state changed", zap.String("breaker", name), zap.Bool("open", open))
		},
	})

	pricing := cfg.Pricing()
	svc := compras.NewService(guarded, compras.Options{
		Pricing:     &pricing,
		MaxPageSize: cfg.MaxPageSize,
		Commissions: raw,
		Logger:      logger,
		Metrics:     metrics,
	})

	if cfg.MigrateOnStart {
		if _, err := svc.MigrateLegacy(context.Background()); err != nil {
			logger.Warn("legacy migration failed", zap.Error(err))
		}
	}

	// Initialize handler
	handler := api.NewHandler(svc, logger)
	handler.Commissions = raw
	handler.Resetter = raw

	routerOpts := api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics,
		Ping:        ping,
	}
	if b, ok := guarded.(interface{ State() string }); ok {
		routerOpts.BreakerState = b.State
	}
	router := api.NewRouter(handler, routerOpts)

	scheduler := api.NewMaintenanceScheduler(svc, logger, cfg.MaintenanceInterval)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("store", cfg.StoreDriver),
			zap.String("api", fmt.Sprintf("http://localhost:%d/api", cfg.Port)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("server stopped")
}

// openStore opens the configured driver. ping is nil for the memory store.
func openStore(ctx context.Context, cfg *config.Config) (backend, func(context.Context) error, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewTxMemory(), nil, func() {}, nil
	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, nil, nil, err
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, func() { s.Close() }, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, s.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
