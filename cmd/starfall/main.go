// cmd/starfall/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/api"
	"github.com/LuminolMC/StarFall/internal/config"
	"github.com/LuminolMC/StarFall/internal/docstore"
	"github.com/LuminolMC/StarFall/internal/downloads"
	"github.com/LuminolMC/StarFall/internal/github"
	"github.com/LuminolMC/StarFall/internal/ledger"
	"github.com/LuminolMC/StarFall/internal/registry"
	"github.com/LuminolMC/StarFall/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully", "store_backend", cfg.StoreBackend)

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Open the document store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 5. Initialize application components
	app, err := newApp(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	// 6. Start the importer in a separate goroutine
	if len(cfg.SyncSources) > 0 {
		ghClient := github.NewClient(cfg.GithubToken, logger)
		if cfg.GithubBaseURL != "" {
			if err := ghClient.SetBaseURL(cfg.GithubBaseURL); err != nil {
				return fmt.Errorf("invalid GITHUB_BASE_URL: %w", err)
			}
		}
		appSyncer, err := syncer.NewSyncer(app.registry, app.ledger, ghClient, logger, cfg.SyncSources, cfg.SyncInterval, cfg.DefaultSyncSinceTime)
		if err != nil {
			return fmt.Errorf("failed to create syncer: %w", err)
		}
		go appSyncer.Start(ctx)
	}

	// 7. Serve HTTP until a shutdown signal arrives
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// app holds the wired core components and the router in front of them.
type app struct {
	registry  *registry.Registry
	ledger    *ledger.Ledger
	downloads *downloads.Catalog
	router    http.Handler
}

func newApp(ctx context.Context, cfg *config.Config, store docstore.Store, logger *slog.Logger) (*app, error) {
	policy := access.Policy{RequireIdentity: cfg.AuthRequireIdentity}

	projects, err := registry.NewRegistry(ctx, store, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create project registry: %w", err)
	}
	commits, err := ledger.NewLedger(ctx, store, projects, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit ledger: %w", err)
	}
	catalog, err := downloads.NewCatalog(ctx, store, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create download catalog: %w", err)
	}

	return &app{
		registry:  projects,
		ledger:    commits,
		downloads: catalog,
		router:    api.NewRouter(projects, commits, catalog, access.NewBearerAuthenticator(cfg.AuthToken), logger),
	}, nil
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (docstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		dbpool, err := pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("Database connection established")

		if err := runMigrations(cfg.MigrationsPath, cfg.DBURL); err != nil {
			dbpool.Close()
			return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		logger.Info("Database migrations applied successfully")
		return docstore.NewPostgresStore(dbpool), dbpool.Close, nil

	case config.BackendRedis:
		store, err := docstore.NewRedisStore(ctx, docstore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Database: cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connection established", "addr", cfg.RedisAddr)
		return store, closer(store, logger), nil

	case config.BackendBolt:
		store, err := docstore.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt database: %w", err)
		}
		logger.Info("Bolt database opened", "path", cfg.BoltPath)
		return store, closer(store, logger), nil

	default:
		logger.Warn("Using in-memory store, data is lost on exit")
		return docstore.NewMemoryStore(), func() {}, nil
	}
}

func closer(store docstore.Store, logger *slog.Logger) func() {
	return func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}
}

func runMigrations(source, dbURL string) error {
	m, err := migrate.New(source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
