package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/promptforge/promptforge/db"
	"github.com/promptforge/promptforge/internal/api"
	"github.com/promptforge/promptforge/internal/chat"
	"github.com/promptforge/promptforge/internal/config"
	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/observability"
	"github.com/promptforge/promptforge/internal/provider"
	"github.com/promptforge/promptforge/internal/session"
	"github.com/promptforge/promptforge/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 3 * time.Minute // streamed turns need headroom
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)
	logger.Info("starting promptforge", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := tools.Default()
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	handler, err := chat.New(chat.Config{
		Registry:        registry,
		Logger:          logger,
		HistoryWindow:   cfg.HistoryWindow,
		ToolConcurrency: cfg.ToolConcurrency,
	})
	if err != nil {
		return fmt.Errorf("creating chat handler: %w", err)
	}

	hub := session.NewHub(session.HubConfig{
		Processor:    handler,
		Client:       provider.NewClient(provider.Config{BaseURL: cfg.ProviderBaseURL, APIKey: cfg.ProviderAPIKey, Model: cfg.Model}),
		Store:        store,
		Logger:       logger,
		DefaultModel: cfg.Model,
		TurnTimeout:  time.Duration(cfg.TurnTimeoutSeconds) * time.Second,
	})

	apiServer, err := api.NewServer(api.ServerConfig{
		Hub:         hub,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"model", cfg.Model,
		"tools", registry.Count(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// buildStore selects the session store: PostgreSQL when DATABASE_URL is
// configured (running migrations first), in-memory otherwise.
func buildStore(ctx context.Context, cfg *config.Config, logger log.Logger) (session.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no database configured, sessions are in-memory only")
		return session.NewMemoryStore(), func() {}, nil
	}

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("session persistence enabled", "backend", "postgres")
	return session.NewPGStore(pool, logger), pool.Close, nil
}
