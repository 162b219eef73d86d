package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"freshrecipe/internal/analysis"
	"freshrecipe/internal/api"
	"freshrecipe/internal/config"
	"freshrecipe/internal/db"
	"freshrecipe/internal/logging"
	"freshrecipe/internal/platform/aiopenai"
	"freshrecipe/internal/platform/anthropic"
	"freshrecipe/internal/platform/gemini"
	"freshrecipe/internal/platform/openrouter"
	"freshrecipe/internal/recipe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.json", ".env")
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, closeCompleter, err := newCompleter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCompleter()

	store, closeStore, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := analysis.NewService(completer, store, analysis.Config{
		MaxWidth: cfg.ImageMaxWidth,
		Timeout:  cfg.AITimeout,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(svc, cfg.MaxUploadBytes, logger), cfg.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "ai_backend", cfg.AIBackend, "store_backend", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newCompleter builds the configured completion backend.
func newCompleter(ctx context.Context, cfg *config.Config) (analysis.Completer, func(), error) {
	noop := func() {}

	switch cfg.AIBackend {
	case config.BackendOpenRouter:
		return openrouter.NewClient(openrouter.Config{
			APIKey:      cfg.AIAPIKey,
			BaseURL:     cfg.AIBaseURL,
			Model:       cfg.AIModel,
			MaxTokens:   cfg.AIMaxTokens,
			Temperature: cfg.AITemperature,
			Referer:     cfg.AIReferer,
			Title:       cfg.AITitle,
		}), noop, nil
	case config.BackendOpenAI:
		return aiopenai.NewClient(aiopenai.Config{
			APIKey:      cfg.AIAPIKey,
			BaseURL:     cfg.AIBaseURL,
			Model:       cfg.AIModel,
			MaxTokens:   cfg.AIMaxTokens,
			Temperature: cfg.AITemperature,
		}), noop, nil
	case config.BackendGemini:
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.AIAPIKey,
			Model:       cfg.AIModel,
			MaxTokens:   cfg.AIMaxTokens,
			Temperature: cfg.AITemperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, closer(client, "gemini client"), nil
	case config.BackendAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.AIAPIKey,
			BaseURL:     cfg.AIBaseURL,
			Model:       cfg.AIModel,
			MaxTokens:   cfg.AIMaxTokens,
			Temperature: cfg.AITemperature,
		}), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown AI_BACKEND %q", cfg.AIBackend)
	}
}

// newStore opens the configured result store, running migrations for SQL
// backends.
func newStore(cfg *config.Config) (recipe.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return recipe.NewMemoryStore(), func() {}, nil
	case config.StorePostgres:
		conn, err := db.Open(db.DriverPostgres, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return recipe.NewSQLStore(conn), closer(conn, "database"), nil
	case config.StoreSQLite:
		conn, err := db.Open(db.DriverSQLite, db.SQLitePath(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, err
		}
		return recipe.NewSQLStore(conn), closer(conn, "database"), nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func closer(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Error("failed to close "+name, "error", err)
		}
	}
}
