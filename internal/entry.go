// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/minicycle/internal/api"
	"github.com/starford/minicycle/internal/engine"
	"github.com/starford/minicycle/internal/mcpserver"
	"github.com/starford/minicycle/internal/sse"
	"github.com/starford/minicycle/internal/state"
	"github.com/starford/minicycle/internal/storage"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	return newLogger(a.logOutput, a.config.App.LogLevel)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Run starts the HTTP daemon with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	provider, closeProvider, err := OpenProvider(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer closeProvider()

	// SSE broker observes the store from the first event on.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	eng := engine.New(provider, cfg.Engine(),
		engine.WithLogger(logger),
		engine.WithObserver(broker),
	)
	apiRouter := api.NewRouter(eng, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", readyHandler(eng))

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)

	// API requests wait for the document; /health/ready reports loading.
	g.Go(func() error {
		if err := eng.Boot(gCtx); err != nil {
			return fmt.Errorf("boot engine: %w", err)
		}
		logger.Info("Document loaded", slog.String("status", eng.Store().Status().String()))
		return nil
	})

	// Report edits made to the data directory by other processes.
	if fs, ok := provider.(*storage.FS); ok && cfg.Watch.Enabled {
		g.Go(func() error {
			err := storage.Watch(gCtx, fs, logger, broker.PublishStorageChange)
			if err != nil {
				logger.Warn("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		logger.Info("Shutting down server...")

		// Streaming clients hold connections open; release them first.
		broker.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	waitErr := g.Wait()
	if err := eng.Shutdown(); err != nil {
		logger.Error("Engine shutdown error", slog.String("error", err.Error()))
		waitErr = errors.Join(waitErr, err)
	}
	if waitErr != nil {
		logger.Error("Application error", slog.String("error", waitErr.Error()))
		return waitErr
	}

	logger.Info("Server stopped successfully")
	return nil
}

func readyHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch eng.Store().Status() {
		case state.StatusReady:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case state.StatusDegraded:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"read-only"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
		}
	}
}

// RunMCP serves the MCP tools on stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()
	slog.SetDefault(logger)

	provider, closeProvider, err := OpenProvider(app.config.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer closeProvider()

	eng := engine.New(provider, app.config.Engine(), engine.WithLogger(logger))
	if err := eng.Boot(ctx); err != nil {
		return fmt.Errorf("boot engine: %w", err)
	}

	serveErr := mcpserver.New(eng).ServeStdio()
	return errors.Join(serveErr, eng.Shutdown())
}
