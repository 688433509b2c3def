package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/webgpt-go/internal/cache"
	"github.com/comigor/webgpt-go/internal/completion"
	"github.com/comigor/webgpt-go/internal/config"
	"github.com/comigor/webgpt-go/internal/llm"
	"github.com/comigor/webgpt-go/internal/logger"
	"github.com/comigor/webgpt-go/internal/metrics"
	"github.com/comigor/webgpt-go/internal/server"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("webgpt exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)
	logger.L.Info("starting demo", "model", cfg.LLM.Model, "base_url", cfg.LLM.BaseURL)

	m := metrics.New("webgpt")

	// Initialize completion client
	policy := completion.PolicyFromConfig(cfg.Retry)
	completer := completion.New(
		llm.NewClient(cfg.LLM),
		cfg.LLM.Model,
		policy,
		completion.WithMetrics(m),
	)

	// The cache is optional and unrelated to the chat flow.
	store, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.New(completer, store, m).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), policy.Timeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
