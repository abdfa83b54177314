// File: cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iyunix/internist-hub/internal/config"
	"github.com/iyunix/internist-hub/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: configuration: %v", err)
	}

	logger := services.NewLogger("internist-hub")
	if cfg.JWTSecretKey == "" {
		logger.Warn("JWT_SECRET_KEY not set, using the development secret")
	}

	app, err := NewApplication(cfg, logger)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize application: %v", err)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Hub.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr(), "env", cfg.Environment, "policy", cfg.ChatAccessPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// The hub goes first so every socket gets 1001 before the listener closes.
		if err := app.Hub.Shutdown(shutdownCtx); err != nil {
			logger.Warn("hub shutdown incomplete", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return
	}
	logger.Info("server stopped gracefully")
}
