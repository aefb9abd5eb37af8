package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/psiqueia/psique-chat/internal/api"
	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/config"
	"github.com/psiqueia/psique-chat/internal/kv"
	"github.com/psiqueia/psique-chat/internal/logger"
	"github.com/psiqueia/psique-chat/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	if cfg.Auth.JWTSecret == "" {
		logger.L.Error("auth.jwt_secret is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		logger.L.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := chat.NewService(store, chat.Options{
		CountSenderUnread: cfg.Chat.CountSenderUnread,
		WriteRetries:      cfg.Chat.WriteRetries,
	}, chat.LogAlerter)

	// repair conversations left half-written by an earlier failure
	reconciler := session.NewPoller(cfg.Chat.ReconcileInterval, func() {
		n, err := svc.ReconcileAll(ctx)
		if err != nil {
			logger.L.Warn("reconcile sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.L.Info("reconciled conversations", "count", n)
		}
	})
	reconciler.Start()
	defer reconciler.Stop()

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           api.New(svc, cfg.Auth.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.L.Warn("server shutdown", "error", err)
		}
	}()

	logger.L.Info("starting server", "address", serverAddr, "storage", cfg.Storage.Driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.L.Error("failed to start server", "error", err)
	}
}
