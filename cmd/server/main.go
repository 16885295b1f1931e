package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderoom/internal/auth"
	"coderoom/internal/config"
	"coderoom/internal/events"
	"coderoom/internal/jobs"
	"coderoom/internal/routers"
	"coderoom/internal/session"
	"coderoom/internal/store"
	"coderoom/internal/utils"
)

const shutdownTimeout = 30 * time.Second

var (
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	exitFunc       = defaultExit
	exit           = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	log.Printf("coderoom exited: %v", err)
	exit(1)
}

// run serves until ctx is cancelled or the listener fails, then drains the
// hub so pending autosaves reach the store.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := utils.NewLoggerWithLevel(cfg.LogLevel)
	defer logger.Sync()

	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("document store close failed", "error", err.Error())
		}
	}()

	var publisher events.Publisher = events.Nop{}
	if cfg.RedisAddr != "" {
		publisher = events.NewRedisPublisher(cfg.RedisAddr)
		logger.Info("publishing document events", "redis", cfg.RedisAddr)
	}
	defer func() { _ = publisher.Close() }()

	hub := session.NewHub(st, publisher, logger, session.Options{
		AutosaveDelay:   cfg.AutosaveDelay,
		PersistTimeout:  cfg.PersistTimeout,
		DefaultDocument: cfg.DefaultDocument,
	})
	defer func() {
		if err := hub.Close(); err != nil {
			logger.Error("flushing autosaves failed", "error", err.Error())
		}
	}()

	reaper := jobs.NewRoomReaperJob(hub, cfg.ReapSchedule, logger)
	if err := reaper.Start(); err != nil {
		return err
	}
	defer reaper.Stop()

	gate := auth.NewGate(auth.NewJWTProvider(cfg.JWTSecret), logger)
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: routers.New(logger, gate, hub, routers.Options{
			FrontendOrigin: cfg.FrontendOrigin,
			SendBuffer:     cfg.SendBuffer,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coderoom listening", "addr", srv.Addr, "store", cfg.StoreDriver)
		errCh <- listenAndServe(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("coderoom shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
