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

	"github.com/spf13/pflag"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/config"
	"github.com/dukerupert/timeline/internal/database"
	"github.com/dukerupert/timeline/internal/layout"
	"github.com/dukerupert/timeline/internal/logging"
	"github.com/dukerupert/timeline/internal/server"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv := server.New(db, server.Options{
		Layout: layout.Options{
			Scales:   cfg.Layout.Scales,
			MinWidth: cfg.Layout.MinWidth,
			MaxSpan:  cfg.Layout.MaxSpan,
			CacheTTL: cfg.Cache.TTL,
		},
		RecurrenceSafetyCap: cfg.Recurrence.SafetyCap,
		RateLimit:           cfg.RateLimit.Requests,
		RateWindow:          cfg.RateLimit.Window,
		OriginPatterns:      cfg.WebSocket.OriginPatterns,
	}, clock.Real(), logger)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodic cleanup of expired layout cache entries and rate-limit windows
	go func() {
		ticker := time.NewTicker(cfg.Cache.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("timeline running", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
