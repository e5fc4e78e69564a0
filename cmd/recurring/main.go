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

	"github.com/taskmesh/taskmesh/internal/boot"
	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/consumer"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/regen"
	"github.com/taskmesh/taskmesh/internal/server"
	"github.com/taskmesh/taskmesh/pkg/observability"
)

const defaultGroup = "regen"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadRecurConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Bus.Group == "" {
		cfg.Bus.Group = defaultGroup
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, "recurring", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, "recurring", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown)

	mp, err := observability.InitMeterProvider(ctx, "recurring", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	slog.InfoContext(ctx, "starting recurring regenerator", "group", cfg.Bus.Group)

	pool, err := boot.OpenPool(ctx, cfg.Database, regen.Migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open regen database: %w", err)
	}
	defer pool.Close()

	busPool, err := boot.OpenBusPool(ctx, cfg.Bus)
	if err != nil {
		return fmt.Errorf("open bus pool: %w", err)
	}
	defer busPool.Close()
	b := bus.NewPostgresBus(busPool)

	store := regen.New(pool)
	client := regen.NewTaskAPIClient(*cfg)
	handler := regen.HandleTaskCompleted(store, client)
	sub := b.Subscribe(events.TopicTaskEvents, cfg.Bus.Group)
	loop := consumer.NewLoop(events.TopicTaskEvents, cfg.Bus.Group, sub, handler, store, cfg.Bus)
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start consumer loop: %w", err)
	}
	defer loop.Stop()

	healthServer := &http.Server{Addr: ":" + cfg.Observability.MetricsPort, Handler: server.NewHealthRouter()}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "recurring regenerator health server listening", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve health server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "shutdown component", "error", err)
	}
}
