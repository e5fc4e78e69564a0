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
	"github.com/taskmesh/taskmesh/internal/notify"
	"github.com/taskmesh/taskmesh/internal/server"
	"github.com/taskmesh/taskmesh/pkg/observability"
)

const (
	defaultGroup       = "notify"
	webhookSinkTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadNotifyConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Bus.Group == "" {
		cfg.Bus.Group = defaultGroup
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, "notify", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, "notify", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown)

	mp, err := observability.InitMeterProvider(ctx, "notify", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	slog.InfoContext(ctx, "starting notification consumer", "group", cfg.Bus.Group, "sink", cfg.SinkKind)

	pool, err := boot.OpenPool(ctx, cfg.Database, notify.Migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open notify database: %w", err)
	}
	defer pool.Close()

	busPool, err := boot.OpenBusPool(ctx, cfg.Bus)
	if err != nil {
		return fmt.Errorf("open bus pool: %w", err)
	}
	defer busPool.Close()
	b := bus.NewPostgresBus(busPool)

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}

	store := notify.New(pool)
	handler := notify.HandleReminderFire(store, sink, cfg.SinkKind)
	sub := b.Subscribe(events.TopicReminders, cfg.Bus.Group)
	loop := consumer.NewLoop(events.TopicReminders, cfg.Bus.Group, sub, handler, store, cfg.Bus)
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start consumer loop: %w", err)
	}
	defer loop.Stop()

	healthServer := &http.Server{Addr: ":" + cfg.Observability.MetricsPort, Handler: server.NewHealthRouter()}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "notify health server listening", "addr", healthServer.Addr)
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

func buildSink(cfg *config.NotifyConfig) (notify.Sink, error) {
	switch cfg.SinkKind {
	case "", "log":
		return notify.LogSink{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, errors.New("TASKMESH_NOTIFY_WEBHOOK_URL is required when TASKMESH_NOTIFY_SINK=webhook")
		}
		return notify.NewWebhookSink(cfg.WebhookURL, webhookSinkTimeout), nil
	default:
		return nil, fmt.Errorf("unknown notify sink kind %q", cfg.SinkKind)
	}
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "shutdown component", "error", err)
	}
}
