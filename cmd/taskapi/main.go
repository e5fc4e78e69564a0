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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/auth"
	"github.com/taskmesh/taskmesh/internal/boot"
	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/deadletter"
	"github.com/taskmesh/taskmesh/internal/lease"
	"github.com/taskmesh/taskmesh/internal/outbox"
	"github.com/taskmesh/taskmesh/internal/postgres/taskdb"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/taskapi"
	"github.com/taskmesh/taskmesh/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadTaskAPIConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, "taskapi", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, "taskapi", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown)

	mp, err := observability.InitMeterProvider(ctx, "taskapi", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	slog.InfoContext(ctx, "starting taskapi")

	pool, err := boot.OpenPool(ctx, cfg.Database, taskdb.Migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open task database: %w", err)
	}
	defer pool.Close()

	busPool, err := boot.OpenBusPool(ctx, cfg.Bus)
	if err != nil {
		return fmt.Errorf("open bus pool: %w", err)
	}
	defer busPool.Close()
	b := bus.NewPostgresBus(busPool)

	store := taskdb.New(pool)
	sched := scheduler.New(pool)
	svc := taskapi.New(store, sched, reminderCallbackBaseURL(cfg.HTTP), time.Now)
	handlers := taskapi.NewHandlers(svc)
	validator := auth.NewValidator(cfg.Auth.JWTSigningSecret)

	router := taskapi.NewRouter(handlers, validator, cfg.HTTP.MaxBodyBytes)

	leaseMgr := lease.New(pool)
	holderID := holderIdentity()

	outboxStore := outbox.NewPostgresStore(pool)
	dispatcher := outbox.NewDispatcher(outboxStore, b, cfg.Outbox).WithLease(leaseMgr, holderID)
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start outbox dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	worker := scheduler.NewWorker(pool, cfg.Scheduler).WithLease(leaseMgr, holderID)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler worker: %w", err)
	}
	defer worker.Stop()

	adminPools, closeAdmin, err := openAdminPools(ctx, cfg.Admin)
	if err != nil {
		return fmt.Errorf("open admin dead letter pools: %w", err)
	}
	defer closeAdmin()
	registry := deadletter.NewRegistry()
	for name, p := range adminPools {
		registry.Register(name, deadletter.New(p))
	}
	taskapi.MountAdmin(router, deadletter.NewHandlers(registry, b))

	server := &http.Server{
		Addr:              cfg.HTTP.Host + ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "task api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// reminderCallbackBaseURL is where the scheduler posts reminder callbacks
// back to this process. cfg.Host is typically a bind address (0.0.0.0) that
// isn't dialable; loopback is what a process can always reach itself on.
func reminderCallbackBaseURL(cfg config.HTTPConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s", host, cfg.Port)
}

func holderIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("taskapi-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// openAdminPools opens one pool per configured (non-empty DSN) dead letter
// source. A source with no DSN is simply absent: the admin surface reports
// it unavailable instead of failing Task API startup.
func openAdminPools(ctx context.Context, cfg config.AdminConfig) (map[string]*pgxpool.Pool, func(), error) {
	sources := map[string]string{
		"audit":  cfg.AuditDB,
		"notify": cfg.NotifyDB,
		"regen":  cfg.RegenDB,
	}
	pools := map[string]*pgxpool.Pool{}
	closeAll := func() {
		for _, p := range pools {
			p.Close()
		}
	}
	for name, dsn := range sources {
		if dsn == "" {
			slog.WarnContext(ctx, "dead letter admin source not configured", "source", name)
			continue
		}
		pool, err := boot.OpenAdminSourcePool(ctx, dsn)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open %s admin pool: %w", name, err)
		}
		pools[name] = pool
	}
	return pools, closeAll, nil
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "shutdown component", "error", err)
	}
}
