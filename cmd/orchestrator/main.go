// Command orchestrator runs the scheduler loop, the monitor loop and the
// admin HTTP server in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/events/redpanda"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/notifier/slack"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/observability"
	redisstore "github.com/fairyhunter13/scan-orchestrator/internal/adapter/store/redis"
	"github.com/fairyhunter13/scan-orchestrator/internal/app"
	"github.com/fairyhunter13/scan-orchestrator/internal/config"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	tasks, err := cfg.ParseMonitorTasks()
	if err != nil {
		slog.Error("invalid monitor task list", slog.Any("error", err))
		os.Exit(1)
	}
	linkPatterns, err := cfg.ParseLinkURLPatterns()
	if err != nil {
		slog.Error("invalid link url patterns", slog.Any("error", err))
		os.Exit(1)
	}

	store := redisstore.NewStore(redisstore.Options{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		RetryMax:      cfg.StoreRetryMax,
		RetryInterval: cfg.StoreRetryInterval,
	})
	defer func() { _ = store.Close() }()

	queue := redisstore.NewJobQueue(store)
	locks := redisstore.NewPlatformLock(store, cfg.LockTTL)
	schedState := redisstore.NewSchedulerState(store)
	monitorState := redisstore.NewMonitorState(store)
	kills := redisstore.NewKillSwitch(store, cfg.KillFlagTTL)

	var events domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.JobEventsTopic)
		if err != nil {
			slog.Error("event producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				slog.Error("failed to close event producer", slog.Any("error", err))
			}
		}()
		events = producer
	}

	sched := scheduler.New(schedState, queue, locks, events, scheduler.Options{
		Platforms:            cfg.Platforms,
		LinkURLPatterns:      linkPatterns,
		CheckInterval:        cfg.CheckInterval,
		InterPlatformDelay:   cfg.InterPlatformDelay,
		SamePlatformCooldown: cfg.SamePlatformCooldown,
		OnSaleRatio:          cfg.OnSaleRatio,
		DefaultLimit:         cfg.DefaultLimit,
		DefaultBatchSize:     cfg.DefaultBatchSize,
		DefaultConcurrency:   cfg.DefaultConcurrency,
	}, logger)
	monitor := scheduler.NewMonitor(monitorState, queue, tasks, cfg.MonitorQueuePrefix, cfg.MonitorInterval, logger)

	watchQueues := make([]string, 0, len(cfg.Platforms)+len(tasks))
	watchQueues = append(watchQueues, cfg.Platforms...)
	for _, t := range tasks {
		watchQueues = append(watchQueues, scheduler.MonitorQueue(cfg.MonitorQueuePrefix, t.ID))
	}
	watcher := app.NewStuckJobWatcher(locks, slack.New(cfg.SlackWebhookURL), watchQueues, cfg.StuckJobMaxAge, cfg.StuckJobSweepInterval)

	srv := httpserver.NewServer(cfg, queue, locks, schedState, monitorState, kills, tasks)
	handler := app.BuildRouter(cfg, srv, app.BuildReadinessChecks(store, nil))

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); sched.Run(ctx) }()
	go func() { defer wg.Done(); monitor.Run(ctx) }()
	go func() { defer wg.Done(); watcher.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer shutdownCancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	wg.Wait()
}
