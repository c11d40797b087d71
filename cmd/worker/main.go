// Command worker consumes platform and monitor queues and executes jobs
// through the workflow engine. Production runs one process per platform via
// WORKER_QUEUES; the default consumes everything, which suits development.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/events/redpanda"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/linkcheck"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/notifier/slack"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/scraper/stub"
	redisstore "github.com/fairyhunter13/scan-orchestrator/internal/adapter/store/redis"
	"github.com/fairyhunter13/scan-orchestrator/internal/config"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/node"
	"github.com/fairyhunter13/scan-orchestrator/internal/scheduler"
	"github.com/fairyhunter13/scan-orchestrator/internal/service/ratelimiter"
	"github.com/fairyhunter13/scan-orchestrator/internal/worker"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	products := postgres.NewProductRepo(pool)

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

	buckets := make(map[string]ratelimiter.BucketConfig, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		buckets[p] = ratelimiter.NewBucketConfigFromPerMinute(cfg.ScrapeRatePerMin)
	}
	limiter := ratelimiter.NewRedisLuaLimiter(store.Client(), buckets)

	registry := workflow.NewRegistry()
	node.RegisterAll(registry, node.Deps{
		Products: products,
		Scraper:  &stub.Scraper{},
		Limiter:  limiter,
		Links:    linkcheck.New(0),
		Notifier: slack.New(cfg.SlackWebhookURL),
		Monitor:  monitorState,
	})

	platformConfigs := make(map[string]map[string]any, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		pc := map[string]any{"platform": p}
		if pattern, ok := linkPatterns[p]; ok {
			pc["link_url_pattern"] = pattern
		}
		platformConfigs[p] = pc
	}

	engine := workflow.NewEngine(queue, workflow.NewLoader(cfg.WorkflowDir), registry, workflow.NewSharedState(), platformConfigs)

	queues := workerQueues(cfg, tasks)
	slog.Info("worker starting", slog.Any("queues", queues))

	var wg sync.WaitGroup
	killed := make(chan struct{}, 1)
	for _, q := range queues {
		platform := ""
		if !strings.HasPrefix(q, cfg.MonitorQueuePrefix+":") {
			platform = q
		}
		w := worker.New(worker.Options{
			Queue:          q,
			Platform:       platform,
			IdleSleep:      cfg.WorkerIdleSleep,
			LockRetrySleep: cfg.WorkerLockRetrySleep,
		}, queue, locks, kills, schedState, events, engine, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); errors.Is(err, domain.ErrKilled) {
				select {
				case killed <- struct{}{}:
				default:
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-killed:
		// Exit non-zero so the supervisor relaunches a fresh process.
		slog.Info("kill flag observed, restarting")
		exitCode = 1
	}

	cancel()
	wg.Wait()
	os.Exit(exitCode)
}

// workerQueues resolves the queues this process consumes.
func workerQueues(cfg config.Config, tasks []config.MonitorTask) []string {
	if len(cfg.WorkerQueues) > 0 && cfg.WorkerQueues[0] != "" {
		return cfg.WorkerQueues
	}
	queues := make([]string, 0, len(cfg.Platforms)+len(tasks))
	queues = append(queues, cfg.Platforms...)
	for _, t := range tasks {
		queues = append(queues, scheduler.MonitorQueue(cfg.MonitorQueuePrefix, t.ID))
	}
	return queues
}
