// Package main provides the campaign scheduler service: a durable job
// queue, cron-driven periodic checks, a pub/sub bridge for reactive
// recalculation, and the domain handlers that carry out campaign world
// simulation work.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jakekausler/campaign-scheduler/internal/config"
	"github.com/jakekausler/campaign-scheduler/internal/cron"
	"github.com/jakekausler/campaign-scheduler/internal/dispatcher"
	"github.com/jakekausler/campaign-scheduler/internal/domain"
	"github.com/jakekausler/campaign-scheduler/internal/graphqlclient"
	"github.com/jakekausler/campaign-scheduler/internal/health"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/logger"
	"github.com/jakekausler/campaign-scheduler/internal/pubsub"
	"github.com/jakekausler/campaign-scheduler/internal/queue"
)

// shutdownDeadline bounds graceful shutdown per spec.md §4.10; exceeding it
// forces a nonzero exit instead of hanging.
const shutdownDeadline = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	mainLog := log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)
	mainLog.Info("scheduler starting", "node_env", cfg.NodeEnv, "redis_url", cfg.RedisURL, "api_url", cfg.APIURL)

	go runPprof(cfg.PprofPort, mainLog)

	// --- GraphQL client ---
	gqlClient := graphqlclient.New(graphqlclient.Config{
		Endpoint:                 cfg.APIURL,
		ServiceAccountToken:      cfg.APIServiceAccountToken,
		RequestTimeout:           cfg.APIRequestTimeoutMS,
		CircuitBreakerThreshold:  cfg.APICircuitBreakerThreshold,
		CircuitBreakerResetAfter: cfg.APICircuitBreakerDurationMS,
	})
	defer gqlClient.Close()

	// --- Queue ---
	redisQueue, err := queue.NewRedisQueue(cfg.RedisURL, cfg.QueueMaxRetries)
	if err != nil {
		mainLog.Error("failed to connect to redis queue", "error", err)
		return 1
	}
	defer func() {
		if err := redisQueue.Close(); err != nil {
			mainLog.Error("failed to close redis queue", "error", err)
		}
	}()

	// --- Dispatcher ---
	registry := dispatcher.NewRegistry()
	domain.RegisterHandlers(registry, domain.Clients{
		Effects:     gqlClient,
		Events:      gqlClient,
		Settlements: gqlClient,
		Structures:  gqlClient,
	}, redisQueue, cfg.EventExpirationGracePeriod)
	mainLog.Info("registered domain handlers", "count", registry.Count())

	pool := dispatcher.NewPool(registry, redisQueue, cfg.QueueConcurrency, 5*time.Minute, cfg.APIRequestTimeoutMS*3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	// Return jobs whose lease expired without an Ack/Fail to the ready set.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := redisQueue.RecoverExpiredLeases(ctx); err != nil {
					mainLog.Warn("failed to recover expired leases", "error", err)
				}
			}
		}
	}()

	// --- Cron scheduler ---
	cronRedisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		mainLog.Error("failed to parse redis url for cron scheduler", "error", err)
		return 1
	}
	cronRedisClient := redis.NewClient(cronRedisOpts)
	defer cronRedisClient.Close()

	cronScheduler := cron.NewScheduler(cronRedisClient, cfg.IsProduction())
	settlementGrowth := domain.NewSettlementGrowthHandler(gqlClient, redisQueue)
	structureMaintenance := domain.NewStructureMaintenanceHandler(gqlClient, redisQueue)

	if err := cronScheduler.Register("eventExpiration", cfg.CronEventExpiration, func(ctx context.Context) error {
		j, err := job.New(job.KindEventExpiration, job.SystemCampaign, job.EmptyPayload{})
		if err != nil {
			return err
		}
		_, err = redisQueue.Enqueue(ctx, j, queue.Options{Priority: job.PriorityHigh})
		return err
	}); err != nil {
		mainLog.Error("failed to register event-expiration cron task", "error", err)
		return 1
	}

	if err := cronScheduler.Register("settlementGrowth", cfg.CronSettlementGrowth, func(ctx context.Context) error {
		_, _, err := settlementGrowth.ScheduleCampaigns(ctx, job.SystemCampaign)
		return err
	}); err != nil {
		mainLog.Error("failed to register settlement-growth cron task", "error", err)
		return 1
	}

	if err := cronScheduler.Register("structureMaintenance", cfg.CronStructureMaintenance, func(ctx context.Context) error {
		_, _, err := structureMaintenance.ScheduleCampaigns(ctx, job.SystemCampaign)
		return err
	}); err != nil {
		mainLog.Error("failed to register structure-maintenance cron task", "error", err)
		return 1
	}

	cronScheduler.Start(ctx)

	// --- Pub/sub bridge ---
	bridge, err := pubsub.NewBridge(cfg.RedisURL, redisQueue)
	if err != nil {
		mainLog.Error("failed to start pub/sub bridge", "error", err)
		return 1
	}
	bridge.Start(ctx)

	// --- Health/metrics HTTP listener ---
	checker := health.NewChecker([]health.Probe{
		&health.RedisProbe{Client: cronRedisClient},
		&health.RedisSubscriberProbe{Bridge: bridge},
		&health.QueueProbe{Queue: redisQueue},
		&health.APIProbe{Client: gqlClient},
	}, redisQueue, startTime, "1.0.0")

	healthServer := health.NewServer(":"+cfg.HealthPort, checker, startTime)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLog.Error("health server failed", "error", err)
		}
	}()

	mainLog.Info("scheduler ready",
		"queue_concurrency", cfg.QueueConcurrency,
		"health_port", cfg.HealthPort)

	// --- Shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	mainLog.Info("received shutdown signal, initiating graceful shutdown", "signal", sig)

	done := make(chan struct{})
	go func() {
		defer close(done)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer shutdownCancel()

		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			mainLog.Error("health server shutdown error", "error", err)
		}
		bridge.Stop()
		cronScheduler.Stop()
		cancel()
		pool.Stop()
	}()

	select {
	case <-done:
		mainLog.Info("scheduler shut down successfully")
		return 0
	case <-time.After(shutdownDeadline):
		mainLog.Error("shutdown deadline exceeded, forcing exit")
		return 1
	}
}

func runPprof(pprofPort string, log logger.Logger) {
	if pprofPort == "" {
		pprofPort = "6060"
	}
	log.Info("starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
	server := &http.Server{
		Addr:              ":" + pprofPort,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Error("pprof server failed", "error", err)
	}
}
