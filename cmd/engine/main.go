package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/canvasflow/engine/internal/jobqueue"
	"github.com/canvasflow/engine/internal/nodes"
	"github.com/canvasflow/engine/internal/notify"
	"github.com/canvasflow/engine/internal/orchestrator"
	"github.com/canvasflow/engine/internal/scheduler"
	"github.com/canvasflow/engine/internal/server"
	"github.com/canvasflow/engine/internal/store"
	"github.com/canvasflow/engine/pkg/cache"
	"github.com/canvasflow/engine/pkg/config"
	"github.com/canvasflow/engine/pkg/database"
	"github.com/canvasflow/engine/pkg/events"
	"github.com/canvasflow/engine/pkg/logger"
	"github.com/canvasflow/engine/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger)

	db, err := database.New(cfg.Database, log)
	if err != nil {
		log.Fatal("connect database", "error", err)
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		log.Fatal("migrate database", "error", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal("connect redis", "error", err)
		}
		defer redisClient.Close()
	}

	var bus events.EventBus
	if cfg.Kafka.Enabled {
		bus = events.NewKafkaEventBus(events.KafkaConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			ConsumerGroup: cfg.Kafka.GroupID,
		}, log)
	} else {
		bus = events.NewMemoryEventBus()
	}
	defer bus.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	queue := jobqueue.New(jobqueue.Config{
		Workers:            cfg.Queue.Workers,
		Capacity:           cfg.Queue.Capacity,
		DefaultTimeout:     cfg.Queue.JobTimeout,
		DefaultMaxAttempts: cfg.Queue.MaxAttempts,
		BackoffKind:        cfg.Queue.BackoffKind,
		BackoffBase:        cfg.Queue.BackoffBase,
		BackoffMax:         cfg.Queue.BackoffMax,
	}, log, m)

	execRepo := store.NewExecutionRepository(db, log)
	wfRepo := store.NewWorkflowRepository(db)
	if redisClient != nil {
		graphCache := cache.NewRedisCache(redisClient, "canvasflow", 5*time.Minute)
		wfRepo = store.NewCachedWorkflowRepository(wfRepo, graphCache, log)
	}

	sink := notify.NewFanout(
		notify.NewLogSink(log),
		notify.NewBusSink(bus),
	)
	nodeRegistry := nodes.NewRegistry()
	if err := nodes.RegisterBuiltins(nodeRegistry, nodes.BuiltinDeps{
		Sink:       sink,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}); err != nil {
		log.Fatal("register node handlers", "error", err)
	}

	orch, err := orchestrator.New(cfg.Engine, wfRepo, execRepo, nodeRegistry, queue, bus, m, log)
	if err != nil {
		log.Fatal("build orchestrator", "error", err)
	}

	var engine server.Engine = orch
	if cfg.Engine.RemoteBackendURL != "" {
		remote := orchestrator.NewRemoteBackend(cfg.Engine.RemoteBackendURL, nil, log)
		engine = orchestrator.NewSelector(remote, orch, log)
	}

	queue.Start()

	var snapshotter *jobqueue.Snapshotter
	if redisClient != nil && cfg.Queue.SnapshotPeriod > 0 {
		snapshotter = jobqueue.NewSnapshotter(queue, redisClient, cfg.Queue.SnapshotPeriod, log)
		go snapshotter.Run()
	}

	if _, err := orch.Recover(context.Background()); err != nil {
		log.Error("recover executions", "error", err)
	}

	janitor := orchestrator.NewJanitor(orch, time.Hour, cfg.Engine.RetentionPeriod)
	go janitor.Run()

	var cronScheduler *scheduler.CronScheduler
	if cfg.Scheduler.Enabled {
		cronScheduler = scheduler.New(wfRepo, engine, redisClient, cfg.Scheduler.PollInterval, log)
		if err := cronScheduler.Start(context.Background()); err != nil {
			log.Fatal("start scheduler", "error", err)
		}
	}

	srv := server.New(cfg.Server, engine, wfRepo, execRepo, queue, registry, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("http server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down engine")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if cronScheduler != nil {
		cronScheduler.Stop()
	}
	janitor.Stop()
	if err := orch.Shutdown(ctx); err != nil {
		log.Error("orchestrator shutdown", "error", err)
	}
	if snapshotter != nil {
		snapshotter.Stop()
	}
	if err := queue.Stop(ctx); err != nil {
		log.Error("queue shutdown", "error", err)
	}
	log.Info("engine exited")
}
