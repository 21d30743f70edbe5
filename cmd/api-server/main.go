package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/api"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/auth"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/tracing"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageDriver),
		zap.Bool("redis_locks", cfg.RedisLocks),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, cfg, "hospital-scheduling-api", version)
	if err != nil {
		logger.Fatal("tracing setup error", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("error flushing traces", zap.Error(err))
		}
	}()
	logger.Info("tracing enabled",
		zap.String("exporter", cfg.TraceExporter),
		zap.Float64("sample_ratio", cfg.TraceSampleRatio),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	routerCfg := api.RouterConfig{
		Tokens:       auth.NewTokens(cfg.JWTSecret),
		Gatherer:     registry,
		Logger:       logger,
		RateLimitRPS: cfg.RateLimitRPS,
		Env:          cfg.Env,
		Version:      version,
	}

	var repo appointment.Repository
	var events notify.EventStore

	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns)
		cancelPg()
		if err != nil {
			logger.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()
		logger.Info("connected to Postgres")

		repo = appointment.NewPgRepository(pgPool, cfg.Location())
		routerCfg.PgPool = pgPool
	default:
		mem := appointment.NewMemoryRepository()
		seedDemoData(mem, cfg.Location(), logger)
		repo = mem
		// no separate relay process can see this store
		events = mem
	}

	var locker redisclient.Locker
	if cfg.RedisLocks {
		rdb, err := redisclient.Connect(rootCtx, cfg)
		if err != nil {
			logger.Fatal("redis connection error", zap.Error(err))
		}
		defer func(rdb *redis.Client) {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}(rdb)
		logger.Info("connected to Redis")

		locker = redisclient.NewRedisProviderLocker(rdb, cfg.LockTTL, cfg.LockWait)
		routerCfg.Redis = rdb
	}

	svc := appointment.NewService(repo, locker, cfg, logger.Named("scheduling"), m)
	routerCfg.Service = svc

	if events != nil {
		publisher := notify.Publisher(notify.NewLogPublisher(logger.Named("events")))
		if cfg.AMQPURL != "" {
			amqpPub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
			if err != nil {
				logger.Fatal("rabbitmq connection error", zap.Error(err))
			}
			publisher = amqpPub
		}
		defer func() { _ = publisher.Close() }()

		relay := notify.NewRelay(events, publisher, logger.Named("relay"), m).
			WithBatchSize(cfg.RelayBatch).
			WithInterval(cfg.RelayInterval)
		go relay.Start(rootCtx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("api-server stopped")
}
