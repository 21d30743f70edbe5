package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	"github.com/hackgods/hospital-scheduling/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if cfg.StorageDriver != config.StoragePostgres {
		logger.Fatal("notify-relay needs STORAGE_DRIVER=postgres; the in-memory api-server relays in process")
	}

	logger.Info("notify-relay starting up",
		zap.Duration("interval", cfg.RelayInterval),
		zap.Int32("batch", cfg.RelayBatch),
		zap.String("exchange", cfg.AMQPExchange),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 2)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	var publisher notify.Publisher = notify.NewLogPublisher(logger.Named("events"))
	if cfg.AMQPURL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("rabbitmq connection error", zap.Error(err))
		}
		publisher = amqpPub
		logger.Info("connected to RabbitMQ")
	} else {
		logger.Warn("AMQP_URL not set, events are only logged")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("error closing publisher", zap.Error(err))
		}
	}()

	relay := notify.NewRelay(notify.NewPgEventStore(pgPool), publisher, logger, metrics.New(prometheus.NewRegistry())).
		WithBatchSize(cfg.RelayBatch).
		WithInterval(cfg.RelayInterval)

	relay.Start(rootCtx)
	logger.Info("shutdown signal received, notify-relay stopped")
}
