package notify

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/metrics"
)

// LogPublisher writes events to the logger instead of a broker. Used when
// no AMQP_URL is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.Info("appointment event",
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageID),
		zap.ByteString("body", msg.Body),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Relay polls the event log and publishes every unpublished row. A row is
// marked published only after the broker accepted it, so delivery is
// at-least-once; MessageId lets consumers drop duplicates.
type Relay struct {
	store     EventStore
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.SchedulingMetrics
	batchSize int32
	interval  time.Duration
}

func NewRelay(store EventStore, publisher Publisher, logger *zap.Logger, m *metrics.SchedulingMetrics) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		batchSize: 50,
		interval:  2 * time.Second,
	}
}

func (r *Relay) WithBatchSize(size int32) *Relay {
	if size > 0 {
		r.batchSize = size
	}
	return r
}

func (r *Relay) WithInterval(interval time.Duration) *Relay {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

// Start drains once, then on every tick until ctx is done.
func (r *Relay) Start(ctx context.Context) {
	if r.store == nil || r.publisher == nil {
		return
	}
	r.Drain(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain publishes one batch and returns how many rows were acknowledged.
func (r *Relay) Drain(ctx context.Context) int {
	events, err := r.store.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("outbox fetch failed", zap.Error(err))
		return 0
	}

	published := 0
	for _, ev := range events {
		msg := Message{
			RoutingKey: ev.EventType,
			MessageID:  strconv.FormatInt(ev.ID, 10),
			Body:       ev.Payload,
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			r.metrics.ObserveRelay("failed")
			r.logger.Error("event publish failed",
				zap.Int64("event_id", ev.ID),
				zap.String("type", ev.EventType),
				zap.Error(err),
			)
			continue
		}

		ok, err := r.store.MarkPublished(ctx, ev.ID)
		if err != nil {
			r.logger.Error("failed to mark event published", zap.Int64("event_id", ev.ID), zap.Error(err))
			continue
		}
		if ok {
			published++
			r.metrics.ObserveRelay("published")
			r.logger.Debug("event published", zap.Int64("event_id", ev.ID), zap.String("type", ev.EventType))
		}
	}
	return published
}
