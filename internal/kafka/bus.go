package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"coldwatch/internal/bus"
	"coldwatch/internal/config"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
	"coldwatch/internal/worker"
)

// Bus carries surface messages between processes over a kafka topic.
// Publishing only enqueues; the worker pool writes batches to the
// producer. Received messages reach local subscribers through the hub,
// including the ones this process published.
type Bus struct {
	surfaceID  string
	producer   *Producer
	pool       *worker.Pool
	subscriber *Subscriber
	hub        *bus.Hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	log    zerolog.Logger
}

// NewBus connects the producer, starts the worker pool and the reader.
// Payloads are written with codec.
func NewBus(cfg config.KafkaConfig, buffer int, surfaceID string, codec bus.Codec) (*Bus, error) {
	producer, err := NewProducer(cfg.Brokers, cfg.Topic, cfg.Producer, WithCodec(codec))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	hub := bus.NewHub("kafka", buffer)
	sub, err := NewSubscriber(cfg.Brokers, cfg.Topic, hub, codec)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("kafka subscriber: %w", err)
	}

	pool := worker.NewPool(worker.Config{
		Publisher:    producer,
		QueueSize:    cfg.QueueSize,
		Workers:      cfg.Workers,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		surfaceID:  surfaceID,
		producer:   producer,
		pool:       pool,
		subscriber: sub,
		hub:        hub,
		cancel:     cancel,
		log:        logger.WithComponent("kafka_bus"),
	}

	pool.Start()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := sub.Run(ctx); err != nil {
			b.log.Error().Err(err).Msg("kafka subscriber stopped")
		}
	}()

	b.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("kafka bus started")
	return b, nil
}

// Publish enqueues msg for the broker. A full queue drops the message.
func (b *Bus) Publish(ctx context.Context, msg models.Message) error {
	msg, err := bus.Prepare(msg)
	if err != nil {
		return err
	}
	if b.hub.Closed() {
		return bus.ErrBusClosed
	}

	if err := b.pool.Submit(models.NewEnvelope(msg, b.surfaceID)); err != nil {
		metrics.BusDroppedTotal.WithLabelValues("kafka").Inc()
		return err
	}
	metrics.BusPublishedTotal.WithLabelValues("kafka", msg.Action).Inc()
	return nil
}

func (b *Bus) Subscribe(name string) (*bus.Subscription, error) {
	return b.hub.Subscribe(name)
}

// HealthCheck checks the broker connection
func (b *Bus) HealthCheck(ctx context.Context) error {
	return b.producer.HealthCheck(ctx)
}

// Close flushes queued messages and stops reading
func (b *Bus) Close() error {
	var err error
	b.once.Do(func() {
		b.hub.Close()
		b.pool.Stop()
		b.cancel()
		if cerr := b.subscriber.Close(); cerr != nil {
			err = cerr
		}
		b.wg.Wait()
		if cerr := b.producer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// Stats reports the producer, pool and hub counters
func (b *Bus) Stats() map[string]any {
	return map[string]any{
		"hub":      b.hub.Stats(),
		"pool":     b.pool.Stats(),
		"producer": b.producer.Stats(),
	}
}

var _ bus.Bus = (*Bus)(nil)
