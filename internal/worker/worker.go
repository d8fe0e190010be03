package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// ErrQueueFull is returned by Submit when the outbound queue has no room
var ErrQueueFull = errors.New("outbound queue is full")

// Publisher defines the interface for publishing envelopes
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
	PublishBatch(ctx context.Context, envelopes []*models.Envelope) error
}

// Pool drains the outbound envelope queue in batches so that surfaces
// never block on the broker
type Pool struct {
	publisher    Publisher
	envelopeChan chan *models.Envelope
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Publisher    Publisher
	EnvelopeChan chan *models.Envelope
	QueueSize    int
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool. A nil EnvelopeChan gets a queue of
// QueueSize.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.EnvelopeChan == nil {
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = 64
		}
		cfg.EnvelopeChan = make(chan *models.Envelope, cfg.QueueSize)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		publisher:    cfg.Publisher,
		envelopeChan: cfg.EnvelopeChan,
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing envelopes
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues an envelope without blocking
func (p *Pool) Submit(envelope *models.Envelope) error {
	select {
	case p.envelopeChan <- envelope:
		metrics.WorkerQueueSize.Set(float64(len(p.envelopeChan)))
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Stop flushes pending batches and stops all workers
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

// worker batches envelopes from the channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	batch := make([]*models.Envelope, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) > 0 {
			p.publishBatch(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-p.ctx.Done():
			p.drain(&batch)
			flush()
			return

		case envelope, ok := <-p.envelopeChan:
			if !ok {
				flush()
				return
			}
			metrics.WorkerQueueSize.Set(float64(len(p.envelopeChan)))
			batch = append(batch, envelope)

			if len(batch) >= p.batchSize {
				flush()
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			flush()
			timer.Reset(p.batchTimeout)
		}
	}
}

// drain moves whatever is already queued into the final batch
func (p *Pool) drain(batch *[]*models.Envelope) {
	for {
		select {
		case envelope, ok := <-p.envelopeChan:
			if !ok {
				return
			}
			*batch = append(*batch, envelope)
		default:
			return
		}
	}
}

// publishBatch publishes a batch of envelopes. The batch slice is reused
// by the caller.
func (p *Pool) publishBatch(batch []*models.Envelope) {
	log := logger.WithComponent("worker")
	start := time.Now()

	// The pool context may already be cancelled during the final flush.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.publisher.PublishBatch(ctx, batch)
	duration := time.Since(start)
	metrics.WorkerBatchPublishDuration.Observe(duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Dur("duration", duration).
			Msg("failed to publish batch")

		p.failed.Add(uint64(len(batch)))
		metrics.WorkerFailedTotal.Add(float64(len(batch)))

		p.publishIndividually(batch)
		return
	}

	log.Debug().
		Int("batch_size", len(batch)).
		Dur("duration", duration).
		Msg("batch published")

	p.processed.Add(uint64(len(batch)))
	metrics.WorkerProcessedTotal.Add(float64(len(batch)))
}

// publishIndividually retries each envelope of a failed batch on its own
func (p *Pool) publishIndividually(batch []*models.Envelope) {
	log := logger.WithComponent("worker")
	log.Warn().Int("count", len(batch)).Msg("attempting individual publish for failed batch")

	for _, envelope := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.publisher.Publish(ctx, envelope)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Str("message_id", envelope.ID).
				Str("action", envelope.Message.Action).
				Msg("failed to publish envelope individually")
			continue
		}

		// Don't count twice - subtract from failed, add to processed
		p.failed.Add(^uint64(0))
		p.processed.Add(1)
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Queued:    len(p.envelopeChan),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	Queued    int    `json:"queued"`
}
