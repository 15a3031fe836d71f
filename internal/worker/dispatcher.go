package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"trafficwatch/internal/logger"
	"trafficwatch/internal/metrics"
	"trafficwatch/internal/models"
)

// Publisher is the downstream sink for alert events
type Publisher interface {
	Publish(ctx context.Context, event *models.AlertEvent) error
	PublishBatch(ctx context.Context, events []*models.AlertEvent) error
}

// Dispatcher publishes alert events off the poll path. Events are queued by
// Submit and flushed in batches by a fixed set of workers.
type Dispatcher struct {
	publisher    Publisher
	events       chan *models.AlertEvent
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds dispatcher configuration
type Config struct {
	Publisher    Publisher
	QueueSize    int
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewDispatcher creates a dispatcher. Call Start before Submit.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 500 * time.Millisecond
	}

	return &Dispatcher{
		publisher:    cfg.Publisher,
		events:       make(chan *models.AlertEvent, cfg.QueueSize),
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
	}
}

// Start launches the workers
func (d *Dispatcher) Start() {
	log := logger.WithComponent("dispatcher")
	log.Info().
		Int("workers", d.workers).
		Int("batch_size", d.batchSize).
		Dur("batch_timeout", d.batchTimeout).
		Msg("starting alert dispatcher")

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Submit queues event without blocking. It returns false when the queue is
// full or the dispatcher is stopped.
func (d *Dispatcher) Submit(event *models.AlertEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(event, "dispatcher stopped")
		return false
	}

	select {
	case d.events <- event:
		metrics.DispatchQueueDepth.Set(float64(len(d.events)))
		return true
	default:
		d.drop(event, "dispatch queue full")
		return false
	}
}

func (d *Dispatcher) drop(event *models.AlertEvent, reason string) {
	d.dropped.Add(1)
	metrics.DispatchDroppedTotal.Inc()
	log := logger.WithServer("dispatcher", event.Server)
	log.Warn().
		Str("event_id", event.ID).
		Msg(reason)
}

// Stop closes the queue and waits for the workers to flush what is left
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		log := logger.WithComponent("dispatcher")
		log.Info().Msg("stopping alert dispatcher")

		d.mu.Lock()
		d.stopped = true
		close(d.events)
		d.mu.Unlock()

		d.wg.Wait()
		log.Info().Msg("alert dispatcher stopped")
	})
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	log := logger.WithComponent("dispatcher").With().Int("worker_id", id).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("dispatcher panic recovered")
			metrics.PanicsRecovered.WithLabelValues("dispatcher").Inc()
		}
	}()

	batch := make([]*models.AlertEvent, 0, d.batchSize)
	timer := time.NewTimer(d.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-d.events:
			if !ok {
				d.flush(batch)
				return
			}
			metrics.DispatchQueueDepth.Set(float64(len(d.events)))

			batch = append(batch, event)
			if len(batch) >= d.batchSize {
				d.flush(batch)
				batch = batch[:0]
				timer.Reset(d.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				d.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(d.batchTimeout)
		}
	}
}

// flush publishes batch, falling back to one-by-one publishing on failure
func (d *Dispatcher) flush(batch []*models.AlertEvent) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("dispatcher")
	metrics.DispatchBatchSize.Observe(float64(len(batch)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := d.publisher.PublishBatch(ctx, batch)
	cancel()
	if err == nil {
		d.published.Add(uint64(len(batch)))
		log.Debug().Int("batch_size", len(batch)).Msg("alert batch dispatched")
		return
	}

	log.Error().
		Err(err).
		Int("batch_size", len(batch)).
		Msg("batch publish failed, retrying individually")

	for _, event := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.publisher.Publish(ctx, event)
		cancel()

		if err != nil {
			d.failed.Add(1)
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("server", event.Server).
				Msg("failed to publish alert event")
			continue
		}
		d.published.Add(1)
	}
}

// Pending returns the number of queued events
func (d *Dispatcher) Pending() int { return len(d.events) }

// Stats holds dispatcher counters
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns dispatcher counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
