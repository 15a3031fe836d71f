package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trafficwatch/internal/alerts"
	"trafficwatch/internal/config"
	"trafficwatch/internal/fetcher"
	"trafficwatch/internal/handlers"
	"trafficwatch/internal/kafka"
	"trafficwatch/internal/logger"
	"trafficwatch/internal/middleware"
	"trafficwatch/internal/notifier"
	"trafficwatch/internal/poller"
	"trafficwatch/internal/servers"
	"trafficwatch/internal/storage"
	"trafficwatch/internal/threshold"
	"trafficwatch/internal/worker"
)

// Processor wires the watcher together: the poll cycle and its scheduler,
// the optional alert stream and stats sink, and the status server.
type Processor struct {
	cfg        *config.Config
	tracker    *threshold.Tracker
	cycle      *poller.Cycle
	producer   *kafka.Producer
	dispatcher *worker.Dispatcher
	influx     *storage.Influx
	recorder   storage.Recorder
	httpServer *http.Server
	wg         sync.WaitGroup
}

// Option overrides a collaborator built from config
type Option func(*options)

type options struct {
	sender notifier.Sender
	loader servers.Loader
}

// WithSender replaces the Telegram sender
func WithSender(s notifier.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithLoader replaces the server list file loader
func WithLoader(l servers.Loader) Option {
	return func(o *options) { o.loader = l }
}

// New builds a Processor from a validated config
func New(cfg *config.Config, opts ...Option) (*Processor, error) {
	log := logger.WithComponent("processor")

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.sender == nil {
		tg, err := notifier.NewTelegram(notifier.TelegramConfig{
			Token:   cfg.Telegram.BotToken,
			APIBase: cfg.Telegram.APIBase,
			Timeout: cfg.Telegram.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		o.sender = tg
	}
	if o.loader == nil {
		o.loader = servers.NewFileLoader(cfg.Poll.ServersFile)
	}

	f, err := fetcher.New(fetcher.Config{
		Attempts:           cfg.Poll.MaxAttempts,
		RetryDelay:         cfg.Poll.RetryDelay,
		Timeout:            cfg.Poll.RequestTimeout,
		Proxy:              cfg.Poll.Proxy,
		InsecureSkipVerify: cfg.Poll.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}

	p := &Processor{
		cfg:      cfg,
		tracker:  threshold.NewTracker(cfg.Notify.TrafficPercents, nil),
		recorder: storage.Noop{},
	}

	if cfg.Influx.URL != "" {
		p.influx, err = storage.NewInflux(cfg.Influx)
		if err != nil {
			return nil, fmt.Errorf("influx: %w", err)
		}
		p.recorder = p.influx
		log.Info().
			Str("url", cfg.Influx.URL).
			Str("bucket", cfg.Influx.Bucket).
			Msg("influx stats sink enabled")
	}

	var events poller.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		p.producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer)
		if err != nil {
			p.recorder.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		p.dispatcher = worker.NewDispatcher(worker.Config{
			Publisher:    p.producer,
			Workers:      1,
			BatchSize:    cfg.Kafka.Producer.BatchSize,
			BatchTimeout: cfg.Kafka.Producer.BatchTimeout,
		})
		events = p.dispatcher
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka alert stream enabled")
	}

	p.cycle = poller.NewCycle(poller.Config{
		Loader:    o.loader,
		Fetcher:   f,
		Evaluator: alerts.NewEvaluator(p.tracker, cfg.Notify.CPUPercent, cfg.Notify.RAMPercent),
		Ratchet:   p.tracker,
		Notifier:  notifier.New(o.sender),
		Recorder:  p.recorder,
		Events:    events,
		ChatIDs:   cfg.Notify.ChatIDs,
	})

	return p, nil
}

// Run polls on the configured interval until ctx is cancelled, then shuts
// down gracefully.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().
		Dur("interval", p.cfg.Poll.Interval).
		Ints("traffic_percents", p.cfg.Notify.TrafficPercents).
		Int("cpu_percent", p.cfg.Notify.CPUPercent).
		Int("ram_percent", p.cfg.Notify.RAMPercent).
		Int("chat_ids", len(p.cfg.Notify.ChatIDs)).
		Msg("processor starting")

	if p.dispatcher != nil {
		p.dispatcher.Start()
	}

	if p.cfg.HTTPAddr != "" {
		p.httpServer = &http.Server{
			Addr:         p.cfg.HTTPAddr,
			Handler:      p.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			log.Info().Str("addr", p.cfg.HTTPAddr).Msg("starting status server")
			if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server error")
			}
		}()
	}

	err := poller.NewScheduler(p.cycle, p.cfg.Poll.Interval).RunForever(ctx)
	log.Info().Msg("shutdown signal received")

	if shutdownErr := p.shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

// RunOnce runs a single poll cycle. The caller must Close the processor.
func (p *Processor) RunOnce(ctx context.Context) (poller.Summary, error) {
	if p.dispatcher != nil {
		p.dispatcher.Start()
	}
	return p.cycle.Run(ctx)
}

// Handler returns the status server routes
func (p *Processor) Handler() http.Handler {
	mux := http.NewServeMux()

	checks := map[string]handlers.HealthCheck{}
	if p.producer != nil {
		checks["kafka"] = p.producer.HealthCheck
	}
	if p.influx != nil {
		checks["influx"] = p.influx.Ping
	}

	mux.Handle("/health", handlers.NewHealthHandler(checks))
	mux.Handle("/thresholds", handlers.NewThresholdsHandler(p.tracker))
	mux.Handle("/stats", handlers.NewStatsHandler(p.stats))
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.Chain(mux, middleware.Recovery, middleware.Logging)
}

// Stats is the body of /stats
type Stats struct {
	Servers    int                  `json:"servers_tracked"`
	Dispatcher *worker.Stats        `json:"dispatcher,omitempty"`
	Pending    int                  `json:"dispatch_pending"`
	Producer   *kafka.ProducerStats `json:"producer,omitempty"`
}

func (p *Processor) stats() any {
	s := Stats{Servers: len(p.tracker.Snapshot())}
	if p.dispatcher != nil {
		ds := p.dispatcher.Stats()
		s.Dispatcher = &ds
		s.Pending = p.dispatcher.Pending()
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		s.Producer = &ps
	}
	return s
}

// Close flushes queued alert events and releases the sinks
func (p *Processor) Close() error {
	log := logger.WithComponent("processor")
	var errs []error

	if p.dispatcher != nil {
		done := make(chan struct{})
		go func() {
			p.dispatcher.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			log.Warn().Msg("alert dispatcher shutdown timeout")
		}
	}
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}
	if err := p.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stats sink: %w", err))
	}
	return errors.Join(errs...)
}

func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	if p.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("status server shutdown error")
		}
	}

	err := p.Close()
	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return err
}
