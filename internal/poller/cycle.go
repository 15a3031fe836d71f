package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"trafficwatch/internal/alerts"
	"trafficwatch/internal/logger"
	"trafficwatch/internal/metrics"
	"trafficwatch/internal/models"
	"trafficwatch/internal/notifier"
	"trafficwatch/internal/servers"
	"trafficwatch/internal/storage"
)

// StatsFetcher retrieves the current stats of one server
type StatsFetcher interface {
	Fetch(ctx context.Context, server models.ServerConfig) (*models.ServerStats, error)
}

// Evaluator decides whether stats warrant an alert
type Evaluator interface {
	Evaluate(stats *models.ServerStats) alerts.Decision
}

// Ratchet is the mutable side of the traffic threshold tracker
type Ratchet interface {
	Advance(stats *models.ServerStats)
	Recover(stats *models.ServerStats) bool
	Prune(active []string) int
}

// Notifier fans a message out to chat ids
type Notifier interface {
	Notify(ctx context.Context, chatIDs []int64, msg string) notifier.Result
}

// EventSink accepts fired alerts for downstream publishing
type EventSink interface {
	Submit(event *models.AlertEvent) bool
}

// Config wires a Cycle. Recorder and Events are optional.
type Config struct {
	Loader    servers.Loader
	Fetcher   StatsFetcher
	Evaluator Evaluator
	Ratchet   Ratchet
	Notifier  Notifier
	Recorder  storage.Recorder
	Events    EventSink
	ChatIDs   []int64
}

// Summary describes a finished cycle
type Summary struct {
	ID       string
	Servers  int
	Failures int
	Alerts   int
	Duration time.Duration
}

// Cycle runs one polling round over every configured server
type Cycle struct {
	loader    servers.Loader
	fetcher   StatsFetcher
	evaluator Evaluator
	ratchet   Ratchet
	notifier  Notifier
	recorder  storage.Recorder
	events    EventSink
	chatIDs   []int64
}

// NewCycle creates a Cycle from cfg
func NewCycle(cfg Config) *Cycle {
	if cfg.Recorder == nil {
		cfg.Recorder = storage.Noop{}
	}
	return &Cycle{
		loader:    cfg.Loader,
		fetcher:   cfg.Fetcher,
		evaluator: cfg.Evaluator,
		ratchet:   cfg.Ratchet,
		notifier:  cfg.Notifier,
		recorder:  cfg.Recorder,
		events:    cfg.Events,
		chatIDs:   cfg.ChatIDs,
	}
}

// serverResult is what handling one server produced
type serverResult struct {
	failed  bool
	alerted bool
}

// RunOnce loads the server list, then fetches and evaluates every server
// concurrently. Only a server list failure is returned; per-server failures
// are reported through the notifier.
func (c *Cycle) RunOnce(ctx context.Context) error {
	_, err := c.Run(ctx)
	return err
}

// Run is RunOnce returning a summary of the cycle
func (c *Cycle) Run(ctx context.Context) (Summary, error) {
	sum := Summary{ID: uuid.New().String()}
	log := logger.WithComponent("poller").With().Str("cycle_id", sum.ID).Logger()
	start := time.Now()

	list, err := c.loader.Load(ctx)
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("aborted").Inc()
		return sum, fmt.Errorf("cycle %s: %w", sum.ID, err)
	}

	if pruned := c.ratchet.Prune(models.Names(list)); pruned > 0 {
		log.Info().Int("pruned", pruned).Msg("dropped threshold state of removed servers")
	}

	sum.Servers = len(list)
	metrics.ServersPolled.Set(float64(len(list)))
	log.Debug().Int("servers", len(list)).Msg("poll cycle started")

	results := make([]serverResult, len(list))
	var wg sync.WaitGroup
	for i, server := range list {
		i, server := i, server
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.handle(ctx, sum.ID, server)
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.failed {
			sum.Failures++
		}
		if r.alerted {
			sum.Alerts++
		}
	}
	sum.Duration = time.Since(start)

	metrics.PollCycleDuration.Observe(sum.Duration.Seconds())
	metrics.PollCyclesTotal.WithLabelValues("completed").Inc()
	log.Info().
		Int("servers", sum.Servers).
		Int("failures", sum.Failures).
		Int("alerts", sum.Alerts).
		Dur("duration", sum.Duration).
		Msg("poll cycle finished")

	return sum, nil
}

// handle fetches and evaluates one server. A panic here is contained to
// this server.
func (c *Cycle) handle(ctx context.Context, cycleID string, server models.ServerConfig) (res serverResult) {
	log := logger.WithServer("poller", server.Name).With().Str("cycle_id", cycleID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("server handler panic recovered")
			metrics.PanicsRecovered.WithLabelValues("poller").Inc()
			res.failed = true
		}
	}()

	stats, err := c.fetcher.Fetch(ctx, server)
	if err != nil {
		c.notifier.Notify(ctx, c.chatIDs, alerts.FailureMessage(server.Name, err))
		return serverResult{failed: true}
	}

	metrics.ObserveStats(stats.Name, stats.RemainingTrafficGB, stats.RemainingTrafficPercent,
		stats.CPUUsagePercent, stats.RAMUsagePercent)
	c.record(ctx, stats)

	if c.ratchet.Recover(stats) {
		log.Info().
			Float64("remaining_percent", stats.RemainingTrafficPercent).
			Msg("traffic quota replenished, thresholds re-armed")
	}

	decision := c.evaluator.Evaluate(stats)
	if !decision.Fire() {
		return serverResult{}
	}

	reasons := decision.Reasons()
	log.Info().
		Strs("reasons", reasons).
		Float64("remaining_percent", stats.RemainingTrafficPercent).
		Float64("cpu_percent", stats.CPUUsagePercent).
		Float64("ram_percent", stats.RAMUsagePercent).
		Msg("alert triggered")

	msg := alerts.Message(stats)
	c.notifier.Notify(ctx, c.chatIDs, msg)
	c.ratchet.Advance(stats)

	for _, reason := range reasons {
		metrics.AlertsTotal.WithLabelValues(stats.Name, reason).Inc()
	}
	if c.events != nil {
		c.events.Submit(models.NewAlertEvent(stats, reasons, msg).WithCycle(cycleID))
	}

	return serverResult{alerted: true}
}

func (c *Cycle) record(ctx context.Context, stats *models.ServerStats) {
	if err := c.recorder.Record(ctx, stats); err != nil {
		metrics.RecordsTotal.WithLabelValues("failed").Inc()
		log := logger.WithServer("poller", stats.Name)
		log.Warn().
			Err(err).
			Msg("failed to record stats")
		return
	}
	metrics.RecordsTotal.WithLabelValues("success").Inc()
}
