package threshold

import (
	"math"

	"trafficwatch/internal/config"
	"trafficwatch/internal/logger"
	"trafficwatch/internal/metrics"
	"trafficwatch/internal/models"
	"trafficwatch/internal/state"
)

// Tracker is the per-server traffic ratchet. For every server it remembers
// the next percent that remaining traffic has to reach for a traffic alert
// to fire. A server that was never armed fires once its remaining traffic
// reaches the highest configured percent.
type Tracker struct {
	percents []int
	store    state.Store
}

// NewTracker creates a tracker over the configured traffic percents.
// The percents are copied and sorted descending; a nil store gets an
// in-memory one.
func NewTracker(percents []int, store state.Store) *Tracker {
	if store == nil {
		store = state.NewMemoryStore()
	}
	return &Tracker{
		percents: config.SortDescending(percents),
		store:    store,
	}
}

// Percents returns the descending threshold list
func (t *Tracker) Percents() []int {
	out := make([]int, len(t.percents))
	copy(out, t.percents)
	return out
}

// Next returns the armed threshold for server, or -Inf if none is armed
func (t *Tracker) Next(server string) float64 {
	if e, ok := t.store.Get(server); ok {
		return e.Next
	}
	return math.Inf(-1)
}

// HasCrossed reports whether a traffic alert is due. It never changes state.
//
// An unarmed server is due at or below the highest configured percent. An
// exhausted server (remaining traffic already below every configured percent)
// is never due. Otherwise the server is due once remaining traffic reaches
// the armed percent.
func (t *Tracker) HasCrossed(stats *models.ServerStats) bool {
	e, ok := t.store.Get(stats.Name)
	if !ok {
		return len(t.percents) > 0 && stats.RemainingTrafficPercent <= float64(t.percents[0])
	}
	if e.Exhausted {
		return false
	}
	return stats.RemainingTrafficPercent <= e.Next
}

// Advance arms the first configured percent strictly below the remaining
// traffic percent. When there is none the armed value is left unchanged and
// the server is marked exhausted, which silences traffic alerts for it.
// Call it only after an alert for stats was sent.
func (t *Tracker) Advance(stats *models.ServerStats) {
	for _, p := range t.percents {
		if float64(p) < stats.RemainingTrafficPercent {
			t.store.Set(stats.Name, state.Entry{Next: float64(p)})
			metrics.NextThresholdPercent.WithLabelValues(stats.Name).Set(float64(p))
			return
		}
	}

	e, ok := t.store.Get(stats.Name)
	if !ok {
		e.Next = math.Inf(-1)
	}
	e.Exhausted = true
	t.store.Set(stats.Name, e)

	log := logger.WithServer("threshold", stats.Name)
	log.Info().
		Float64("remaining_percent", stats.RemainingTrafficPercent).
		Msg("remaining traffic below every threshold, traffic alerts silenced")
}

// Recover re-arms a server whose remaining traffic climbed back above the
// highest configured percent (a new billing period) after having been armed
// lower or exhausted. It reports whether the server was re-armed.
func (t *Tracker) Recover(stats *models.ServerStats) bool {
	if len(t.percents) == 0 {
		return false
	}
	top := float64(t.percents[0])
	if stats.RemainingTrafficPercent <= top {
		return false
	}

	e, ok := t.store.Get(stats.Name)
	if !ok || (!e.Exhausted && e.Next >= top) {
		return false
	}

	t.store.Set(stats.Name, state.Entry{Next: top})
	metrics.NextThresholdPercent.WithLabelValues(stats.Name).Set(top)

	log := logger.WithServer("threshold", stats.Name)
	log.Info().
		Float64("remaining_percent", stats.RemainingTrafficPercent).
		Float64("armed", top).
		Msg("traffic recovered, threshold re-armed")
	return true
}

// Prune forgets servers that are not in active and returns how many were removed
func (t *Tracker) Prune(active []string) int {
	keep := make(map[string]struct{}, len(active))
	for _, name := range active {
		keep[name] = struct{}{}
	}

	removed := 0
	for _, name := range t.store.Keys() {
		if _, ok := keep[name]; ok {
			continue
		}
		t.store.Delete(name)
		metrics.ForgetServer(name)
		removed++
	}
	return removed
}

// Snapshot returns a copy of every server's ratchet state
func (t *Tracker) Snapshot() map[string]state.Entry {
	return t.store.Snapshot()
}
