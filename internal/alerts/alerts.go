package alerts

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"trafficwatch/internal/models"
)

// TrafficTracker is the part of the threshold ratchet the evaluator reads
type TrafficTracker interface {
	HasCrossed(stats *models.ServerStats) bool
}

// Rule is a simple usage limit. A non-positive Threshold disables it.
type Rule struct {
	Name      string
	Threshold float64
}

// Reached reports whether value is at or above the limit
func (r Rule) Reached(value float64) bool {
	return r.Threshold > 0 && value >= r.Threshold
}

// Decision holds the outcome of every independent check
type Decision struct {
	Traffic bool
	CPU     bool
	RAM     bool
}

// Fire reports whether any check triggered
func (d Decision) Fire() bool {
	return d.Traffic || d.CPU || d.RAM
}

// Reasons lists the triggered checks in a stable order
func (d Decision) Reasons() []string {
	reasons := make([]string, 0, 3)
	if d.Traffic {
		reasons = append(reasons, models.ReasonTraffic)
	}
	if d.CPU {
		reasons = append(reasons, models.ReasonCPU)
	}
	if d.RAM {
		reasons = append(reasons, models.ReasonRAM)
	}
	return reasons
}

// Evaluator combines the traffic ratchet with CPU and RAM limits.
// It holds no state of its own.
type Evaluator struct {
	traffic TrafficTracker
	cpu     Rule
	ram     Rule
}

// NewEvaluator creates an evaluator. cpuPercent and ramPercent <= 0 disable
// the respective check.
func NewEvaluator(traffic TrafficTracker, cpuPercent, ramPercent int) *Evaluator {
	return &Evaluator{
		traffic: traffic,
		cpu:     Rule{Name: models.ReasonCPU, Threshold: float64(cpuPercent)},
		ram:     Rule{Name: models.ReasonRAM, Threshold: float64(ramPercent)},
	}
}

// Evaluate runs the three checks against stats
func (e *Evaluator) Evaluate(stats *models.ServerStats) Decision {
	return Decision{
		Traffic: e.traffic.HasCrossed(stats),
		CPU:     e.cpu.Reached(stats.CPUUsagePercent),
		RAM:     e.ram.Reached(stats.RAMUsagePercent),
	}
}

// ShouldAlert reports whether any of the traffic, CPU or RAM checks triggered
func (e *Evaluator) ShouldAlert(stats *models.ServerStats) bool {
	return e.Evaluate(stats).Fire()
}

// Message composes the HTML alert text for stats
func Message(stats *models.ServerStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Server: <b>%s</b>\n", html.EscapeString(stats.Name))
	fmt.Fprintf(&b, "CPU: <code>%s%%</code>\n", formatNumber(stats.CPUUsagePercent))
	fmt.Fprintf(&b, "RAM: <code>%s%%</code>\n", formatNumber(stats.RAMUsagePercent))
	fmt.Fprintf(&b, "Remaining Traffic: <code>%sGB (%s%%)</code>",
		formatNumber(stats.RemainingTrafficGB),
		formatNumber(stats.RemainingTrafficPercent),
	)
	return b.String()
}

// FailureMessage composes the HTML text reporting a failed fetch
func FailureMessage(server string, err error) string {
	detail := err.Error()
	var fe interface{ DetailText() string }
	if errors.As(err, &fe) {
		detail = fe.DetailText()
	}
	return fmt.Sprintf("Failed to fetch data for server <b>%s</b>:\n<code>%s</code>",
		html.EscapeString(server),
		html.EscapeString(detail),
	)
}

// formatNumber prints at most two decimals without trailing zeros
func formatNumber(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
