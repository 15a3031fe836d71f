package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	"trafficwatch/internal/state"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler reports overall health from a set of named checks
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a health handler. Checks may be nil.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// ThresholdSource exposes the traffic ratchet state
type ThresholdSource interface {
	Percents() []int
	Snapshot() map[string]state.Entry
}

// ThresholdsHandler serves the armed traffic threshold of every server
type ThresholdsHandler struct {
	src ThresholdSource
}

// NewThresholdsHandler creates a thresholds handler
func NewThresholdsHandler(src ThresholdSource) *ThresholdsHandler {
	return &ThresholdsHandler{src: src}
}

// ServerThreshold is one server's ratchet state. Next is null when no
// percent is armed.
type ServerThreshold struct {
	Server    string   `json:"server"`
	Next      *float64 `json:"next"`
	Exhausted bool     `json:"exhausted"`
}

// ThresholdsResponse is the body of /thresholds
type ThresholdsResponse struct {
	Percents []int             `json:"percents"`
	Servers  []ServerThreshold `json:"servers"`
}

func (h *ThresholdsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.src.Snapshot()
	resp := ThresholdsResponse{
		Percents: h.src.Percents(),
		Servers:  make([]ServerThreshold, 0, len(snap)),
	}
	for name, e := range snap {
		st := ServerThreshold{Server: name, Exhausted: e.Exhausted}
		if !math.IsInf(e.Next, 0) && !math.IsNaN(e.Next) {
			next := e.Next
			st.Next = &next
		}
		resp.Servers = append(resp.Servers, st)
	}
	sort.Slice(resp.Servers, func(i, j int) bool {
		return resp.Servers[i].Server < resp.Servers[j].Server
	})

	writeJSON(w, http.StatusOK, resp)
}

// StatsHandler serves runtime counters produced by fn
type StatsHandler struct {
	fn func() any
}

// NewStatsHandler creates a stats handler
func NewStatsHandler(fn func() any) *StatsHandler {
	return &StatsHandler{fn: fn}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fn())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
