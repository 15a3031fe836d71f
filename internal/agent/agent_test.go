package agent

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"trafficwatch/internal/config"
	"trafficwatch/internal/models"
)

type fakeSampler struct {
	sample Sample
	err    error
}

func (f fakeSampler) Sample(context.Context) (Sample, error) { return f.sample, f.err }

func TestQuota_Remaining(t *testing.T) {
	s := Sample{RxBytes: 30 * gb, TxBytes: 10 * gb}

	tests := []struct {
		mode    CountMode
		freeGB  float64
		freePct float64
		quotaGB float64
	}{
		{CountSum, 60, 60, 100},
		{CountMax, 70, 70, 100},
		{CountRx, 70, 70, 100},
		{CountTx, 90, 90, 100},
		{CountSum, 0, 0, 25}, // overused, clamped
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			freeGB, pct := Quota{TotalGB: tt.quotaGB, Mode: tt.mode}.Remaining(s)
			if math.Abs(freeGB-tt.freeGB) > 1e-9 || math.Abs(pct-tt.freePct) > 1e-9 {
				t.Errorf("Remaining = (%v, %v), want (%v, %v)", freeGB, pct, tt.freeGB, tt.freePct)
			}
		})
	}
}

func TestParseCountMode(t *testing.T) {
	if m, err := ParseCountMode(" MAX "); err != nil || m != CountMax {
		t.Errorf("ParseCountMode(MAX) = %v, %v", m, err)
	}
	if m, err := ParseCountMode(""); err != nil || m != CountSum {
		t.Errorf("ParseCountMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseCountMode("both"); !errors.Is(err, ErrInvalidCountMode) {
		t.Errorf("expected ErrInvalidCountMode, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(config.AgentConfig{QuotaGB: 0}, nil); !errors.Is(err, ErrInvalidQuota) {
		t.Errorf("expected ErrInvalidQuota, got %v", err)
	}
	if _, err := New(config.AgentConfig{QuotaGB: 1, CountMode: "nope"}, nil); !errors.Is(err, ErrInvalidCountMode) {
		t.Errorf("expected ErrInvalidCountMode, got %v", err)
	}
}

func newTestAgent(t *testing.T, token string, sampler Sampler) *Agent {
	t.Helper()
	a, err := New(config.AgentConfig{QuotaGB: 1000, CountMode: "sum", Token: token}, sampler)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestStats_PayloadRoundTrips(t *testing.T) {
	a := newTestAgent(t, "", fakeSampler{sample: Sample{
		CPUPercent: 12.5,
		RAMPercent: 48,
		RxBytes:    150 * gb,
		TxBytes:    50 * gb,
	}})

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var payload models.StatsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	stats, err := payload.ToStats("edge-1")
	if err != nil {
		t.Fatalf("ToStats: %v", err)
	}

	want := models.ServerStats{
		Name:                    "edge-1",
		RemainingTrafficGB:      800,
		RemainingTrafficPercent: 80,
		CPUUsagePercent:         12.5,
		RAMUsagePercent:         48,
	}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}
}

func TestStats_SamplerError(t *testing.T) {
	a := newTestAgent(t, "", fakeSampler{err: errors.New("no /proc")})

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestStats_BearerToken(t *testing.T) {
	a := newTestAgent(t, "s3cret", fakeSampler{})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health requires auth: status %d", rec.Code)
	}
}
