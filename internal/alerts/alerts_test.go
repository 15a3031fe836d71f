package alerts

import (
	"errors"
	"strings"
	"testing"

	"trafficwatch/internal/models"
	"trafficwatch/internal/threshold"
)

type fixedTracker bool

func (f fixedTracker) HasCrossed(*models.ServerStats) bool { return bool(f) }

func TestEvaluator_FirstObservationFiresOnTraffic(t *testing.T) {
	tr := threshold.NewTracker([]int{50, 40, 30}, nil)
	e := NewEvaluator(tr, 90, 90)

	s := &models.ServerStats{
		Name:                    "srv",
		RemainingTrafficGB:      500,
		RemainingTrafficPercent: 50,
		CPUUsagePercent:         10,
		RAMUsagePercent:         10,
	}

	d := e.Evaluate(s)
	if !d.Traffic || d.CPU || d.RAM {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if !e.ShouldAlert(s) {
		t.Error("expected alert on first observation")
	}
}

func TestEvaluator_IndependentCauses(t *testing.T) {
	tests := []struct {
		name    string
		traffic bool
		cpu     float64
		ram     float64
		want    Decision
	}{
		{"nothing", false, 10, 10, Decision{}},
		{"traffic only", true, 10, 10, Decision{Traffic: true}},
		{"cpu at limit", false, 90, 10, Decision{CPU: true}},
		{"ram above limit", false, 10, 95, Decision{RAM: true}},
		{"cpu high does not imply ram", false, 99, 10, Decision{CPU: true}},
		{"all", true, 100, 100, Decision{Traffic: true, CPU: true, RAM: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(fixedTracker(tt.traffic), 90, 90)
			s := &models.ServerStats{Name: "srv", CPUUsagePercent: tt.cpu, RAMUsagePercent: tt.ram}

			got := e.Evaluate(s)
			if got != tt.want {
				t.Errorf("Evaluate = %+v, want %+v", got, tt.want)
			}
			if e.ShouldAlert(s) != tt.want.Fire() {
				t.Errorf("ShouldAlert = %v, want %v", e.ShouldAlert(s), tt.want.Fire())
			}
		})
	}
}

func TestEvaluator_DisabledLimits(t *testing.T) {
	e := NewEvaluator(fixedTracker(false), 0, -1)
	s := &models.ServerStats{Name: "srv", CPUUsagePercent: 100, RAMUsagePercent: 100}
	if e.ShouldAlert(s) {
		t.Error("non-positive limits should disable CPU and RAM checks")
	}
}

func TestDecision_Reasons(t *testing.T) {
	d := Decision{Traffic: true, RAM: true}
	got := strings.Join(d.Reasons(), ",")
	if got != "traffic,ram" {
		t.Errorf("Reasons = %q", got)
	}
	if len(Decision{}.Reasons()) != 0 {
		t.Error("empty decision should have no reasons")
	}
}

func TestMessage_ContainsAllFields(t *testing.T) {
	msg := Message(&models.ServerStats{
		Name:                    "edge<1>",
		RemainingTrafficGB:      123.456,
		RemainingTrafficPercent: 41,
		CPUUsagePercent:         87.5,
		RAMUsagePercent:         63.25,
	})

	for _, want := range []string{"edge&lt;1&gt;", "87.5%", "63.25%", "123.46GB", "(41%)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

type detailErr struct{ detail string }

func (d detailErr) Error() string      { return "wrapped: " + d.detail }
func (d detailErr) DetailText() string { return d.detail }

func TestFailureMessage(t *testing.T) {
	msg := FailureMessage("srv", detailErr{detail: "502 <bad gateway>"})
	if !strings.Contains(msg, "<b>srv</b>") {
		t.Errorf("missing server name: %q", msg)
	}
	if !strings.Contains(msg, "502 &lt;bad gateway&gt;") {
		t.Errorf("detail not escaped or missing: %q", msg)
	}

	plain := FailureMessage("srv", errors.New("dial tcp: refused"))
	if !strings.Contains(plain, "dial tcp: refused") {
		t.Errorf("plain error text missing: %q", plain)
	}
}
