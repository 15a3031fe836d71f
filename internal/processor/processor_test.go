package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trafficwatch/internal/config"
	"trafficwatch/internal/handlers"
	"trafficwatch/internal/models"
	"trafficwatch/internal/servers"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *recordingSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HTTPAddr = ""
	cfg.Telegram.BotToken = "test-token"
	cfg.Notify.ChatIDs = []int64{42}
	cfg.Notify.TrafficPercents = []int{50, 40, 30}
	cfg.Poll.Interval = time.Hour
	cfg.Poll.RetryDelay = time.Millisecond
	return cfg
}

func statsServer(t *testing.T, remaining float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.NewStatsPayload(remaining, remaining, 5, 5))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessor_RunOnce(t *testing.T) {
	up := statsServer(t, 45)
	down := httptest.NewServer(http.NotFoundHandler())
	defer down.Close()

	sender := &recordingSender{}
	p, err := New(testConfig(),
		WithSender(sender),
		WithLoader(servers.StaticLoader{
			{Name: "up", URL: up.URL},
			{Name: "down", URL: down.URL},
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	sum, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.Servers != 2 || sum.Failures != 1 || sum.Alerts != 1 {
		t.Errorf("summary = %+v", sum)
	}

	var alert, failure int
	for _, m := range sender.messages() {
		switch {
		case strings.HasPrefix(m, "Server: <b>up</b>"):
			alert++
		case strings.HasPrefix(m, "Failed to fetch data for server <b>down</b>"):
			failure++
		}
	}
	if alert != 1 || failure != 1 {
		t.Errorf("alert=%d failure=%d, messages: %q", alert, failure, sender.messages())
	}

	if next := p.tracker.Next("up"); next != 40 {
		t.Errorf("next threshold for up = %v, want 40", next)
	}
}

func TestProcessor_Handler(t *testing.T) {
	up := statsServer(t, 45)
	p, err := New(testConfig(),
		WithSender(&recordingSender{}),
		WithLoader(servers.StaticLoader{{Name: "up", URL: up.URL}}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/thresholds")
	if err != nil {
		t.Fatalf("GET /thresholds: %v", err)
	}
	defer resp.Body.Close()

	var body handlers.ThresholdsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Servers) != 1 || body.Servers[0].Next == nil || *body.Servers[0].Next != 40 {
		t.Errorf("thresholds = %+v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}

	for _, path := range []string{"/health", "/metrics", "/stats"} {
		r, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, r.StatusCode)
		}
	}
}

func TestProcessor_RunStopsOnCancel(t *testing.T) {
	up := statsServer(t, 45)
	sender := &recordingSender{}
	p, err := New(testConfig(),
		WithSender(sender),
		WithLoader(servers.StaticLoader{{Name: "up", URL: up.URL}}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(sender.messages()) != 1 {
		t.Errorf("messages = %d, want one alert from the first cycle", len(sender.messages()))
	}
}

func TestNew_RequiresBotToken(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.BotToken = ""
	if _, err := New(cfg); err == nil {
		t.Error("expected error without a bot token")
	}
}
