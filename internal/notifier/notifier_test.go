package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   map[int64][]string
	failOn map[int64]bool
}

func newRecordingSender(failOn ...int64) *recordingSender {
	s := &recordingSender{sent: make(map[int64][]string), failOn: make(map[int64]bool)}
	for _, id := range failOn {
		s.failOn[id] = true
	}
	return s
}

func (s *recordingSender) Send(ctx context.Context, chatID int64, text string) error {
	if s.failOn[chatID] {
		return &DeliveryError{ChatID: chatID, Status: http.StatusForbidden, Body: "bot was blocked"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[chatID] = append(s.sent[chatID], text)
	return nil
}

func TestNotify_FanOutToleratesFailures(t *testing.T) {
	sender := newRecordingSender(2)
	n := New(sender)

	res := n.Notify(context.Background(), []int64{1, 2, 3}, "hello")
	if res.Delivered != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 delivered 1 failed", res)
	}
	for _, id := range []int64{1, 3} {
		if got := sender.sent[id]; len(got) != 1 || got[0] != "hello" {
			t.Errorf("chat %d received %v", id, got)
		}
	}
}

func TestNotify_DeduplicatesChatIDs(t *testing.T) {
	sender := newRecordingSender()
	res := New(sender).Notify(context.Background(), []int64{7, 7, 8, 7}, "x")

	if res.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", res.Delivered)
	}
	if len(sender.sent[7]) != 1 {
		t.Errorf("chat 7 received %d messages, want 1", len(sender.sent[7]))
	}
}

func TestNotify_NoTargets(t *testing.T) {
	res := New(newRecordingSender()).Notify(context.Background(), nil, "x")
	if res != (Result{}) {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestTelegram_Send(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", APIBase: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Send(context.Background(), -100200, "<b>hi</b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if path != "/bot123:abc/sendMessage" {
		t.Errorf("path = %q", path)
	}
	want := sendMessageRequest{ChatID: -100200, Text: "<b>hi</b>", ParseMode: "html"}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
}

func TestTelegram_SendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "t", APIBase: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}

	err = tg.Send(context.Background(), 5, "x")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if de.ChatID != 5 || de.Status != http.StatusBadRequest || !strings.Contains(de.Body, "chat not found") {
		t.Errorf("unexpected error: %+v", de)
	}
}

func TestTelegram_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "secret-token", APIBase: base})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	err = tg.Send(context.Background(), 1, "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("token leaked in error: %v", err)
	}
}

func TestNewTelegram_RequiresToken(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{Token: "  "}); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
}
