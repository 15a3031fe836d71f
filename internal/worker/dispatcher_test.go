package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trafficwatch/internal/models"
	"trafficwatch/internal/worker"
)

type mockPublisher struct {
	published   atomic.Uint64
	batches     atomic.Uint64
	failBatch   bool
	failSingles bool
	block       chan struct{}
}

func (m *mockPublisher) Publish(ctx context.Context, event *models.AlertEvent) error {
	if m.failSingles {
		return context.DeadlineExceeded
	}
	m.published.Add(1)
	return nil
}

func (m *mockPublisher) PublishBatch(ctx context.Context, events []*models.AlertEvent) error {
	if m.block != nil {
		<-m.block
	}
	m.batches.Add(1)
	if m.failBatch {
		return context.DeadlineExceeded
	}
	m.published.Add(uint64(len(events)))
	return nil
}

func event(server string) *models.AlertEvent {
	return models.NewAlertEvent(&models.ServerStats{Name: server}, []string{models.ReasonTraffic}, "msg")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcher_FullBatch(t *testing.T) {
	mock := &mockPublisher{}
	d := worker.NewDispatcher(worker.Config{
		Publisher:    mock,
		Workers:      1,
		BatchSize:    5,
		BatchTimeout: time.Hour,
	})
	d.Start()
	defer d.Stop()

	for n := 0; n < 5; n++ {
		if !d.Submit(event("a")) {
			t.Fatal("Submit rejected event")
		}
	}

	waitFor(t, func() bool { return mock.published.Load() == 5 })
	if mock.batches.Load() != 1 {
		t.Errorf("expected 1 batch, got %d", mock.batches.Load())
	}
}

func TestDispatcher_TimeoutFlush(t *testing.T) {
	mock := &mockPublisher{}
	d := worker.NewDispatcher(worker.Config{
		Publisher:    mock,
		Workers:      1,
		BatchSize:    100,
		BatchTimeout: 20 * time.Millisecond,
	})
	d.Start()
	defer d.Stop()

	for n := 0; n < 3; n++ {
		d.Submit(event("a"))
	}

	waitFor(t, func() bool { return mock.published.Load() == 3 })
}

func TestDispatcher_StopFlushes(t *testing.T) {
	mock := &mockPublisher{}
	d := worker.NewDispatcher(worker.Config{
		Publisher:    mock,
		Workers:      2,
		BatchSize:    10,
		BatchTimeout: time.Hour,
	})
	d.Start()

	for n := 0; n < 7; n++ {
		d.Submit(event("a"))
	}
	d.Stop()

	if got := mock.published.Load(); got != 7 {
		t.Errorf("expected 7 published after Stop, got %d", got)
	}
	if d.Submit(event("late")) {
		t.Error("Submit accepted an event after Stop")
	}
	if d.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", d.Stats().Dropped)
	}

	d.Stop()
}

func TestDispatcher_FallsBackToSinglePublish(t *testing.T) {
	mock := &mockPublisher{failBatch: true}
	d := worker.NewDispatcher(worker.Config{Publisher: mock, BatchSize: 4, BatchTimeout: time.Hour})
	d.Start()

	for n := 0; n < 4; n++ {
		d.Submit(event("a"))
	}
	d.Stop()

	stats := d.Stats()
	if stats.Published != 4 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 4 published via fallback", stats)
	}
}

func TestDispatcher_CountsFailures(t *testing.T) {
	mock := &mockPublisher{failBatch: true, failSingles: true}
	d := worker.NewDispatcher(worker.Config{Publisher: mock, BatchSize: 3, BatchTimeout: time.Hour})
	d.Start()

	for n := 0; n < 3; n++ {
		d.Submit(event("a"))
	}
	d.Stop()

	if got := d.Stats().Failed; got != 3 {
		t.Errorf("Failed = %d, want 3", got)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	mock := &mockPublisher{block: make(chan struct{})}
	d := worker.NewDispatcher(worker.Config{
		Publisher:    mock,
		QueueSize:    2,
		Workers:      1,
		BatchSize:    1,
		BatchTimeout: time.Hour,
	})
	d.Start()

	// The worker takes the first event and blocks in PublishBatch.
	d.Submit(event("a"))
	waitFor(t, func() bool { return d.Pending() == 0 })

	accepted := 0
	for n := 0; n < 5; n++ {
		if d.Submit(event("b")) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("accepted %d events into a queue of 2", accepted)
	}
	if d.Stats().Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", d.Stats().Dropped)
	}

	close(mock.block)
	d.Stop()
	if got := mock.published.Load(); got != 3 {
		t.Errorf("published %d, want 3", got)
	}
}

func TestDispatcher_ConcurrentSubmit(t *testing.T) {
	mock := &mockPublisher{}
	d := worker.NewDispatcher(worker.Config{Publisher: mock, QueueSize: 1000, Workers: 3, BatchSize: 7, BatchTimeout: 10 * time.Millisecond})
	d.Start()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Submit(event(string(rune('a' + i%26))))
		}()
	}
	wg.Wait()
	d.Stop()

	if got := mock.published.Load(); got != 50 {
		t.Errorf("published %d, want 50", got)
	}
}
