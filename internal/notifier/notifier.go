package notifier

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"trafficwatch/internal/logger"
	"trafficwatch/internal/metrics"
)

// Result summarizes one fan-out
type Result struct {
	Delivered int
	Failed    int
}

// Notifier delivers a message to every destination chat
type Notifier struct {
	sender Sender
}

// New creates a Notifier on top of sender
func New(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Notify sends msg to each distinct chat id concurrently and waits for all
// deliveries. A failed delivery is logged and does not stop the others.
func (n *Notifier) Notify(ctx context.Context, chatIDs []int64, msg string) Result {
	log := logger.WithComponent("notifier")
	targets := dedupe(chatIDs)
	if len(targets) == 0 {
		log.Warn().Msg("no chat ids configured, dropping message")
		return Result{}
	}

	start := time.Now()
	failed := make([]bool, len(targets))

	// Deliveries never return an error to the group so one failure cannot
	// cancel the rest.
	var g errgroup.Group
	for i, id := range targets {
		i, id := i, id
		g.Go(func() error {
			if err := n.sender.Send(ctx, id, msg); err != nil {
				failed[i] = true
				metrics.NotificationsTotal.WithLabelValues("failed").Inc()
				log.Error().
					Err(err).
					Int64("chat_id", id).
					Msg("notification delivery failed")
				return nil
			}
			metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
			return nil
		})
	}
	_ = g.Wait()
	metrics.NotificationDuration.Observe(time.Since(start).Seconds())

	var res Result
	for _, f := range failed {
		if f {
			res.Failed++
		} else {
			res.Delivered++
		}
	}

	log.Debug().
		Int("delivered", res.Delivered).
		Int("failed", res.Failed).
		Msg("notification fan-out complete")
	return res
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
