package storage

import (
	"context"

	"trafficwatch/internal/models"
)

// Recorder persists every successful stats sample as a time-series point
type Recorder interface {
	Record(ctx context.Context, stats *models.ServerStats) error
	Close() error
}

// Noop drops every sample. Used when no time-series store is configured.
type Noop struct{}

func (Noop) Record(context.Context, *models.ServerStats) error { return nil }

func (Noop) Close() error { return nil }
