package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"trafficwatch/internal/config"
	"trafficwatch/internal/models"
)

// Measurement is the influx measurement stats are written to
const Measurement = "server_stats"

// ErrInfluxConfig is returned when a required influx setting is missing
var ErrInfluxConfig = errors.New("influx url, org and bucket are required")

// Influx writes stats samples with the blocking write API
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	now    func() time.Time
}

// NewInflux connects to the influx server described by cfg
func NewInflux(cfg config.InfluxConfig) (*Influx, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, ErrInfluxConfig
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		now:    time.Now,
	}, nil
}

// Point builds the time-series point for one sample
func Point(stats *models.ServerStats, ts time.Time) *write.Point {
	return influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"server": stats.Name,
		},
		map[string]interface{}{
			"remaining_gb":      stats.RemainingTrafficGB,
			"remaining_percent": stats.RemainingTrafficPercent,
			"cpu_percent":       stats.CPUUsagePercent,
			"ram_percent":       stats.RAMUsagePercent,
		},
		ts,
	)
}

// Record writes one sample
func (i *Influx) Record(ctx context.Context, stats *models.ServerStats) error {
	if err := i.writer.WritePoint(ctx, Point(stats, i.now())); err != nil {
		return fmt.Errorf("write %s point for %s: %w", Measurement, stats.Name, err)
	}
	return nil
}

// Ping reports whether the influx server is reachable
func (i *Influx) Ping(ctx context.Context) error {
	ok, err := i.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("influx ping failed")
	}
	return nil
}

// Close releases the client
func (i *Influx) Close() error {
	i.client.Close()
	return nil
}
