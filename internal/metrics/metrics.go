package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics (status server)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trafficwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Poll cycle metrics
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_poll_cycles_total",
			Help: "Total number of poll cycles",
		},
		[]string{"status"}, // status: completed, aborted
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trafficwatch_poll_cycle_duration_seconds",
			Help:    "Time taken by one poll cycle",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	ServersPolled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trafficwatch_servers_polled",
			Help: "Number of servers in the most recently loaded server list",
		},
	)

	// Fetch metrics
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_fetch_attempts_total",
			Help: "Total number of stats fetch attempts",
		},
		[]string{"server", "outcome"}, // outcome: ok, transient, terminal
	)

	FetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_fetch_failures_total",
			Help: "Total number of fetches that failed after all attempts",
		},
		[]string{"server"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trafficwatch_fetch_duration_seconds",
			Help:    "Time taken to fetch stats from a server, retries included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 60},
		},
		[]string{"server"},
	)

	// Latest observed server statistics
	RemainingTrafficPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_remaining_traffic_percent",
			Help: "Remaining traffic percent reported by a server",
		},
		[]string{"server"},
	)

	RemainingTrafficGB = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_remaining_traffic_gb",
			Help: "Remaining traffic in GB reported by a server",
		},
		[]string{"server"},
	)

	CPUUsagePercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_cpu_usage_percent",
			Help: "CPU usage percent reported by a server",
		},
		[]string{"server"},
	)

	RAMUsagePercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_ram_usage_percent",
			Help: "RAM usage percent reported by a server",
		},
		[]string{"server"},
	)

	// Alerting metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_alerts_total",
			Help: "Total number of alerts fired",
		},
		[]string{"server", "reason"}, // reason: traffic, cpu, ram
	)

	NextThresholdPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_next_threshold_percent",
			Help: "Armed traffic threshold per server",
		},
		[]string{"server"},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"status"}, // status: delivered, failed
	)

	NotificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trafficwatch_notification_duration_seconds",
			Help:    "Time taken to deliver one message to all chats",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_kafka_publish_total",
			Help: "Total number of alert events published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trafficwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trafficwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Alert dispatcher metrics
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trafficwatch_dispatch_queue_depth",
			Help: "Alert events waiting to be published",
		},
	)

	DispatchDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trafficwatch_dispatch_dropped_total",
			Help: "Alert events dropped because the dispatch queue was full or closed",
		},
	)

	DispatchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trafficwatch_dispatch_batch_size",
			Help:    "Number of alert events per published batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Stats recorder metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_stats_records_total",
			Help: "Total number of stats points written to the time-series sink",
		},
		[]string{"status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)

// ObserveStats updates the per-server gauges
func ObserveStats(server string, remainingGB, remainingPercent, cpu, ram float64) {
	RemainingTrafficGB.WithLabelValues(server).Set(remainingGB)
	RemainingTrafficPercent.WithLabelValues(server).Set(remainingPercent)
	CPUUsagePercent.WithLabelValues(server).Set(cpu)
	RAMUsagePercent.WithLabelValues(server).Set(ram)
}

// ForgetServer drops every per-server series of a server no longer monitored
func ForgetServer(server string) {
	RemainingTrafficGB.DeleteLabelValues(server)
	RemainingTrafficPercent.DeleteLabelValues(server)
	CPUUsagePercent.DeleteLabelValues(server)
	RAMUsagePercent.DeleteLabelValues(server)
	NextThresholdPercent.DeleteLabelValues(server)
}
