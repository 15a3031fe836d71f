package models

import (
	"time"

	"github.com/google/uuid"
)

// Alert reasons
const (
	ReasonTraffic = "traffic"
	ReasonCPU     = "cpu"
	ReasonRAM     = "ram"
)

// AlertEvent records one fired alert for downstream consumers
type AlertEvent struct {
	ID        string       `json:"id"`
	CycleID   string       `json:"cycle_id,omitempty"`
	Server    string       `json:"server"`
	Reasons   []string     `json:"reasons"`
	Stats     *ServerStats `json:"stats"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`

	// Partition key (the server name), so events of one server stay ordered
	PartitionKey string `json:"-"`
}

// NewAlertEvent creates an event for stats with a fresh id
func NewAlertEvent(stats *ServerStats, reasons []string, message string) *AlertEvent {
	return &AlertEvent{
		ID:           uuid.New().String(),
		Server:       stats.Name,
		Reasons:      reasons,
		Stats:        stats,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
		PartitionKey: stats.Name,
	}
}

// WithCycle sets the poll cycle the event was raised in
func (e *AlertEvent) WithCycle(cycleID string) *AlertEvent {
	e.CycleID = cycleID
	return e
}
