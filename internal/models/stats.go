package models

import (
	"errors"
	"math"
)

// ServerStats is a single resource-usage snapshot of one server
type ServerStats struct {
	Name                    string  `json:"name"`
	RemainingTrafficGB      float64 `json:"remaining_traffic_gb"`
	RemainingTrafficPercent float64 `json:"remaining_traffic_percent"`
	CPUUsagePercent         float64 `json:"cpu_usage_percent"`
	RAMUsagePercent         float64 `json:"ram_usage_percent"`
}

// StatsPayload is the JSON document served by a stats endpoint:
//
//	{"info": {"bandwidth": {"free_gb": 12.5, "percent_free": 41},
//	          "cpu": {"percent": 3.2}, "ram": {"percent": 47.9}}}
//
// Fields are pointers so a missing value can be told apart from zero.
type StatsPayload struct {
	Info *StatsInfo `json:"info"`
}

// StatsInfo is the "info" object of a StatsPayload
type StatsInfo struct {
	Bandwidth *BandwidthInfo `json:"bandwidth"`
	CPU       *UsageInfo     `json:"cpu"`
	RAM       *UsageInfo     `json:"ram"`
}

// BandwidthInfo describes the remaining traffic allowance
type BandwidthInfo struct {
	FreeGB      *float64 `json:"free_gb"`
	PercentFree *float64 `json:"percent_free"`
}

// UsageInfo is a single usage percentage
type UsageInfo struct {
	Percent *float64 `json:"percent"`
}

// Payload validation errors
var (
	ErrMissingInfo        = errors.New("missing info object")
	ErrMissingBandwidth   = errors.New("missing info.bandwidth.free_gb or info.bandwidth.percent_free")
	ErrMissingCPU         = errors.New("missing info.cpu.percent")
	ErrMissingRAM         = errors.New("missing info.ram.percent")
	ErrNonFiniteStatistic = errors.New("statistic is not a finite number")
)

// NewStatsPayload builds a fully populated payload
func NewStatsPayload(freeGB, percentFree, cpuPercent, ramPercent float64) *StatsPayload {
	return &StatsPayload{
		Info: &StatsInfo{
			Bandwidth: &BandwidthInfo{FreeGB: &freeGB, PercentFree: &percentFree},
			CPU:       &UsageInfo{Percent: &cpuPercent},
			RAM:       &UsageInfo{Percent: &ramPercent},
		},
	}
}

// Validate reports the first missing or unusable field
func (p *StatsPayload) Validate() error {
	if p == nil || p.Info == nil {
		return ErrMissingInfo
	}
	b := p.Info.Bandwidth
	if b == nil || b.FreeGB == nil || b.PercentFree == nil {
		return ErrMissingBandwidth
	}
	if p.Info.CPU == nil || p.Info.CPU.Percent == nil {
		return ErrMissingCPU
	}
	if p.Info.RAM == nil || p.Info.RAM.Percent == nil {
		return ErrMissingRAM
	}
	for _, v := range []float64{*b.FreeGB, *b.PercentFree, *p.Info.CPU.Percent, *p.Info.RAM.Percent} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFiniteStatistic
		}
	}
	return nil
}

// ToStats validates the payload and converts it into ServerStats for server name
func (p *StatsPayload) ToStats(name string) (*ServerStats, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &ServerStats{
		Name:                    name,
		RemainingTrafficGB:      *p.Info.Bandwidth.FreeGB,
		RemainingTrafficPercent: *p.Info.Bandwidth.PercentFree,
		CPUUsagePercent:         *p.Info.CPU.Percent,
		RAMUsagePercent:         *p.Info.RAM.Percent,
	}, nil
}
