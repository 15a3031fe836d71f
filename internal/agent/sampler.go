package agent

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Sample is one reading of the host counters the agent reports
type Sample struct {
	CPUPercent float64
	RAMPercent float64
	RxBytes    uint64
	TxBytes    uint64
}

// Sampler reads host counters
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SystemSampler reads the local host through gopsutil
type SystemSampler struct{}

// Sample reads CPU, memory and aggregate network counters. Network counters
// are cumulative since boot.
func (SystemSampler) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) == 0 {
		return Sample{}, fmt.Errorf("cpu percent: no data")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("virtual memory: %w", err)
	}

	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return Sample{}, fmt.Errorf("net io counters: %w", err)
	}
	if len(counters) == 0 {
		return Sample{}, fmt.Errorf("net io counters: no data")
	}

	return Sample{
		CPUPercent: percents[0],
		RAMPercent: vm.UsedPercent,
		RxBytes:    counters[0].BytesRecv,
		TxBytes:    counters[0].BytesSent,
	}, nil
}
