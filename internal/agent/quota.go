package agent

import (
	"errors"
	"fmt"
	"strings"
)

const gb = 1024 * 1024 * 1024

// Quota errors
var (
	ErrInvalidQuota     = errors.New("agent quota must be positive")
	ErrInvalidCountMode = errors.New("agent count mode must be one of sum, max, rx, tx")
)

// CountMode selects which network counters consume the quota
type CountMode string

const (
	CountSum CountMode = "sum"
	CountMax CountMode = "max"
	CountRx  CountMode = "rx"
	CountTx  CountMode = "tx"
)

// ParseCountMode parses a count mode, case-insensitively
func ParseCountMode(s string) (CountMode, error) {
	switch m := CountMode(strings.ToLower(strings.TrimSpace(s))); m {
	case CountSum, CountMax, CountRx, CountTx:
		return m, nil
	case "":
		return CountSum, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCountMode, s)
	}
}

// Quota is the traffic allowance of the host
type Quota struct {
	TotalGB float64
	Mode    CountMode
}

// UsedGB returns the traffic counted against the quota
func (q Quota) UsedGB(s Sample) float64 {
	var used uint64
	switch q.Mode {
	case CountRx:
		used = s.RxBytes
	case CountTx:
		used = s.TxBytes
	case CountMax:
		used = max(s.RxBytes, s.TxBytes)
	default:
		used = s.RxBytes + s.TxBytes
	}
	return float64(used) / gb
}

// Remaining returns free traffic in GB and as a percent of the quota,
// both clamped at zero
func (q Quota) Remaining(s Sample) (freeGB, percentFree float64) {
	freeGB = max(q.TotalGB-q.UsedGB(s), 0)
	return freeGB, freeGB * 100 / q.TotalGB
}
