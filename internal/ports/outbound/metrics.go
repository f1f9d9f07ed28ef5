// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"
)

// CycleStats is what a finished scan cycle reports to telemetry.
type CycleStats struct {
	Source       string
	Candidates   int
	Attempted    int
	Reads        int
	Liquidatable int
	HandedOff    int
	Watchlist    int

	// Health ratios are only meaningful when HasRatios is true.
	HasRatios   bool
	MinRatio    float64
	P5Ratio     float64
	MedianRatio float64

	// Abandoned is set when the cycle stopped before validation, e.g. on the gas guard.
	Abandoned string
}

// ScannerMetrics records scanner metrics without depending on a telemetry
// implementation.
type ScannerMetrics interface {
	RecordCycle(ctx context.Context, duration time.Duration, stats CycleStats)
	RecordCycleError(ctx context.Context, reason string)
}
