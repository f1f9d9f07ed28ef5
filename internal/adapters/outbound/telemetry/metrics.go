package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var _ outbound.ScannerMetrics = (*ScannerMetrics)(nil)

// ScannerMetrics implements outbound.ScannerMetrics using OpenTelemetry.
type ScannerMetrics struct {
	cycleDuration metric.Float64Histogram
	cycles        metric.Int64Counter
	cycleErrors   metric.Int64Counter
	candidates    metric.Int64Counter
	validated     metric.Int64Counter
	liquidatable  metric.Int64Counter
	handedOff     metric.Int64Counter
	chainReads    metric.Int64Counter
	healthRatio   metric.Float64Gauge
	watchlist     metric.Int64Gauge
}

// NewScannerMetrics creates the scanner instruments on the global meter provider.
// meterName should typically be the package name or service name.
func NewScannerMetrics(meterName string) (*ScannerMetrics, error) {
	meter := otel.Meter(meterName)
	m := &ScannerMetrics{}
	var err error

	if m.cycleDuration, err = meter.Float64Histogram(
		"scan_cycle_duration_seconds",
		metric.WithDescription("Time taken by one scan cycle"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create scan_cycle_duration_seconds histogram: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.cycles, "scan_cycles_total", "Total number of completed scan cycles"},
		{&m.cycleErrors, "scan_cycle_errors_total", "Total number of failed scan cycles"},
		{&m.candidates, "scan_candidates_total", "Candidates left after denylist filtering"},
		{&m.validated, "scan_validated_total", "Candidates passed to the validator"},
		{&m.liquidatable, "scan_liquidatable_total", "Accounts with a positive shortfall"},
		{&m.handedOff, "scan_handed_off_total", "Accounts handed to the execution sink"},
		{&m.chainReads, "scan_chain_reads_total", "On-chain view calls answered"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	if m.healthRatio, err = meter.Float64Gauge(
		"scan_health_ratio",
		metric.WithDescription("Health ratio distribution of validated accounts in the last cycle"),
	); err != nil {
		return nil, fmt.Errorf("failed to create scan_health_ratio gauge: %w", err)
	}

	if m.watchlist, err = meter.Int64Gauge(
		"scan_watchlist_accounts",
		metric.WithDescription("Healthy accounts below the watch threshold in the last cycle"),
	); err != nil {
		return nil, fmt.Errorf("failed to create scan_watchlist_accounts gauge: %w", err)
	}

	return m, nil
}

// RecordCycle records a finished cycle.
func (m *ScannerMetrics) RecordCycle(ctx context.Context, duration time.Duration, stats outbound.CycleStats) {
	status := "completed"
	if stats.Abandoned != "" {
		status = "abandoned"
	}
	source := metric.WithAttributes(attribute.String("source", stats.Source))

	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	m.cycles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", stats.Abandoned),
	))
	m.candidates.Add(ctx, int64(stats.Candidates), source)
	m.validated.Add(ctx, int64(stats.Attempted), source)
	m.liquidatable.Add(ctx, int64(stats.Liquidatable), source)
	m.handedOff.Add(ctx, int64(stats.HandedOff), source)
	m.chainReads.Add(ctx, int64(stats.Reads))

	if stats.Abandoned != "" {
		return
	}
	m.watchlist.Record(ctx, int64(stats.Watchlist))
	if !stats.HasRatios {
		return
	}
	m.healthRatio.Record(ctx, stats.MinRatio, metric.WithAttributes(attribute.String("stat", "min")))
	m.healthRatio.Record(ctx, stats.P5Ratio, metric.WithAttributes(attribute.String("stat", "p5")))
	m.healthRatio.Record(ctx, stats.MedianRatio, metric.WithAttributes(attribute.String("stat", "median")))
}

// RecordCycleError increments the cycle error counter.
func (m *ScannerMetrics) RecordCycleError(ctx context.Context, reason string) {
	m.cycleErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
