// Package liquidation_scanner runs the poll cycle that turns candidate
// addresses into validated liquidatable accounts.
//
// One cycle: fetch candidates from the primary source, filter the denylist,
// fall back to the chain log sweep when the primary comes back empty, check
// the gas ceiling, validate each candidate and hand new liquidatable accounts
// to the sink. Cycles never overlap.
package liquidation_scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/clock"
	"github.com/archon-research/stl-liquidator/internal/pkg/usd"
	"github.com/archon-research/stl-liquidator/internal/ports/inbound"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
	"github.com/archon-research/stl-liquidator/internal/services/registry"
	"github.com/archon-research/stl-liquidator/internal/services/validator"
)

const (
	// tracerName is the instrumentation name for this service.
	tracerName = "github.com/archon-research/stl-liquidator/internal/services/liquidation_scanner"

	abandonGasUnavailable = "gas_price_unavailable"
	abandonGasCeiling     = "gas_price_above_ceiling"
)

// ErrReadPathBroken means candidates were validated but not a single on-chain
// read succeeded. The RPC or multicall path is misconfigured.
var ErrReadPathBroken = errors.New("candidates attempted but no on-chain reads succeeded")

// Validator confirms one candidate on chain.
type Validator interface {
	Validate(ctx context.Context, batch *validator.Batch, candidate string, minDebtUSD18 *big.Int) (*entity.ValidatedAccount, error)
}

// Denylist removes excluded addresses from a candidate list.
type Denylist interface {
	Filter(addrs []string) (kept []string, denied int)
}

// GasPricer reads the current gas price.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Config holds configuration for the scanner.
type Config struct {
	// PollInterval is the wait between the end of one cycle and the start of the next.
	PollInterval time.Duration

	// MinDebtUSD18 skips accounts whose total borrow is below it.
	MinDebtUSD18 *big.Int

	// GasCeilingWei abandons a cycle when the gas price is above it.
	GasCeilingWei *big.Int

	// DisableGasGuard skips the gas price read entirely.
	DisableGasGuard bool

	// GasTimeout bounds the gas price read.
	GasTimeout time.Duration

	// FallbackEnabled sweeps chain logs when the primary source yields nothing.
	FallbackEnabled bool

	// MaxCandidatesPerCycle caps validation work. Zero means unlimited.
	MaxCandidatesPerCycle int

	// MaxHandoffsPerCycle caps hand-offs. Zero means unlimited.
	MaxHandoffsPerCycle int

	// RepeatWindow suppresses a second hand-off of the same (account, market).
	RepeatWindow time.Duration

	// RetentionWindow bounds how long ledger entries are kept.
	RetentionWindow time.Duration

	// WatchThreshold is the health ratio below which healthy accounts count as watchlist.
	WatchThreshold float64

	// Simulate records liquidatable accounts without handing them off.
	Simulate bool

	// StaleAfter marks the scanner unhealthy when no cycle completed for this long.
	// Zero disables the check.
	StaleAfter time.Duration

	Clock clock.Clock

	// Metrics is the metrics recorder for telemetry (optional).
	Metrics outbound.ScannerMetrics

	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		PollInterval:    30 * time.Second,
		MinDebtUSD18:    usd.FromWhole(100),
		GasCeilingWei:   big.NewInt(50_000_000_000),
		GasTimeout:      10 * time.Second,
		RepeatWindow:    10 * time.Minute,
		RetentionWindow: time.Hour,
		WatchThreshold:  1.05,
		StaleAfter:      5 * time.Minute,
		Clock:           clock.Real{},
		Logger:          slog.Default(),
	}
}

// CycleReport describes one finished cycle.
type CycleReport struct {
	Cycle      uint64
	Source     string
	Candidates int
	Denied     int

	// Abandoned is non-empty when the cycle stopped before validation.
	Abandoned string
	GasPrice  *big.Int

	Attempted       int
	Failed          int
	Liquidatable    []entity.ValidatedAccount
	HandedOff       int
	Simulated       int
	Repeats         int
	Deferred        int
	PublishFailures int
	Evicted         int

	Summary  validator.Summary
	Duration time.Duration
}

// Service is the liquidation scanner loop.
type Service struct {
	config Config

	primary   outbound.CandidateSource
	fallback  outbound.CandidateSource
	denylist  Denylist
	gas       GasPricer
	validator Validator
	sink      outbound.AccountSink
	metrics   outbound.ScannerMetrics

	ledger *Ledger
	cycle  uint64
	logger *slog.Logger

	mu     sync.RWMutex
	status inbound.ScannerStatus
}

var _ inbound.HealthChecker = (*Service)(nil)

// NewService creates a new scanner. fallback may be nil.
func NewService(
	config Config,
	primary outbound.CandidateSource,
	fallback outbound.CandidateSource,
	denylist Denylist,
	gas GasPricer,
	v Validator,
	sink outbound.AccountSink,
) (*Service, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary source is required")
	}
	if denylist == nil {
		return nil, fmt.Errorf("denylist is required")
	}
	if v == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if gas == nil && !config.DisableGasGuard {
		return nil, fmt.Errorf("gas pricer is required unless the gas guard is disabled")
	}

	defaults := ConfigDefaults()
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MinDebtUSD18 == nil {
		config.MinDebtUSD18 = defaults.MinDebtUSD18
	}
	if config.GasCeilingWei == nil {
		config.GasCeilingWei = defaults.GasCeilingWei
	}
	if config.GasTimeout == 0 {
		config.GasTimeout = defaults.GasTimeout
	}
	if config.RepeatWindow == 0 {
		config.RepeatWindow = defaults.RepeatWindow
	}
	if config.RetentionWindow == 0 {
		config.RetentionWindow = defaults.RetentionWindow
	}
	if config.RetentionWindow < config.RepeatWindow {
		config.RetentionWindow = config.RepeatWindow
	}
	if config.WatchThreshold == 0 {
		config.WatchThreshold = defaults.WatchThreshold
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:    config,
		primary:   primary,
		fallback:  fallback,
		denylist:  denylist,
		gas:       gas,
		validator: v,
		sink:      sink,
		metrics:   config.Metrics,
		ledger:    NewLedger(),
		logger:    config.Logger.With("component", "liquidation-scanner"),
	}, nil
}

// IsFatal reports whether err should stop the scanner instead of being
// retried on the next cycle.
func IsFatal(err error) bool {
	return errors.Is(err, ErrReadPathBroken) ||
		errors.Is(err, registry.ErrNoValidRegistry) ||
		errors.Is(err, registry.ErrOracleMismatch) ||
		errors.Is(err, registry.ErrNoMarkets)
}

// Run executes cycles until ctx is cancelled or a fatal error occurs.
// Cancellation is observed between cycles; a running cycle completes.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("liquidation scanner started",
		"pollInterval", s.config.PollInterval,
		"primary", s.primary.Name(),
		"fallback", s.fallbackEnabled(),
		"simulate", s.config.Simulate)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := s.RunCycle(context.WithoutCancel(ctx)); err != nil {
			if IsFatal(err) {
				s.logger.Error("fatal scanner error", "error", err)
				return err
			}
			s.logger.Error("cycle failed", "cycle", s.cycle, "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("liquidation scanner stopped", "cycles", s.cycle)
			return nil
		case <-s.config.Clock.After(s.config.PollInterval):
		}
	}
}

// RunCycle executes exactly one scan cycle.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	s.cycle++
	start := s.config.Clock.Now()
	report := &CycleReport{Cycle: s.cycle}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "liquidation_scanner.cycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int64("cycle.number", int64(s.cycle))),
	)
	defer span.End()

	err := s.runCycle(ctx, report)
	report.Duration = s.config.Clock.Now().Sub(start)

	span.SetAttributes(
		attribute.String("cycle.source", report.Source),
		attribute.Int("cycle.candidates", report.Candidates),
		attribute.Int("cycle.attempted", report.Attempted),
		attribute.Int("cycle.liquidatable", len(report.Liquidatable)),
		attribute.Int("cycle.handed_off", report.HandedOff),
		attribute.Int64("cycle.duration_ms", report.Duration.Milliseconds()),
	)
	if report.Abandoned != "" {
		span.SetAttributes(attribute.String("cycle.abandoned", report.Abandoned))
	}

	s.recordStatus(report, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle failed")
		if s.metrics != nil {
			s.metrics.RecordCycleError(ctx, errorReason(err))
		}
		return report, err
	}

	if s.metrics != nil {
		s.metrics.RecordCycle(ctx, report.Duration, report.stats())
	}

	s.logger.Info("cycle completed",
		"cycle", report.Cycle,
		"source", report.Source,
		"candidates", report.Candidates,
		"denied", report.Denied,
		"attempted", report.Attempted,
		"reads", report.Summary.Reads,
		"liquidatable", len(report.Liquidatable),
		"handedOff", report.HandedOff,
		"repeats", report.Repeats,
		"abandoned", report.Abandoned,
		"duration", report.Duration)
	return report, nil
}

func (s *Service) runCycle(ctx context.Context, report *CycleReport) error {
	candidates, err := s.fetchCandidates(ctx, report)
	if err != nil {
		return err
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		report.Evicted = s.ledger.Evict(s.config.Clock.Now(), s.config.RetentionWindow)
		return nil
	}

	if reason := s.checkGas(ctx, report); reason != "" {
		report.Abandoned = reason
		return nil
	}

	if limit := s.config.MaxCandidatesPerCycle; limit > 0 && len(candidates) > limit {
		s.logger.Info("candidate list truncated", "candidates", len(candidates), "limit", limit)
		candidates = candidates[:limit]
	}

	batch := validator.NewBatch(report.Cycle, s.config.WatchThreshold)
	for _, candidate := range candidates {
		account, err := s.validator.Validate(ctx, batch, candidate, s.config.MinDebtUSD18)
		if err != nil {
			report.Failed++
			s.logger.Warn("validation failed", "account", candidate, "error", err)
			continue
		}
		if account == nil {
			continue
		}
		report.Liquidatable = append(report.Liquidatable, *account)
		s.handoff(ctx, report, account)
	}

	report.Evicted = s.ledger.Evict(s.config.Clock.Now(), s.config.RetentionWindow)
	report.Summary = batch.Summary()
	report.Attempted = report.Summary.Attempted

	if report.Summary.Attempted-report.Summary.Denied > 0 && report.Summary.Reads == 0 {
		return fmt.Errorf("cycle %d: %d candidates: %w", report.Cycle, report.Summary.Attempted, ErrReadPathBroken)
	}
	return nil
}

func (s *Service) fallbackEnabled() bool {
	return s.config.FallbackEnabled && s.fallback != nil
}

// fetchCandidates returns denylist-filtered candidates from the primary
// source, or from the fallback when the primary has nothing to offer.
func (s *Service) fetchCandidates(ctx context.Context, report *CycleReport) ([]string, error) {
	report.Source = s.primary.Name()
	addrs, err := s.primary.Fetch(ctx)
	if err != nil {
		if !s.fallbackEnabled() {
			return nil, fmt.Errorf("failed to fetch candidates from %s: %w", s.primary.Name(), err)
		}
		s.logger.Warn("primary source failed, using fallback",
			"source", s.primary.Name(), "fallback", s.fallback.Name(), "error", err)
		addrs = nil
	}

	kept, denied := s.denylist.Filter(addrs)
	report.Denied = denied
	if len(kept) > 0 || !s.fallbackEnabled() {
		return kept, nil
	}

	report.Source = s.fallback.Name()
	addrs, err = s.fallback.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates from %s: %w", s.fallback.Name(), err)
	}
	kept, denied = s.denylist.Filter(addrs)
	report.Denied += denied
	return kept, nil
}

// checkGas returns a non-empty abandon reason when validation should not run.
func (s *Service) checkGas(ctx context.Context, report *CycleReport) string {
	if s.config.DisableGasGuard {
		return ""
	}

	gasCtx, cancel := context.WithTimeout(ctx, s.config.GasTimeout)
	defer cancel()

	price, err := s.gas.SuggestGasPrice(gasCtx)
	if err != nil {
		s.logger.Warn("gas price unavailable, abandoning cycle", "error", err)
		return abandonGasUnavailable
	}
	report.GasPrice = price
	if price.Cmp(s.config.GasCeilingWei) > 0 {
		s.logger.Info("gas price above ceiling, abandoning cycle",
			"gasPriceWei", price, "ceilingWei", s.config.GasCeilingWei)
		return abandonGasCeiling
	}
	return ""
}

// handoff publishes account unless it was handed off within the repeat
// window. Failed publishes are not recorded so the account is offered again.
func (s *Service) handoff(ctx context.Context, report *CycleReport, account *entity.ValidatedAccount) {
	key := account.Key()
	now := s.config.Clock.Now()
	log := s.logger.With("account", account.Address, "market", key.Market,
		"shortfallUsd", usd.Format(account.ShortfallUSD18))

	if s.ledger.Seen(key, now, s.config.RepeatWindow) {
		report.Repeats++
		log.Debug("skipping repeat hand-off")
		return
	}
	if limit := s.config.MaxHandoffsPerCycle; limit > 0 && report.HandedOff+report.Simulated >= limit {
		report.Deferred++
		log.Info("hand-off limit reached, deferring", "limit", limit)
		return
	}

	if s.config.Simulate {
		s.ledger.Mark(key, now)
		report.Simulated++
		log.Info("simulated hand-off", "totalBorrowUsd", usd.Format(account.TotalBorrowUSD18))
		return
	}

	if err := s.sink.Publish(ctx, *account); err != nil {
		report.PublishFailures++
		log.Error("hand-off failed", "error", err)
		return
	}
	s.ledger.Mark(key, now)
	report.HandedOff++
	log.Info("account handed off", "totalBorrowUsd", usd.Format(account.TotalBorrowUSD18))
}

func (s *Service) recordStatus(report *CycleReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Cycles++
	s.status.LastCycleAt = s.config.Clock.Now()
	s.status.LastSource = report.Source
	s.status.LastCandidates = report.Candidates
	s.status.LastHandedOff = report.HandedOff
	s.status.LedgerEntries = s.ledger.Len()
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}

// IsReady returns true once the first cycle has completed.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Cycles > 0
}

// IsHealthy returns false when the last cycle is older than StaleAfter.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config.StaleAfter <= 0 || s.status.Cycles == 0 {
		return true
	}
	return s.config.Clock.Now().Sub(s.status.LastCycleAt) <= s.config.StaleAfter
}

func (s *Service) Status() inbound.ScannerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (r *CycleReport) stats() outbound.CycleStats {
	return outbound.CycleStats{
		Source:       r.Source,
		Candidates:   r.Candidates,
		Attempted:    r.Attempted,
		Reads:        r.Summary.Reads,
		Liquidatable: len(r.Liquidatable),
		HandedOff:    r.HandedOff,
		Watchlist:    r.Summary.Watchlist,
		HasRatios:    r.Summary.HasRatios,
		MinRatio:     r.Summary.Min,
		P5Ratio:      r.Summary.P5,
		MedianRatio:  r.Summary.Median,
		Abandoned:    r.Abandoned,
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrReadPathBroken):
		return "read_path_broken"
	case IsFatal(err):
		return "registry"
	default:
		return "source"
	}
}
