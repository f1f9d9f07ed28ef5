// Package chainlogs discovers borrowers by sweeping Borrow and LiquidateBorrow
// events over recent blocks.
package chainlogs

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that Source implements outbound.CandidateSource.
var _ outbound.CandidateSource = (*Source)(nil)

// MarketLister returns the markets to sweep.
type MarketLister interface {
	Markets(ctx context.Context) ([]common.Address, error)
}

type Config struct {
	// LookbackBlocks is how far back Fetch sweeps from the head.
	LookbackBlocks uint64

	// ChunkSize is the initial and maximum eth_getLogs range.
	ChunkSize uint64

	// CallTimeout bounds each eth_getLogs request.
	CallTimeout time.Duration

	Logger *slog.Logger
}

func ConfigDefaults() Config {
	return Config{
		LookbackBlocks: 10_000,
		ChunkSize:      2_000,
		CallTimeout:    20 * time.Second,
		Logger:         slog.Default(),
	}
}

// SweepStats describes one sweep.
type SweepStats struct {
	Queries int
	Shrinks int
	Skipped int
	Failed  int
}

// Source sweeps market event logs with an adaptive block window.
type Source struct {
	config  Config
	reader  outbound.ChainReader
	markets MarketLister
	logger  *slog.Logger

	borrow    abi.Event
	liquidate abi.Event
}

func NewSource(config Config, reader outbound.ChainReader, markets MarketLister) (*Source, error) {
	if reader == nil {
		return nil, fmt.Errorf("chain reader is required")
	}
	if markets == nil {
		return nil, fmt.Errorf("market lister is required")
	}
	defaults := ConfigDefaults()
	if config.LookbackBlocks == 0 {
		config.LookbackBlocks = defaults.LookbackBlocks
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctoken, err := abis.GetCTokenABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load cToken ABI: %w", err)
	}

	return &Source{
		config:    config,
		reader:    reader,
		markets:   markets,
		logger:    config.Logger.With("component", "chain-log-source"),
		borrow:    ctoken.Events["Borrow"],
		liquidate: ctoken.Events["LiquidateBorrow"],
	}, nil
}

func (s *Source) Name() string { return "chain" }

// Fetch sweeps the configured lookback.
func (s *Source) Fetch(ctx context.Context) ([]string, error) {
	return s.Lookback(ctx, s.config.LookbackBlocks)
}

// Lookback sweeps [head-blocks, head] over every active market.
func (s *Source) Lookback(ctx context.Context, blocks uint64) ([]string, error) {
	markets, err := s.markets.Markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing markets: %w", err)
	}
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading block number: %w", err)
	}
	from := uint64(0)
	if head > blocks {
		from = head - blocks
	}
	addrs, _, err := s.Sweep(ctx, markets, from, head)
	return addrs, err
}

// Sweep collects borrowers from every market over [from, to]. Each block is
// covered exactly once per market: a rejected range is retried in halves, a
// failing single block is skipped, and any other error moves past the window.
func (s *Source) Sweep(ctx context.Context, markets []common.Address, from, to uint64) ([]string, SweepStats, error) {
	var stats SweepStats
	seen := make(map[string]struct{})
	out := []string{}

	if from > to {
		return out, stats, nil
	}

	s.logger.Info("sweeping event logs", "markets", len(markets), "from", from, "to", to, "chunk", s.config.ChunkSize)

	for _, market := range markets {
		w := &window{market: market, start: from, chunk: s.config.ChunkSize, max: s.config.ChunkSize}
		for w.start <= to {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			start, end := w.bounds(to)
			stats.Queries++

			logs, err := s.filter(ctx, market, start, end)
			switch {
			case err == nil:
				for _, l := range logs {
					borrower, ok := s.borrower(l)
					if !ok {
						continue
					}
					if _, dup := seen[borrower]; dup {
						continue
					}
					seen[borrower] = struct{}{}
					out = append(out, borrower)
				}
				w.advance(end)

			case ctx.Err() != nil:
				return nil, stats, ctx.Err()

			case isRangeTooLarge(err):
				if w.shrink() {
					stats.Shrinks++
					s.logger.Debug("range rejected, shrinking", "market", market.Hex(), "from", start, "chunk", w.chunk)
					continue
				}
				stats.Skipped++
				s.logger.Warn("single block rejected, skipping", "market", market.Hex(), "block", start, "error", err)
				w.start = end + 1

			default:
				stats.Failed++
				s.logger.Warn("log query failed, moving on", "market", market.Hex(), "from", start, "to", end, "error", err)
				w.start = end + 1
			}

			if end == to {
				break
			}
		}
	}

	s.logger.Info("sweep complete",
		"borrowers", len(out),
		"queries", stats.Queries,
		"shrinks", stats.Shrinks,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	return out, stats, nil
}

func (s *Source) filter(ctx context.Context, market common.Address, from, to uint64) ([]types.Log, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()
	return s.reader.FilterLogs(callCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{market},
		Topics:    [][]common.Hash{{s.borrow.ID, s.liquidate.ID}},
	})
}

// borrower extracts the borrower field of a Borrow or LiquidateBorrow log.
func (s *Source) borrower(l types.Log) (string, bool) {
	if len(l.Topics) == 0 {
		return "", false
	}
	var (
		ev  abi.Event
		idx int
	)
	switch l.Topics[0] {
	case s.borrow.ID:
		ev, idx = s.borrow, 0
	case s.liquidate.ID:
		ev, idx = s.liquidate, 1
	default:
		return "", false
	}
	values, err := ev.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil || len(values) <= idx {
		s.logger.Debug("undecodable log", "event", ev.Name, "tx", l.TxHash.Hex(), "error", err)
		return "", false
	}
	addr, ok := values[idx].(common.Address)
	if !ok {
		return "", false
	}
	return entity.LowerHex(addr), true
}
