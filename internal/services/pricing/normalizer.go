// Package pricing reads oracle prices and converts borrow balances to USD.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-liquidator/internal/pkg/clock"
	"github.com/archon-research/stl-liquidator/internal/pkg/usd"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// ErrUnpriced means the oracle has no usable price for the market.
var ErrUnpriced = errors.New("market has no price feed")

// Revert reasons that mean the oracle has no feed configured for a market.
var unpricedReasons = []string{
	"asset config doesn't exist",
	"missing revert data",
}

type Config struct {
	// UnpricedTTL is how long a market without a feed is skipped.
	UnpricedTTL time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func ConfigDefaults() Config {
	return Config{
		UnpricedTTL: 15 * time.Minute,
		Clock:       clock.Real{},
		Logger:      slog.Default(),
	}
}

type priceKey struct {
	oracle common.Address
	market common.Address
}

// Normalizer reads getUnderlyingPrice and remembers markets without a feed.
type Normalizer struct {
	config Config
	mc     outbound.Multicaller
	abi    *abi.ABI
	logger *slog.Logger

	mu       sync.Mutex
	unpriced map[priceKey]time.Time
}

func NewNormalizer(config Config, mc outbound.Multicaller) (*Normalizer, error) {
	if mc == nil {
		return nil, fmt.Errorf("multicaller is required")
	}
	defaults := ConfigDefaults()
	if config.UnpricedTTL <= 0 {
		config.UnpricedTTL = defaults.UnpricedTTL
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	oracleABI, err := abis.GetPriceOracleABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load oracle ABI: %w", err)
	}

	return &Normalizer{
		config:   config,
		mc:       mc,
		abi:      oracleABI,
		logger:   config.Logger.With("component", "price-normalizer"),
		unpriced: make(map[priceKey]time.Time),
	}, nil
}

// IsUnpriced reports whether market is inside its unpriced window.
func (n *Normalizer) IsUnpriced(oracle, market common.Address) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := priceKey{oracle, market}
	at, ok := n.unpriced[key]
	if !ok {
		return false
	}
	if n.config.Clock.Now().Sub(at) >= n.config.UnpricedTTL {
		delete(n.unpriced, key)
		return false
	}
	return true
}

func (n *Normalizer) markUnpriced(oracle, market common.Address, reason string) {
	n.mu.Lock()
	n.unpriced[priceKey{oracle, market}] = n.config.Clock.Now()
	n.mu.Unlock()
	n.logger.Warn("market has no price feed, skipping",
		"market", market.Hex(),
		"oracle", oracle.Hex(),
		"reason", reason,
		"ttl", n.config.UnpricedTTL)
}

// ClearUnpriced forgets every unpriced market.
func (n *Normalizer) ClearUnpriced() {
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.unpriced)
}

// PriceCall builds the getUnderlyingPrice call for batching with other reads.
func (n *Normalizer) PriceCall(oracle, market common.Address) (outbound.Call, error) {
	data, err := n.abi.Pack("getUnderlyingPrice", market)
	if err != nil {
		return outbound.Call{}, fmt.Errorf("packing getUnderlyingPrice: %w", err)
	}
	return outbound.Call{Target: oracle, AllowFailure: true, CallData: data}, nil
}

// DecodePrice interprets the result of a PriceCall. Zero prices and missing
// feeds mark the market unpriced and return ErrUnpriced.
func (n *Normalizer) DecodePrice(oracle, market common.Address, res outbound.Result) (*big.Int, error) {
	if !res.Success {
		reason := revertReason(res.ReturnData)
		if isUnpricedReason(reason) {
			n.markUnpriced(oracle, market, reason)
			return nil, fmt.Errorf("%s: %w", market.Hex(), ErrUnpriced)
		}
		return nil, fmt.Errorf("getUnderlyingPrice(%s) reverted: %s", market.Hex(), reason)
	}

	out, err := n.abi.Unpack("getUnderlyingPrice", res.ReturnData)
	if err != nil {
		return nil, fmt.Errorf("decoding price of %s: %w", market.Hex(), err)
	}
	price := out[0].(*big.Int)
	if price.Sign() == 0 {
		n.markUnpriced(oracle, market, "zero price")
		return nil, fmt.Errorf("%s: %w", market.Hex(), ErrUnpriced)
	}
	return price, nil
}

// PriceOf returns the oracle mantissa for market.
func (n *Normalizer) PriceOf(ctx context.Context, oracle, market common.Address) (*big.Int, error) {
	prices, err := n.PricesOf(ctx, oracle, []common.Address{market})
	if err != nil {
		return nil, err
	}
	p := prices[market]
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Price, nil
}

// PriceResult is the outcome for one market of PricesOf.
type PriceResult struct {
	Price *big.Int
	Err   error
}

// PricesOf reads every market not cached as unpriced in a single batch.
func (n *Normalizer) PricesOf(ctx context.Context, oracle common.Address, markets []common.Address) (map[common.Address]PriceResult, error) {
	out := make(map[common.Address]PriceResult, len(markets))
	var (
		calls   []outbound.Call
		pending []common.Address
	)
	for _, m := range markets {
		if n.IsUnpriced(oracle, m) {
			out[m] = PriceResult{Err: fmt.Errorf("%s: %w", m.Hex(), ErrUnpriced)}
			continue
		}
		call, err := n.PriceCall(oracle, m)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
		pending = append(pending, m)
	}
	if len(calls) == 0 {
		return out, nil
	}

	results, err := n.mc.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("reading prices from %s: %w", oracle.Hex(), err)
	}
	for i, m := range pending {
		price, err := n.DecodePrice(oracle, m, results[i])
		out[m] = PriceResult{Price: price, Err: err}
	}
	return out, nil
}

// ToUSD18 converts a raw borrow balance with an oracle mantissa to 18-decimal USD.
func ToUSD18(borrowRaw, priceMantissa *big.Int) (*big.Int, error) {
	return usd.ToUSD18(borrowRaw, priceMantissa)
}

func revertReason(data []byte) string {
	if len(data) == 0 {
		return "missing revert data"
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return fmt.Sprintf("undecodable revert 0x%x", data)
	}
	return reason
}

func isUnpricedReason(reason string) bool {
	for _, r := range unpricedReasons {
		if strings.Contains(reason, r) {
			return true
		}
	}
	return false
}
