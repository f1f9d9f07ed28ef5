// Package validator confirms candidate accounts on chain.
//
// For each candidate it resolves the registry the account is entered in,
// prices its borrows in USD, applies the minimum-debt threshold and asks the
// registry for liquidity and shortfall. Only a positive shortfall makes an
// account liquidatable; the health ratios recorded in the Batch are telemetry.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-liquidator/internal/pkg/usd"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
	"github.com/archon-research/stl-liquidator/internal/services/pricing"
	"github.com/archon-research/stl-liquidator/internal/services/registry"
)

// nativeDecimals is assumed for markets without underlying().
const nativeDecimals = 18

// Denylist reports excluded addresses.
type Denylist interface {
	IsDenied(addr string) bool
}

// ScopeResolver finds an account's registry and reads its liquidity.
type ScopeResolver interface {
	ScopeFor(ctx context.Context, account common.Address) (*entity.RegistryScope, int, error)
	AccountLiquidity(ctx context.Context, registry, account common.Address) (registry.AccountLiquidity, error)
}

// PriceReader reads oracle prices as part of a larger batch.
type PriceReader interface {
	IsUnpriced(oracle, market common.Address) bool
	PriceCall(oracle, market common.Address) (outbound.Call, error)
	DecodePrice(oracle, market common.Address, res outbound.Result) (*big.Int, error)
}

type Config struct {
	// ExcludedMarkets are never aggregated.
	ExcludedMarkets []common.Address

	Logger *slog.Logger
}

type Validator struct {
	mc       outbound.Multicaller
	resolver ScopeResolver
	prices   PriceReader
	denylist Denylist
	excluded map[common.Address]struct{}
	logger   *slog.Logger

	comptrollerABI *abi.ABI
	ctokenABI      *abi.ABI
	erc20ABI       *abi.ABI

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

func NewValidator(config Config, mc outbound.Multicaller, resolver ScopeResolver, prices PriceReader, denylist Denylist) (*Validator, error) {
	if mc == nil || resolver == nil || prices == nil || denylist == nil {
		return nil, fmt.Errorf("multicaller, resolver, price reader and denylist are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	comptrollerABI, err := abis.GetComptrollerABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load comptroller ABI: %w", err)
	}
	ctokenABI, err := abis.GetCTokenABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load cToken ABI: %w", err)
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load ERC20 ABI: %w", err)
	}

	excluded := make(map[common.Address]struct{}, len(config.ExcludedMarkets))
	for _, m := range config.ExcludedMarkets {
		excluded[m] = struct{}{}
	}

	return &Validator{
		mc:             mc,
		resolver:       resolver,
		prices:         prices,
		denylist:       denylist,
		excluded:       excluded,
		logger:         config.Logger.With("component", "account-validator"),
		comptrollerABI: comptrollerABI,
		ctokenABI:      ctokenABI,
		erc20ABI:       erc20ABI,
		decimals:       make(map[common.Address]uint8),
	}, nil
}

// Validate checks one candidate. It returns nil, nil when the account is
// skipped or not liquidatable.
func (v *Validator) Validate(ctx context.Context, batch *Batch, candidate string, minDebtUSD18 *big.Int) (*entity.ValidatedAccount, error) {
	batch.attempt()

	addr, err := entity.NormalizeAddress(candidate)
	if err != nil {
		return nil, err
	}
	if v.denylist.IsDenied(addr) {
		batch.deny()
		return nil, nil
	}
	account := common.HexToAddress(addr)
	logger := v.logger.With("account", addr)

	scope, reads, err := v.resolver.ScopeFor(ctx, account)
	batch.addReads(reads)
	if err != nil {
		return nil, fmt.Errorf("resolving scope: %w", err)
	}
	if scope == nil {
		logger.Debug("account not entered in any registry")
		return nil, nil
	}

	markets := v.eligibleMarkets(batch, scope)
	if len(markets) == 0 {
		return nil, nil
	}

	if err := v.ensureDecimals(ctx, batch, markets); err != nil {
		return nil, err
	}

	snapshots, err := v.readMarkets(ctx, batch, scope, account, markets, logger)
	if err != nil {
		return nil, err
	}

	total := entity.SumBorrowUSD18(snapshots)
	if total.Sign() == 0 {
		return nil, nil
	}
	if minDebtUSD18 != nil && total.Cmp(minDebtUSD18) < 0 {
		logger.Debug("below minimum debt", "borrowUSD", usd.Format(total), "minUSD", usd.Format(minDebtUSD18))
		return nil, nil
	}

	liq, err := v.resolver.AccountLiquidity(ctx, scope.Registry, account)
	if err != nil {
		return nil, err
	}
	batch.addReads(1)
	if liq.ErrorCode.Sign() != 0 {
		logger.Warn("registry returned error code for account liquidity", "code", liq.ErrorCode)
		return nil, nil
	}

	liquidatable := liq.Shortfall.Sign() > 0
	batch.recordHealth(total, liq.Liquidity, liq.Shortfall, liquidatable)
	if !liquidatable {
		return nil, nil
	}

	primary, err := entity.PrimaryMarket(snapshots)
	if err != nil {
		return nil, err
	}

	logger.Info("liquidatable account",
		"registry", scope.Registry.Hex(),
		"borrowUSD", usd.Format(total),
		"shortfallUSD", usd.Format(liq.Shortfall),
		"primaryMarket", primary.Hex())

	return &entity.ValidatedAccount{
		Address:           addr,
		Scope:             *scope,
		TotalBorrowUSD18:  total,
		LiquidityUSD18:    liq.Liquidity,
		ShortfallUSD18:    liq.Shortfall,
		PrimaryDebtMarket: primary,
		Markets:           snapshots,
		SampledAtCycle:    batch.Cycle,
	}, nil
}

func (v *Validator) eligibleMarkets(batch *Batch, scope *entity.RegistryScope) []common.Address {
	out := make([]common.Address, 0, len(scope.ActiveMarkets))
	for _, m := range scope.ActiveMarkets {
		switch {
		case v.isExcluded(m):
			v.noteSkip(batch, m, "excluded")
		case v.denylist.IsDenied(entity.LowerHex(m)):
			v.noteSkip(batch, m, "denylisted")
		case v.prices.IsUnpriced(scope.Oracle, m):
			v.noteSkip(batch, m, "unpriced")
		default:
			out = append(out, m)
		}
	}
	return out
}

func (v *Validator) isExcluded(m common.Address) bool {
	_, ok := v.excluded[m]
	return ok
}

// noteSkip logs a skipped market once per cycle.
func (v *Validator) noteSkip(batch *Batch, market common.Address, reason string) {
	if batch.firstSkip(market) {
		v.logger.Info("skipping market this cycle", "market", market.Hex(), "reason", reason)
	}
}

// readMarkets reads borrow balance, price and listing of every market in one batch.
func (v *Validator) readMarkets(ctx context.Context, batch *Batch, scope *entity.RegistryScope, account common.Address, markets []common.Address, logger *slog.Logger) ([]entity.MarketSnapshot, error) {
	const perMarket = 3

	calls := make([]outbound.Call, 0, len(markets)*perMarket)
	for _, m := range markets {
		borrowData, err := v.ctokenABI.Pack("borrowBalanceStored", account)
		if err != nil {
			return nil, fmt.Errorf("packing borrowBalanceStored: %w", err)
		}
		priceCall, err := v.prices.PriceCall(scope.Oracle, m)
		if err != nil {
			return nil, err
		}
		marketData, err := v.comptrollerABI.Pack("markets", m)
		if err != nil {
			return nil, fmt.Errorf("packing markets: %w", err)
		}
		calls = append(calls,
			outbound.Call{Target: m, AllowFailure: true, CallData: borrowData},
			priceCall,
			outbound.Call{Target: scope.Registry, AllowFailure: true, CallData: marketData},
		)
	}

	results, err := v.mc.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("reading markets of %s: %w", account.Hex(), err)
	}
	batch.addReads(len(calls))

	snapshots := make([]entity.MarketSnapshot, 0, len(markets))
	for i, m := range markets {
		borrowRes, priceRes, marketRes := results[i*perMarket], results[i*perMarket+1], results[i*perMarket+2]

		listed, collateralFactor, ok := v.decodeListing(marketRes)
		if !ok || !listed {
			v.noteSkip(batch, m, "unlisted")
			continue
		}

		if !borrowRes.Success {
			logger.Warn("borrowBalanceStored reverted", "market", m.Hex())
			continue
		}
		out, err := v.ctokenABI.Unpack("borrowBalanceStored", borrowRes.ReturnData)
		if err != nil {
			logger.Warn("undecodable borrow balance", "market", m.Hex(), "error", err)
			continue
		}
		borrowRaw := out[0].(*big.Int)

		price, err := v.prices.DecodePrice(scope.Oracle, m, priceRes)
		if err != nil {
			if errors.Is(err, pricing.ErrUnpriced) {
				v.noteSkip(batch, m, "unpriced")
			} else {
				logger.Warn("price read failed", "market", m.Hex(), "error", err)
			}
			continue
		}

		if borrowRaw.Sign() == 0 {
			continue
		}

		borrowUSD, err := pricing.ToUSD18(borrowRaw, price)
		if err != nil {
			logger.Warn("usd conversion failed", "market", m.Hex(), "error", err)
			continue
		}

		snapshots = append(snapshots, entity.MarketSnapshot{
			Market:             m,
			UnderlyingDecimals: v.decimalsOf(m),
			PriceMantissa:      price,
			BorrowRaw:          borrowRaw,
			BorrowUSD18:        borrowUSD,
			CollateralFactor:   collateralFactor,
		})
	}
	return snapshots, nil
}

func (v *Validator) decodeListing(res outbound.Result) (listed bool, collateralFactor *big.Int, ok bool) {
	if !res.Success {
		return false, nil, false
	}
	out, err := v.comptrollerABI.Unpack("markets", res.ReturnData)
	if err != nil {
		return false, nil, false
	}
	return out[0].(bool), out[1].(*big.Int), true
}

func (v *Validator) decimalsOf(market common.Address) uint8 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if d, ok := v.decimals[market]; ok {
		return d
	}
	return nativeDecimals
}

// ensureDecimals fills the decimals cache for markets not seen before. Market
// decimals never change, so entries live for the process lifetime.
func (v *Validator) ensureDecimals(ctx context.Context, batch *Batch, markets []common.Address) error {
	v.mu.RLock()
	var unknown []common.Address
	for _, m := range markets {
		if _, ok := v.decimals[m]; !ok {
			unknown = append(unknown, m)
		}
	}
	v.mu.RUnlock()
	if len(unknown) == 0 {
		return nil
	}

	underlyingData, err := v.ctokenABI.Pack("underlying")
	if err != nil {
		return fmt.Errorf("packing underlying: %w", err)
	}
	calls := make([]outbound.Call, len(unknown))
	for i, m := range unknown {
		calls[i] = outbound.Call{Target: m, AllowFailure: true, CallData: underlyingData}
	}
	results, err := v.mc.Execute(ctx, calls, nil)
	if err != nil {
		return fmt.Errorf("reading underlying tokens: %w", err)
	}
	batch.addReads(len(calls))

	resolved := make(map[common.Address]uint8, len(unknown))
	var (
		erc20Markets []common.Address
		tokens       []common.Address
	)
	for i, m := range unknown {
		if !results[i].Success {
			resolved[m] = nativeDecimals
			continue
		}
		out, err := v.ctokenABI.Unpack("underlying", results[i].ReturnData)
		if err != nil {
			resolved[m] = nativeDecimals
			continue
		}
		erc20Markets = append(erc20Markets, m)
		tokens = append(tokens, out[0].(common.Address))
	}

	if len(tokens) > 0 {
		decimalsData, err := v.erc20ABI.Pack("decimals")
		if err != nil {
			return fmt.Errorf("packing decimals: %w", err)
		}
		calls := make([]outbound.Call, len(tokens))
		for i, tok := range tokens {
			calls[i] = outbound.Call{Target: tok, AllowFailure: true, CallData: decimalsData}
		}
		results, err := v.mc.Execute(ctx, calls, nil)
		if err != nil {
			return fmt.Errorf("reading token decimals: %w", err)
		}
		batch.addReads(len(calls))
		for i, m := range erc20Markets {
			d := uint8(nativeDecimals)
			if results[i].Success {
				if out, err := v.erc20ABI.Unpack("decimals", results[i].ReturnData); err == nil {
					d = out[0].(uint8)
				}
			} else {
				v.logger.Warn("decimals() reverted, assuming 18", "market", m.Hex(), "token", tokens[i].Hex())
			}
			resolved[m] = d
		}
	}

	v.mu.Lock()
	for m, d := range resolved {
		v.decimals[m] = d
	}
	v.mu.Unlock()
	return nil
}
