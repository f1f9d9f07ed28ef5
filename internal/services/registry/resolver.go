// Package registry selects the operational comptroller and resolves which
// registry an account is entered in.
package registry

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
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var (
	// ErrNoValidRegistry means no configured registry passed the probe.
	ErrNoValidRegistry = errors.New("no valid registry")

	// ErrOracleMismatch means the configured oracle differs from the registry's own.
	ErrOracleMismatch = errors.New("oracle override does not match registry oracle")

	// ErrNoMarkets means the selected registry lists no markets.
	ErrNoMarkets = errors.New("registry has no markets")

	// ErrNotResolved is returned by lookups made before Resolve succeeded.
	ErrNotResolved = errors.New("registry not resolved")
)

// Registry is a comptroller that passed the probe.
type Registry struct {
	Address              common.Address
	Oracle               common.Address
	CloseFactor          *big.Int
	LiquidationIncentive *big.Int
}

type Config struct {
	// Registries in priority order.
	Registries []common.Address

	// OracleOverride, when set, must equal the selected registry's oracle.
	OracleOverride common.Address

	Logger *slog.Logger
}

// Resolver probes registries and answers scope queries against the valid ones.
type Resolver struct {
	config Config
	mc     outbound.Multicaller
	abi    *abi.ABI
	logger *slog.Logger

	mu    sync.RWMutex
	valid []Registry
}

func NewResolver(config Config, mc outbound.Multicaller) (*Resolver, error) {
	if mc == nil {
		return nil, fmt.Errorf("multicaller is required")
	}
	if len(config.Registries) == 0 {
		return nil, fmt.Errorf("at least one registry is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	comptrollerABI, err := abis.GetComptrollerABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load comptroller ABI: %w", err)
	}

	return &Resolver{
		config: config,
		mc:     mc,
		abi:    comptrollerABI,
		logger: config.Logger.With("component", "registry-resolver"),
	}, nil
}

// Resolve probes every configured registry in one batch and selects the first
// valid one. A registry is valid when its oracle is non-zero and both close
// factor and liquidation incentive are positive.
func (r *Resolver) Resolve(ctx context.Context) (Registry, error) {
	methods := []string{"closeFactorMantissa", "liquidationIncentiveMantissa", "oracle"}

	calls := make([]outbound.Call, 0, len(r.config.Registries)*len(methods))
	for _, reg := range r.config.Registries {
		for _, m := range methods {
			data, err := r.abi.Pack(m)
			if err != nil {
				return Registry{}, fmt.Errorf("packing %s: %w", m, err)
			}
			calls = append(calls, outbound.Call{Target: reg, AllowFailure: true, CallData: data})
		}
	}

	results, err := r.mc.Execute(ctx, calls, nil)
	if err != nil {
		return Registry{}, fmt.Errorf("probing registries: %w", err)
	}

	var valid []Registry
	for i, addr := range r.config.Registries {
		res := results[i*len(methods) : (i+1)*len(methods)]
		reg, reason := r.decodeProbe(addr, res)
		if reason != "" {
			r.logger.Warn("registry failed probe", "registry", addr.Hex(), "reason", reason)
			continue
		}
		valid = append(valid, reg)
	}

	if len(valid) == 0 {
		return Registry{}, fmt.Errorf("%w: probed %d", ErrNoValidRegistry, len(r.config.Registries))
	}

	primary := valid[0]
	if r.config.OracleOverride != (common.Address{}) && r.config.OracleOverride != primary.Oracle {
		return Registry{}, fmt.Errorf("%w: configured %s, registry %s reports %s",
			ErrOracleMismatch, r.config.OracleOverride.Hex(), primary.Address.Hex(), primary.Oracle.Hex())
	}

	r.mu.Lock()
	r.valid = valid
	r.mu.Unlock()

	r.logger.Info("registry selected",
		"registry", primary.Address.Hex(),
		"oracle", primary.Oracle.Hex(),
		"closeFactor", primary.CloseFactor,
		"liquidationIncentive", primary.LiquidationIncentive,
		"validRegistries", len(valid))

	return primary, nil
}

func (r *Resolver) decodeProbe(addr common.Address, res []outbound.Result) (Registry, string) {
	for _, x := range res {
		if !x.Success {
			return Registry{}, "probe call reverted"
		}
	}

	closeFactor, err := r.unpackUint(res[0].ReturnData, "closeFactorMantissa")
	if err != nil {
		return Registry{}, err.Error()
	}
	incentive, err := r.unpackUint(res[1].ReturnData, "liquidationIncentiveMantissa")
	if err != nil {
		return Registry{}, err.Error()
	}
	out, err := r.abi.Unpack("oracle", res[2].ReturnData)
	if err != nil {
		return Registry{}, fmt.Sprintf("decoding oracle: %v", err)
	}
	oracle := out[0].(common.Address)

	switch {
	case oracle == (common.Address{}):
		return Registry{}, "oracle is the zero address"
	case closeFactor.Sign() <= 0:
		return Registry{}, "close factor is zero"
	case incentive.Sign() <= 0:
		return Registry{}, "liquidation incentive is zero"
	}

	return Registry{
		Address:              addr,
		Oracle:               oracle,
		CloseFactor:          closeFactor,
		LiquidationIncentive: incentive,
	}, ""
}

func (r *Resolver) unpackUint(data []byte, method string) (*big.Int, error) {
	out, err := r.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", method, err)
	}
	return out[0].(*big.Int), nil
}

// Primary returns the selected registry.
func (r *Resolver) Primary() (Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.valid) == 0 {
		return Registry{}, ErrNotResolved
	}
	return r.valid[0], nil
}

// Params returns the selected registry's close factor and liquidation
// incentive mantissas.
func (r *Resolver) Params() (closeFactor, incentive *big.Int, err error) {
	reg, err := r.Primary()
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(reg.CloseFactor), new(big.Int).Set(reg.LiquidationIncentive), nil
}

// Valid returns every registry that passed the probe, in priority order.
func (r *Resolver) Valid() []Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registry(nil), r.valid...)
}

// Resolved reports whether Resolve has succeeded.
func (r *Resolver) Resolved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.valid) > 0
}

// Markets returns getAllMarkets() of the selected registry.
func (r *Resolver) Markets(ctx context.Context) ([]common.Address, error) {
	primary, err := r.Primary()
	if err != nil {
		return nil, err
	}
	data, err := r.abi.Pack("getAllMarkets")
	if err != nil {
		return nil, fmt.Errorf("packing getAllMarkets: %w", err)
	}
	results, err := r.mc.Execute(ctx, []outbound.Call{{Target: primary.Address, CallData: data}}, nil)
	if err != nil {
		return nil, fmt.Errorf("reading markets of %s: %w", primary.Address.Hex(), err)
	}
	out, err := r.abi.Unpack("getAllMarkets", results[0].ReturnData)
	if err != nil {
		return nil, fmt.Errorf("decoding getAllMarkets: %w", err)
	}
	markets := out[0].([]common.Address)
	if len(markets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMarkets, primary.Address.Hex())
	}
	return markets, nil
}

// ScopeFor reads getAssetsIn(account) on every valid registry in one batch and
// returns the first registry with a non-empty list. A nil scope means the
// account is entered nowhere. reads is the number of calls answered.
func (r *Resolver) ScopeFor(ctx context.Context, account common.Address) (scope *entity.RegistryScope, reads int, err error) {
	valid := r.Valid()
	if len(valid) == 0 {
		return nil, 0, ErrNotResolved
	}

	data, err := r.abi.Pack("getAssetsIn", account)
	if err != nil {
		return nil, 0, fmt.Errorf("packing getAssetsIn: %w", err)
	}
	calls := make([]outbound.Call, len(valid))
	for i, reg := range valid {
		calls[i] = outbound.Call{Target: reg.Address, AllowFailure: true, CallData: data}
	}

	results, err := r.mc.Execute(ctx, calls, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("reading assets of %s: %w", account.Hex(), err)
	}

	for i, res := range results {
		if !res.Success {
			r.logger.Debug("getAssetsIn reverted", "registry", valid[i].Address.Hex(), "account", account.Hex())
			continue
		}
		out, err := r.abi.Unpack("getAssetsIn", res.ReturnData)
		if err != nil {
			r.logger.Debug("getAssetsIn undecodable", "registry", valid[i].Address.Hex(), "error", err)
			continue
		}
		markets := out[0].([]common.Address)
		if len(markets) == 0 {
			continue
		}
		reg := valid[i]
		scope, err := entity.NewRegistryScope(reg.Address, reg.Oracle, markets, reg.CloseFactor, reg.LiquidationIncentive)
		if err != nil {
			return nil, len(results), fmt.Errorf("building scope: %w", err)
		}
		return scope, len(results), nil
	}
	return nil, len(results), nil
}

// AccountLiquidity is the registry's own view of an account, in 18-decimal USD.
type AccountLiquidity struct {
	ErrorCode *big.Int
	Liquidity *big.Int
	Shortfall *big.Int
}

// AccountLiquidity reads getAccountLiquidity(account) on registry.
func (r *Resolver) AccountLiquidity(ctx context.Context, registry, account common.Address) (AccountLiquidity, error) {
	data, err := r.abi.Pack("getAccountLiquidity", account)
	if err != nil {
		return AccountLiquidity{}, fmt.Errorf("packing getAccountLiquidity: %w", err)
	}
	results, err := r.mc.Execute(ctx, []outbound.Call{{Target: registry, CallData: data}}, nil)
	if err != nil {
		return AccountLiquidity{}, fmt.Errorf("reading liquidity of %s: %w", account.Hex(), err)
	}
	out, err := r.abi.Unpack("getAccountLiquidity", results[0].ReturnData)
	if err != nil {
		return AccountLiquidity{}, fmt.Errorf("decoding getAccountLiquidity: %w", err)
	}
	return AccountLiquidity{
		ErrorCode: out[0].(*big.Int),
		Liquidity: out[1].(*big.Int),
		Shortfall: out[2].(*big.Int),
	}, nil
}
