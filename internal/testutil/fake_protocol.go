package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var _ outbound.Multicaller = (*FakeProtocol)(nil)

// FakeComptroller is the in-memory state of one registry.
type FakeComptroller struct {
	CloseFactor *big.Int
	Incentive   *big.Int
	Oracle      common.Address
	AllMarkets  []common.Address

	// AssetsIn maps account -> entered markets.
	AssetsIn map[common.Address][]common.Address

	// Liquidity maps account -> (err, liquidity, shortfall).
	Liquidity map[common.Address][3]*big.Int

	// Unlisted markets return isListed=false.
	Unlisted map[common.Address]bool

	// CollateralFactor defaults to 0.75e18.
	CollateralFactor *big.Int

	// ThreeWordMarkets appends a trailing word to markets(address), as Compound does.
	ThreeWordMarkets bool

	// Revert makes every call to this registry fail.
	Revert bool
}

// FakeProtocol answers Multicall3 batches from in-memory state.
//
// Targets are classified by which map they appear in: Comptrollers,
// Oracles, Markets (cTokens) and Tokens (ERC20 underlyings). Calls it cannot
// answer fail; a failing call with AllowFailure=false fails the whole batch,
// mirroring aggregate3.
type FakeProtocol struct {
	mu sync.Mutex

	Comptrollers map[common.Address]*FakeComptroller

	// Oracles maps oracle -> market -> price mantissa. A missing market reverts
	// with "asset config doesn't exist".
	Oracles map[common.Address]map[common.Address]*big.Int

	// Markets maps market -> account -> raw borrow balance.
	Markets map[common.Address]map[common.Address]*big.Int

	// Underlying maps market -> underlying token. Missing entries revert (native asset).
	Underlying map[common.Address]common.Address

	// Tokens maps underlying token -> decimals.
	Tokens map[common.Address]uint8

	// ExecuteErr fails every Execute call when set.
	ExecuteErr error

	Executes    int
	CallsServed int
	Selectors   map[string]int

	comptrollerABI *abi.ABI
	ctokenABI      *abi.ABI
	oracleABI      *abi.ABI
	erc20ABI       *abi.ABI
}

// NewFakeProtocol returns an empty protocol.
func NewFakeProtocol() *FakeProtocol {
	comptrollerABI, err := abis.GetComptrollerABI()
	if err != nil {
		panic(err)
	}
	ctokenABI, err := abis.GetCTokenABI()
	if err != nil {
		panic(err)
	}
	oracleABI, err := abis.GetPriceOracleABI()
	if err != nil {
		panic(err)
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		panic(err)
	}
	return &FakeProtocol{
		Comptrollers:   make(map[common.Address]*FakeComptroller),
		Oracles:        make(map[common.Address]map[common.Address]*big.Int),
		Markets:        make(map[common.Address]map[common.Address]*big.Int),
		Underlying:     make(map[common.Address]common.Address),
		Tokens:         make(map[common.Address]uint8),
		Selectors:      make(map[string]int),
		comptrollerABI: comptrollerABI,
		ctokenABI:      ctokenABI,
		oracleABI:      oracleABI,
		erc20ABI:       erc20ABI,
	}
}

// SetBorrow sets account's raw borrow on market.
func (p *FakeProtocol) SetBorrow(market, account common.Address, raw *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Markets[market] == nil {
		p.Markets[market] = make(map[common.Address]*big.Int)
	}
	p.Markets[market][account] = raw
}

// SetPrice sets the oracle price of market.
func (p *FakeProtocol) SetPrice(oracle, market common.Address, price *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Oracles[oracle] == nil {
		p.Oracles[oracle] = make(map[common.Address]*big.Int)
	}
	p.Oracles[oracle][market] = price
}

// Stats returns the number of Execute calls and inner calls served.
func (p *FakeProtocol) Stats() (executes, calls int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Executes, p.CallsServed
}

func (p *FakeProtocol) Address() common.Address {
	return common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
}

func (p *FakeProtocol) Execute(_ context.Context, calls []outbound.Call, _ *big.Int) ([]outbound.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Executes++
	if p.ExecuteErr != nil {
		return nil, p.ExecuteErr
	}

	results := make([]outbound.Result, len(calls))
	for i, call := range calls {
		p.CallsServed++
		data, err := p.answer(call)
		if err != nil {
			if !call.AllowFailure {
				return nil, fmt.Errorf("call %d to %s reverted: %w", i, call.Target.Hex(), err)
			}
			var rev *revertError
			if errors.As(err, &rev) {
				results[i] = outbound.Result{Success: false, ReturnData: rev.data}
			} else {
				results[i] = outbound.Result{Success: false}
			}
			continue
		}
		results[i] = outbound.Result{Success: true, ReturnData: data}
	}
	return results, nil
}

type revertError struct {
	data []byte
}

func (e *revertError) Error() string { return "execution reverted" }

var errNoCode = errors.New("no contract at target")

func (p *FakeProtocol) answer(call outbound.Call) ([]byte, error) {
	if len(call.CallData) < 4 {
		return nil, errNoCode
	}
	selector := call.CallData[:4]

	if c, ok := p.Comptrollers[call.Target]; ok {
		return p.answerComptroller(c, selector, call.CallData[4:])
	}
	if prices, ok := p.Oracles[call.Target]; ok {
		m, err := p.oracleABI.MethodById(selector)
		if err != nil {
			return nil, err
		}
		p.Selectors[m.Name]++
		args, err := m.Inputs.Unpack(call.CallData[4:])
		if err != nil {
			return nil, err
		}
		price, ok := prices[args[0].(common.Address)]
		if !ok {
			return nil, &revertError{data: RevertData("asset config doesn't exist")}
		}
		return m.Outputs.Pack(price)
	}
	if borrows, ok := p.Markets[call.Target]; ok {
		m, err := p.ctokenABI.MethodById(selector)
		if err != nil {
			return nil, err
		}
		p.Selectors[m.Name]++
		switch m.Name {
		case "borrowBalanceStored":
			args, err := m.Inputs.Unpack(call.CallData[4:])
			if err != nil {
				return nil, err
			}
			bal := borrows[args[0].(common.Address)]
			if bal == nil {
				bal = new(big.Int)
			}
			return m.Outputs.Pack(bal)
		case "underlying":
			u, ok := p.Underlying[call.Target]
			if !ok {
				return nil, &revertError{}
			}
			return m.Outputs.Pack(u)
		}
		return nil, fmt.Errorf("unsupported cToken method %s", m.Name)
	}
	if dec, ok := p.Tokens[call.Target]; ok {
		m, err := p.erc20ABI.MethodById(selector)
		if err != nil {
			return nil, err
		}
		p.Selectors[m.Name]++
		if m.Name != "decimals" {
			return nil, fmt.Errorf("unsupported erc20 method %s", m.Name)
		}
		return m.Outputs.Pack(dec)
	}
	return nil, errNoCode
}

func (p *FakeProtocol) answerComptroller(c *FakeComptroller, selector, input []byte) ([]byte, error) {
	if c.Revert {
		return nil, &revertError{}
	}
	m, err := p.comptrollerABI.MethodById(selector)
	if err != nil {
		return nil, err
	}
	p.Selectors[m.Name]++

	switch m.Name {
	case "closeFactorMantissa":
		return m.Outputs.Pack(orZero(c.CloseFactor))
	case "liquidationIncentiveMantissa":
		return m.Outputs.Pack(orZero(c.Incentive))
	case "oracle":
		return m.Outputs.Pack(c.Oracle)
	case "getAllMarkets":
		return m.Outputs.Pack(nonNilAddrs(c.AllMarkets))
	}

	args, err := m.Inputs.Unpack(input)
	if err != nil {
		return nil, err
	}
	addr := args[0].(common.Address)

	switch m.Name {
	case "getAssetsIn":
		return m.Outputs.Pack(nonNilAddrs(c.AssetsIn[addr]))
	case "getAccountLiquidity":
		l, ok := c.Liquidity[addr]
		if !ok {
			return m.Outputs.Pack(new(big.Int), new(big.Int), new(big.Int))
		}
		return m.Outputs.Pack(orZero(l[0]), orZero(l[1]), orZero(l[2]))
	case "markets":
		cf := c.CollateralFactor
		if cf == nil {
			cf = big.NewInt(750_000_000_000_000_000)
		}
		out, err := m.Outputs.Pack(!c.Unlisted[addr], cf)
		if err != nil {
			return nil, err
		}
		if c.ThreeWordMarkets {
			out = append(out, make([]byte, 32)...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported comptroller method %s", m.Name)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNilAddrs(a []common.Address) []common.Address {
	if a == nil {
		return []common.Address{}
	}
	return a
}
