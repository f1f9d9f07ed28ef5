package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ValidatedAccount is an account confirmed on chain during one cycle.
// All USD amounts are 18-decimal fixed point.
type ValidatedAccount struct {
	Address           string           `json:"address"`
	Scope             RegistryScope    `json:"scope"`
	TotalBorrowUSD18  *big.Int         `json:"totalBorrowUsd18"`
	LiquidityUSD18    *big.Int         `json:"liquidityUsd18"`
	ShortfallUSD18    *big.Int         `json:"shortfallUsd18"`
	PrimaryDebtMarket common.Address   `json:"primaryDebtMarket"`
	Markets           []MarketSnapshot `json:"markets"`
	SampledAtCycle    uint64           `json:"sampledAtCycle"`
}

// IsLiquidatable reports whether the registry reported a positive shortfall.
func (a *ValidatedAccount) IsLiquidatable() bool {
	return a.ShortfallUSD18 != nil && a.ShortfallUSD18.Sign() > 0
}

// Key returns the idempotence key for this account.
func (a *ValidatedAccount) Key() ProcessedKey {
	return ProcessedKey{Address: a.Address, Market: LowerHex(a.PrimaryDebtMarket)}
}

// PrimaryMarket returns the market with the largest USD borrow. Ties keep the
// earlier market.
func PrimaryMarket(markets []MarketSnapshot) (common.Address, error) {
	var best *MarketSnapshot
	for i := range markets {
		m := &markets[i]
		if m.BorrowUSD18 == nil {
			continue
		}
		if best == nil || m.BorrowUSD18.Cmp(best.BorrowUSD18) > 0 {
			best = m
		}
	}
	if best == nil {
		return common.Address{}, fmt.Errorf("no priced market")
	}
	return best.Market, nil
}

// SumBorrowUSD18 totals BorrowUSD18 over markets.
func SumBorrowUSD18(markets []MarketSnapshot) *big.Int {
	total := new(big.Int)
	for _, m := range markets {
		if m.BorrowUSD18 != nil {
			total.Add(total, m.BorrowUSD18)
		}
	}
	return total
}
