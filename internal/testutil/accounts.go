package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// ValidatedAccount returns a liquidatable account with a single debt market.
func ValidatedAccount(address, registry, market common.Address, cycle uint64) entity.ValidatedAccount {
	borrow := E18(500)
	return entity.ValidatedAccount{
		Address: entity.LowerHex(address),
		Scope: entity.RegistryScope{
			Registry:             registry,
			Oracle:               common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			ActiveMarkets:        []common.Address{market},
			CloseFactor:          big.NewInt(500_000_000_000_000_000),
			LiquidationIncentive: big.NewInt(1_080_000_000_000_000_000),
		},
		TotalBorrowUSD18:  borrow,
		LiquidityUSD18:    new(big.Int),
		ShortfallUSD18:    E18(10),
		PrimaryDebtMarket: market,
		Markets: []entity.MarketSnapshot{{
			Market:             market,
			UnderlyingDecimals: 6,
			PriceMantissa:      Pow10(30),
			BorrowRaw:          big.NewInt(500_000_000),
			BorrowUSD18:        borrow,
			CollateralFactor:   big.NewInt(750_000_000_000_000_000),
		}},
		SampledAtCycle: cycle,
	}
}
