package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MarketSnapshot is one market's contribution to an account's debt, built
// inside a single validation call.
type MarketSnapshot struct {
	Market             common.Address `json:"market"`
	UnderlyingDecimals uint8          `json:"underlyingDecimals"`
	PriceMantissa      *big.Int       `json:"priceMantissa"`
	BorrowRaw          *big.Int       `json:"borrowRaw"`
	BorrowUSD18        *big.Int       `json:"borrowUsd18"`
	CollateralFactor   *big.Int       `json:"collateralFactor"`
}
