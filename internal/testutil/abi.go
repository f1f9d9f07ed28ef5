package testutil

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain/abis"
)

// RevertData ABI-encodes reason as Error(string) revert data.
func RevertData(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}

// BorrowLog builds a Borrow event log for borrower emitted by market.
func BorrowLog(t *testing.T, market, borrower common.Address, block uint64) types.Log {
	t.Helper()
	ctoken, err := abis.GetCTokenABI()
	if err != nil {
		t.Fatalf("loading cToken ABI: %v", err)
	}
	ev := ctoken.Events["Borrow"]
	data, err := ev.Inputs.NonIndexed().Pack(borrower, big.NewInt(1), big.NewInt(1), big.NewInt(1))
	if err != nil {
		t.Fatalf("packing Borrow: %v", err)
	}
	return types.Log{Address: market, Topics: []common.Hash{ev.ID}, Data: data, BlockNumber: block}
}

// LiquidateBorrowLog builds a LiquidateBorrow event log.
func LiquidateBorrowLog(t *testing.T, market, liquidator, borrower common.Address, block uint64) types.Log {
	t.Helper()
	ctoken, err := abis.GetCTokenABI()
	if err != nil {
		t.Fatalf("loading cToken ABI: %v", err)
	}
	ev := ctoken.Events["LiquidateBorrow"]
	data, err := ev.Inputs.NonIndexed().Pack(liquidator, borrower, big.NewInt(1), market, big.NewInt(1))
	if err != nil {
		t.Fatalf("packing LiquidateBorrow: %v", err)
	}
	return types.Log{Address: market, Topics: []common.Hash{ev.ID}, Data: data, BlockNumber: block}
}

// E18 returns v * 10^18.
func E18(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// Pow10 returns 10^n.
func Pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}
