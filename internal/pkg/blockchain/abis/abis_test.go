package abis

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestABIsParse(t *testing.T) {
	loaders := map[string]func() error{
		"multicall3":  func() error { _, err := GetMulticall3ABI(); return err },
		"erc20":       func() error { _, err := GetERC20ABI(); return err },
		"comptroller": func() error { _, err := GetComptrollerABI(); return err },
		"ctoken":      func() error { _, err := GetCTokenABI(); return err },
		"oracle":      func() error { _, err := GetPriceOracleABI(); return err },
	}
	for name, load := range loaders {
		if err := load(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestComptrollerMarkets_DecodesThreeWordReturn(t *testing.T) {
	comptroller, err := GetComptrollerABI()
	if err != nil {
		t.Fatal(err)
	}

	cf := big.NewInt(750_000_000_000_000_000)
	two, err := comptroller.Methods["markets"].Outputs.Pack(true, cf)
	if err != nil {
		t.Fatal(err)
	}
	// Compound appends isComped; simulate with one extra word set to true.
	three := append(append([]byte{}, two...), common.LeftPadBytes([]byte{1}, 32)...)

	for name, data := range map[string][]byte{"two": two, "three": three} {
		out, err := comptroller.Unpack("markets", data)
		if err != nil {
			t.Fatalf("%s-word return: %v", name, err)
		}
		if !out[0].(bool) {
			t.Errorf("%s-word return: isListed = false", name)
		}
		if out[1].(*big.Int).Cmp(cf) != 0 {
			t.Errorf("%s-word return: collateral factor = %s", name, out[1])
		}
	}
}

func TestCTokenEvents_BorrowerNotIndexed(t *testing.T) {
	ctoken, err := GetCTokenABI()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Borrow", "LiquidateBorrow"} {
		ev, ok := ctoken.Events[name]
		if !ok {
			t.Fatalf("missing event %s", name)
		}
		for _, in := range ev.Inputs {
			if in.Name == "borrower" && in.Indexed {
				t.Errorf("%s.borrower must be non-indexed", name)
			}
		}
	}
}
