package entity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress returns the lowercase 0x-prefixed form of addr. Every
// address comparison in the scanner goes through this form.
func NormalizeAddress(addr string) (string, error) {
	s := strings.TrimSpace(addr)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// LowerHex is the normalized form of an already parsed address.
func LowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
