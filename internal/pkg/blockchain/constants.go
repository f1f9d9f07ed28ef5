package blockchain

import "github.com/ethereum/go-ethereum/common"

const (
	Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

	// BurnAddress is the conventional 0x…dEaD sink.
	BurnAddress = "0x000000000000000000000000000000000000dEaD"
)

var (
	Multicall3 = common.HexToAddress(Multicall3Address)
)
