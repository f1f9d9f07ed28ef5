package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetERC20ABI returns decimals(), read once per underlying asset.
func GetERC20ABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [],
			"name": "decimals",
			"outputs": [{"name": "", "type": "uint8"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
}
