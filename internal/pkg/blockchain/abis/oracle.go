package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetPriceOracleABI returns the Compound price oracle view. Prices are scaled
// by 10^(36 - underlying decimals).
func GetPriceOracleABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [{"name": "cToken", "type": "address"}],
			"name": "getUnderlyingPrice",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
}
