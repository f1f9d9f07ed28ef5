package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetComptrollerABI returns the registry views the scanner reads.
//
// markets(address) is declared with two outputs. Compound-style deployments
// return a third bool (isComped); the decoder ignores trailing words, so the
// same ABI serves both layouts.
func GetComptrollerABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [],
			"name": "closeFactorMantissa",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "liquidationIncentiveMantissa",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "oracle",
			"outputs": [{"name": "", "type": "address"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "getAllMarkets",
			"outputs": [{"name": "", "type": "address[]"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "getAssetsIn",
			"outputs": [{"name": "", "type": "address[]"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "getAccountLiquidity",
			"outputs": [
				{"name": "err", "type": "uint256"},
				{"name": "liquidity", "type": "uint256"},
				{"name": "shortfall", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "market", "type": "address"}],
			"name": "markets",
			"outputs": [
				{"name": "isListed", "type": "bool"},
				{"name": "collateralFactorMantissa", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
}
