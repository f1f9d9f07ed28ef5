package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetCTokenABI returns the market token views and the two events whose
// borrower field identifies a debtor. Neither event indexes the borrower.
func GetCTokenABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "borrowBalanceStored",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "underlying",
			"outputs": [{"name": "", "type": "address"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": false, "name": "borrower", "type": "address"},
				{"indexed": false, "name": "borrowAmount", "type": "uint256"},
				{"indexed": false, "name": "accountBorrows", "type": "uint256"},
				{"indexed": false, "name": "totalBorrows", "type": "uint256"}
			],
			"name": "Borrow",
			"type": "event"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": false, "name": "liquidator", "type": "address"},
				{"indexed": false, "name": "borrower", "type": "address"},
				{"indexed": false, "name": "repayAmount", "type": "uint256"},
				{"indexed": false, "name": "cTokenCollateral", "type": "address"},
				{"indexed": false, "name": "seizeTokens", "type": "uint256"}
			],
			"name": "LiquidateBorrow",
			"type": "event"
		}
	]`)
}
