package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

var loanBook = &cachedABI{json: `[
	{
		"inputs": [{"name": "loanId", "type": "uint256"}],
		"name": "getLoan",
		"outputs": [
			{"name": "lender", "type": "address"},
			{"name": "borrower", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "interestRate", "type": "uint256"},
			{"name": "duration", "type": "uint256"},
			{"name": "collateralToken", "type": "address"},
			{"name": "collateralAmount", "type": "uint256"},
			{"name": "status", "type": "uint8"},
			{"name": "minCollateralRatioBps", "type": "uint256"},
			{"name": "liquidationThresholdBps", "type": "uint256"},
			{"name": "maxPriceStaleness", "type": "uint256"},
			{"name": "createdAt", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "loanCount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`}

// GetLoanBookABI returns the read-only surface of the P2P lending contract.
func GetLoanBookABI() (*abi.ABI, error) {
	return loanBook.get("LoanBook")
}
