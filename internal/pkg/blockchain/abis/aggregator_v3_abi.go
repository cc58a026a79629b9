package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

var aggregatorV3 = &cachedABI{json: `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"name": "roundId", "type": "uint80"},
			{"name": "answer", "type": "int256"},
			{"name": "startedAt", "type": "uint256"},
			{"name": "updatedAt", "type": "uint256"},
			{"name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "description",
		"outputs": [{"name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	}
]`}

// GetAggregatorV3ABI returns the ABI for the Chainlink AggregatorV3Interface.
// Pyth and Redstone adapters expose the same read surface.
func GetAggregatorV3ABI() (*abi.ABI, error) {
	return aggregatorV3.get("AggregatorV3")
}
