package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

var multicall3 = &cachedABI{json: `[
	{
		"inputs": [
			{
				"components": [
					{"name": "target", "type": "address"},
					{"name": "allowFailure", "type": "bool"},
					{"name": "callData", "type": "bytes"}
				],
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "aggregate3",
		"outputs": [
			{
				"components": [
					{"name": "success", "type": "bool"},
					{"name": "returnData", "type": "bytes"}
				],
				"name": "returnData",
				"type": "tuple[]"
			}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`}

// GetMulticall3ABI returns the ABI subset of Multicall3 used for batching.
func GetMulticall3ABI() (*abi.ABI, error) {
	return multicall3.get("Multicall3")
}
