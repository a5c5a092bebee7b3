package chain

// ValueDecimals is the fixed-point scale of latestResult values.
const ValueDecimals = 18

// FeedOracleABI is the subset of the feed contract the settler calls.
const FeedOracleABI = `[
	{
		"type": "function",
		"name": "submitUpdate",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "feedHash", "type": "bytes32"},
			{"name": "update", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "settleOutcome",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "feedHash", "type": "bytes32"},
			{"name": "outcome", "type": "uint8"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "latestResult",
		"stateMutability": "view",
		"inputs": [
			{"name": "feedHash", "type": "bytes32"}
		],
		"outputs": [
			{"name": "value", "type": "int256"},
			{"name": "updatedAt", "type": "uint256"}
		]
	}
]`
