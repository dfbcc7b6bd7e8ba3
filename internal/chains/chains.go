// Package chains maps EVM chain IDs to network names.
package chains

var networks = map[int64]string{
	1:     "mainnet",
	5:     "goerli",
	10:    "optimism",
	56:    "bsc",
	100:   "gnosis",
	137:   "polygon",
	250:   "fantom",
	8453:  "base",
	42161: "arbitrum",
	42170: "arbitrum-nova",
	43114: "avalanche",
	84532: "base-sepolia",
}

// Name returns the network name for chainID, defaulting to mainnet.
func Name(chainID int64) string {
	if name, ok := networks[chainID]; ok {
		return name
	}
	return "mainnet"
}

// Known reports whether chainID has a registered name.
func Known(chainID int64) bool {
	_, ok := networks[chainID]
	return ok
}
