package config

import "github.com/ethereum/go-ethereum/common"

// ChainParams holds network-specific parameters for a chain.
type ChainParams struct {
	ChainID       uint64 // EVM chain ID (0 for XRPL)
	RPCEndpoint   string // Default RPC endpoint
	ExplorerURL   string // Block explorer URL
	Confirmations uint32 // Required confirmations for finality
}

// Params groups the two chains of a network.
type Params struct {
	Ethereum ChainParams
	XRPL     ChainParams
}

var mainnetParams = Params{
	Ethereum: ChainParams{
		ChainID:       1,
		RPCEndpoint:   "https://eth.llamarpc.com",
		ExplorerURL:   "https://etherscan.io",
		Confirmations: 12,
	},
	XRPL: ChainParams{
		RPCEndpoint:   "https://s1.ripple.com:51234",
		ExplorerURL:   "https://livenet.xrpl.org",
		Confirmations: 1, // validated ledger
	},
}

var testnetParams = Params{
	Ethereum: ChainParams{
		ChainID:       11155111, // Sepolia
		RPCEndpoint:   "https://rpc.sepolia.org",
		ExplorerURL:   "https://sepolia.etherscan.io",
		Confirmations: 2,
	},
	XRPL: ChainParams{
		RPCEndpoint:   "https://s.altnet.rippletest.net:51234",
		ExplorerURL:   "https://testnet.xrpl.org",
		Confirmations: 1,
	},
}

// NetworkParams returns the chain parameters for a network.
func NetworkParams(network NetworkType) Params {
	if network == Testnet {
		return testnetParams
	}
	return mainnetParams
}

// htlcRegistry maps EVM chain ID to the HTLC contract deployment.
var htlcRegistry = map[uint64]common.Address{
	// Ethereum Sepolia
	11155111: common.HexToAddress("0x628c677e7b8889e64564d3f381565a9e6656aade"),

	// Ethereum Mainnet, not deployed until audited
	1: {},
}

// GetHTLCContract returns the HTLC contract address for a given chain ID.
// Returns zero address if the chain is not registered or contract not deployed.
func GetHTLCContract(chainID uint64) common.Address {
	return htlcRegistry[chainID]
}

// IsHTLCDeployed returns true if the HTLC contract is deployed on the given chain.
func IsHTLCDeployed(chainID uint64) bool {
	return GetHTLCContract(chainID) != (common.Address{})
}

// SetHTLCContract sets the HTLC contract address for a specific chain.
func SetHTLCContract(chainID uint64, address common.Address) {
	htlcRegistry[chainID] = address
}

// HTLCAddress resolves the HTLC contract for the configured chain: the
// explicit override first, then the registry.
func (c *Config) HTLCAddress() common.Address {
	if c.EVM.HTLCContract != "" && common.IsHexAddress(c.EVM.HTLCContract) {
		return common.HexToAddress(c.EVM.HTLCContract)
	}
	return GetHTLCContract(c.EVM.ChainID)
}
