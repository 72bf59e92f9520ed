package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// Endpoints is the upstream set for one network.
type Endpoints struct {
	RPCURL      string
	GraphURL    string
	ExplorerURL string
}

type Config struct {
	MainnetRPCURL      string `envconfig:"MAINNET_RPC_URL" default:"https://evm-rpc.sei-apis.com"`
	MainnetGraphURL    string `envconfig:"MAINNET_GRAPH_URL" default:"https://api.goldsky.com/api/public/perps-sei/subgraphs/perps/prod/gn"`
	MainnetExplorerURL string `envconfig:"MAINNET_EXPLORER_URL" default:"https://seitrace.com"`

	TestnetRPCURL      string `envconfig:"TESTNET_RPC_URL" default:"https://evm-rpc-testnet.sei-apis.com"`
	TestnetGraphURL    string `envconfig:"TESTNET_GRAPH_URL" default:"https://api.goldsky.com/api/public/perps-sei/subgraphs/perps/testnet/gn"`
	TestnetExplorerURL string `envconfig:"TESTNET_EXPLORER_URL" default:"https://seitrace.com/?chain=atlantic-2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Endpoints resolves a network selector. Unknown selectors are a caller
// error, caught at the API boundary before any upstream call is issued.
func (c Config) Endpoints(network string) (Endpoints, error) {
	switch network {
	case NetworkMainnet:
		return Endpoints{RPCURL: c.MainnetRPCURL, GraphURL: c.MainnetGraphURL, ExplorerURL: c.MainnetExplorerURL}, nil
	case NetworkTestnet:
		return Endpoints{RPCURL: c.TestnetRPCURL, GraphURL: c.TestnetGraphURL, ExplorerURL: c.TestnetExplorerURL}, nil
	default:
		return Endpoints{}, fmt.Errorf("unknown network %q", network)
	}
}

// ValidNetwork reports whether the selector names a supported network.
func ValidNetwork(network string) bool {
	return network == NetworkMainnet || network == NetworkTestnet
}
