package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ScanBlockRange bounds the log-scan window, counted back from the
	// chain head. Ten chunks at the 9000-block chunk size by default.
	ScanBlockRange uint64 `envconfig:"SCAN_BLOCK_RANGE" default:"90000"`

	// ContractAddress is the protocol's core contract, used as the
	// eth_getLogs address filter. Empty scans unfiltered.
	ContractAddress string `envconfig:"PROTOCOL_CONTRACT_ADDRESS" default:""`

	DefaultLimit int `envconfig:"TRADES_DEFAULT_LIMIT" default:"100"`
	MaxLimit     int `envconfig:"TRADES_MAX_LIMIT" default:"500"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
