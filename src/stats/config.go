package stats

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// VolumeRefreshInterval is deliberately long: the protocol-wide volume
	// walk is expensive and stale-but-cheap beats fresh-but-blocking.
	VolumeRefreshInterval time.Duration `envconfig:"VOLUME_REFRESH_INTERVAL" default:"6h"`
	GlobalHistoryPageSize int           `envconfig:"GLOBAL_HISTORY_PAGE_SIZE" default:"1000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
