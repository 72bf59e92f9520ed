package pricing

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// PairMatchMaxRatio bounds price-proximity pair inference. An empirical
	// tunable, not a contract: historical drift can be large, but matching
	// across unrelated assets must be rejected.
	PairMatchMaxRatio float64 `envconfig:"PAIR_MATCH_MAX_RATIO" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
