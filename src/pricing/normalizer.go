// Package pricing converts the protocol's raw fixed-point amounts and
// multi-collateral token amounts into a single USD float space.
package pricing

import (
	"strconv"

	"github.com/shopspring/decimal"

	"pnldash/src/model"
)

// FixedPointDecimals is the protocol-wide fixed-point scale. Every raw
// integer amount divides by 10^6 first.
const FixedPointDecimals = 6

// StableSymbol is the USD-pegged collateral asset, multiplier 1 by
// definition.
const StableSymbol = "USDC"

var fixedPointDivisor = decimal.New(1, FixedPointDecimals)

// FromFixedPointString parses a raw fixed-point integer string into its
// scaled float value. Nil when the input is not a number (unknown, not zero).
func FromFixedPointString(raw string) *float64 {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	f, _ := d.Div(fixedPointDivisor).Float64()
	return &f
}

// ScaleFixedPoint divides an already-parsed raw amount by the fixed-point
// divisor.
func ScaleFixedPoint(raw float64) float64 {
	f, _ := decimal.NewFromFloat(raw).Div(fixedPointDivisor).Float64()
	return f
}

// Normalizer holds one request's oracle snapshot.
type Normalizer struct {
	Markets          []model.MarketInfo
	CollateralPrices map[string]float64

	// MaxPairRatio is the rejection band for InferPair, see Config.
	MaxPairRatio float64
}

func NewNormalizer(markets []model.MarketInfo, collateralPrices map[string]float64, cfg Config) *Normalizer {
	return &Normalizer{
		Markets:          markets,
		CollateralPrices: collateralPrices,
		MaxPairRatio:     cfg.PairMatchMaxRatio,
	}
}

// ToUSD converts a raw fixed-point amount in the given collateral token into
// USD. The stable asset converts 1:1; other tokens use the live oracle price,
// falling back to the historical snapshot captured at close time (a live
// price misrepresents P&L for a trade closed against a token whose price has
// since moved). Nil means the conversion could not be performed.
func (n *Normalizer) ToUSD(raw string, collateralSymbol string, historicalPrice *float64) *float64 {
	amount := FromFixedPointString(raw)
	if amount == nil {
		return nil
	}
	return n.scale(*amount, collateralSymbol, historicalPrice)
}

// scale converts a token amount to USD. An empty or unrecognized symbol with
// no price yields nil: valuing an unknown token 1:1 would silently skew every
// downstream aggregate.
func (n *Normalizer) scale(amount float64, collateralSymbol string, historicalPrice *float64) *float64 {
	if collateralSymbol == StableSymbol {
		return &amount
	}
	if price, ok := n.CollateralPrices[collateralSymbol]; ok && price > 0 {
		v := amount * price
		return &v
	}
	if historicalPrice != nil && *historicalPrice > 0 {
		v := amount * *historicalPrice
		return &v
	}
	return nil
}

// InferPair guesses the traded market from an entry price when the market
// relation is unavailable: closest known market by price ratio, rejected
// beyond MaxPairRatio. "Unknown" when nothing is within tolerance.
func (n *Normalizer) InferPair(entryPrice float64) string {
	if entryPrice <= 0 {
		return model.PairUnknown
	}

	best := model.PairUnknown
	bestRatio := 0.0
	for _, m := range n.Markets {
		if m.OraclePrice <= 0 {
			continue
		}
		ratio := m.OraclePrice / entryPrice
		if ratio < 1 {
			ratio = 1 / ratio
		}
		if best == model.PairUnknown || ratio < bestRatio {
			best = m.Symbol
			bestRatio = ratio
		}
	}
	if best != model.PairUnknown && bestRatio > n.MaxPairRatio {
		return model.PairUnknown
	}
	return best
}

// ParseUnixTimestamp converts the indexer's unix-seconds string fields.
func ParseUnixTimestamp(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
