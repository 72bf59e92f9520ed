package model

import "time"

const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// PairUnknown is used when the market relation is missing and price-based
// inference found no match within tolerance.
const PairUnknown = "Unknown"

// Trade is one reconstructed trade. Identity is the protocol trade id when the
// structured API knew the trade, otherwise the opening transaction hash.
//
// Numeric fields are pointers because "unknown" and "zero" are different
// things here: a pruned receipt means the fee is unknown, and folding it into
// totals as 0 would silently skew the aggregates.
type Trade struct {
	Identity  string `json:"id"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Pair      string `json:"pair"`

	Leverage          *float64 `json:"leverage,omitempty"`
	CollateralUsd     *float64 `json:"collateral_usd,omitempty"`
	OpenPrice         *float64 `json:"open_price,omitempty"`
	ClosePrice        *float64 `json:"close_price,omitempty"`
	ProfitPct         *float64 `json:"profit_pct,omitempty"`
	PnlAmountUsd      *float64 `json:"pnl_amount_usd,omitempty"`
	OpeningFeeUsd     *float64 `json:"opening_fee_usd,omitempty"`
	ClosingFeeUsd     *float64 `json:"closing_fee_usd,omitempty"`
	BorrowingFeeUsd   *float64 `json:"borrowing_fee_usd,omitempty"`
	TriggerFeeUsd     *float64 `json:"trigger_fee_usd,omitempty"`
	TotalFeesUsd      *float64 `json:"total_fees_usd,omitempty"`
	AmountReceivedUsd *float64 `json:"amount_received_usd,omitempty"`

	// PnlEstimated marks a ProfitPct derived from amount-received deltas
	// rather than reported by a user_close_order event. Rough estimate,
	// not actual trade P&L.
	PnlEstimated bool `json:"pnl_estimated,omitempty"`

	OpenedAt *time.Time `json:"opened_at,omitempty"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// IsClosed reports whether the trade reached its terminal state.
func (t *Trade) IsClosed() bool {
	return t.Status == TradeStatusClosed
}
