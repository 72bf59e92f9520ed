package model

import "time"

// OpenPosition is the live-state projection of an open trade. MarkPrice is
// derived from the entry price and the unrealized P&L percentage, it is never
// fetched directly.
type OpenPosition struct {
	TradeID          string     `json:"trade_id"`
	Pair             string     `json:"pair"`
	Direction        string     `json:"direction"`
	Leverage         *float64   `json:"leverage,omitempty"`
	CollateralUsd    *float64   `json:"collateral_usd,omitempty"`
	EntryPrice       *float64   `json:"entry_price,omitempty"`
	MarkPrice        *float64   `json:"mark_price,omitempty"`
	LiquidationPrice *float64   `json:"liquidation_price,omitempty"`
	StopLoss         *float64   `json:"stop_loss,omitempty"`
	TakeProfit       *float64   `json:"take_profit,omitempty"`
	UnrealizedPnl    *float64   `json:"unrealized_pnl,omitempty"`
	UnrealizedPnlPct *float64   `json:"unrealized_pnl_pct,omitempty"`
	OpenedAt         *time.Time `json:"opened_at,omitempty"`
}
