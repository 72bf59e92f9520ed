package model

// Response envelopes for the read API.

type TradesResponse struct {
	Address     string   `json:"address"`
	Trades      []Trade  `json:"trades"`
	TotalPnl    *float64 `json:"total_pnl,omitempty"`
	TotalPnlPct *float64 `json:"total_pnl_pct,omitempty"`
	WinRate     float64  `json:"win_rate"`
	TotalTrades int      `json:"total_trades"`
	Explorer    string   `json:"explorer"`
}

type PositionsResponse struct {
	Address            string         `json:"address"`
	Positions          []OpenPosition `json:"positions"`
	TotalPositions     int            `json:"total_positions"`
	TotalUnrealizedPnl float64        `json:"total_unrealized_pnl"`
}

type VaultPositionsResponse struct {
	Address           string          `json:"address"`
	Positions         []VaultPosition `json:"positions"`
	TotalDeposited    float64         `json:"total_deposited"`
	TotalCurrentValue float64         `json:"total_current_value"`
	TotalEarnings     float64         `json:"total_earnings"`
}

type StatsResponse struct {
	Network         string  `json:"network"`
	TvlUsd          float64 `json:"tvl_usd"`
	OpenInterestUsd float64 `json:"open_interest_usd"`
	VaultTvlUsd     float64 `json:"vault_tvl_usd"`
	TotalVolumeUsd  float64 `json:"total_volume_usd"`
	VolumeUpdatedAt string  `json:"volume_updated_at,omitempty"`
}
