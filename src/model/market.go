package model

// MarketInfo is an ephemeral oracle snapshot, used for USD conversion and
// pair inference within one request. Never persisted.
type MarketInfo struct {
	Symbol      string  `json:"symbol"`
	OraclePrice float64 `json:"oracle_price"`
}
