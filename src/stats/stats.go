// Package stats derives aggregate figures from reconciled trade lists and
// maintains the protocol-wide volume cache.
package stats

import (
	"pnldash/src/model"
)

// Summary aggregates one trader's reconciled list. Pointer fields stay nil
// when no trade contributed a defined value.
type Summary struct {
	TotalPnlPct    *float64 `json:"total_pnl_pct,omitempty"`
	TotalPnlUsd    *float64 `json:"total_pnl_usd,omitempty"`
	WinRate        float64  `json:"win_rate"`
	TotalTrades    int      `json:"total_trades"`
	TotalVolumeUsd float64  `json:"total_volume_usd"`
	FeesPaidUsd    *float64 `json:"fees_paid_usd,omitempty"`
}

// Compute walks the reconciled list once. Only closed trades with a defined
// profitPct count toward win rate and total P&L percent: a trade whose P&L
// could not be determined is excluded from the denominator, not counted as a
// loss.
func Compute(trades []model.Trade) Summary {
	s := Summary{TotalTrades: len(trades)}

	defined := 0
	wins := 0
	var pnlPctSum, pnlUsdSum float64
	pnlUsdKnown := false
	var feeSum float64
	feesKnown := false

	for i := range trades {
		t := &trades[i]

		if t.Leverage != nil && t.CollateralUsd != nil {
			s.TotalVolumeUsd += *t.Leverage * *t.CollateralUsd
		}
		if t.TotalFeesUsd != nil {
			feeSum += *t.TotalFeesUsd
			feesKnown = true
		}

		if !t.IsClosed() || t.ProfitPct == nil {
			continue
		}
		defined++
		pnlPctSum += *t.ProfitPct
		if *t.ProfitPct > 0 {
			wins++
		}
		if t.PnlAmountUsd != nil {
			pnlUsdSum += *t.PnlAmountUsd
			pnlUsdKnown = true
		}
	}

	// 0/0 is 0 by convention, never NaN.
	if defined > 0 {
		s.WinRate = float64(wins) / float64(defined)
		s.TotalPnlPct = &pnlPctSum
	}
	if pnlUsdKnown {
		s.TotalPnlUsd = &pnlUsdSum
	}
	if feesKnown {
		s.FeesPaidUsd = &feeSum
	}
	return s
}
