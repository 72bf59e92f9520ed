package recon

import (
	"time"

	"pnldash/src/connectors"
	"pnldash/src/model"
	"pnldash/src/pricing"
)

// OpenPositions projects the live state of currently-open trades. The
// point-in-time view is authoritative here, closed trades never appear.
func (e *Engine) OpenPositions(trades []connectors.GraphTrade) []model.OpenPosition {
	var out []model.OpenPosition
	for i := range trades {
		gt := &trades[i]
		if !gt.IsOpen {
			continue
		}

		p := model.OpenPosition{
			TradeID:   gt.ID,
			Direction: directionOf(gt.IsLong),
			Pair:      model.PairUnknown,
		}
		p.Leverage = parsePlainFloat(gt.Leverage)
		p.EntryPrice = pricing.FromFixedPointString(gt.EntryPrice)
		p.CollateralUsd = e.norm.ToUSD(gt.Collateral, gt.CollateralSymbol, nil)
		p.StopLoss = pricing.FromFixedPointString(gt.StopLoss)
		p.TakeProfit = pricing.FromFixedPointString(gt.TakeProfit)
		p.LiquidationPrice = pricing.FromFixedPointString(gt.LiquidationPrice)

		if gt.Market != nil && gt.Market.Ticker != "" {
			p.Pair = gt.Market.Ticker
		} else if p.EntryPrice != nil {
			p.Pair = e.norm.InferPair(*p.EntryPrice)
		}

		if pnl := e.norm.ToUSD(gt.Pnl, gt.CollateralSymbol, nil); pnl != nil {
			p.UnrealizedPnl = pnl
			if p.CollateralUsd != nil && *p.CollateralUsd > 0 {
				pct := *pnl / *p.CollateralUsd
				p.UnrealizedPnlPct = &pct
			}
		}

		// Mark price is derived from the entry price and the unrealized
		// P&L percentage, never fetched: pnlPct/leverage is the price move.
		if p.EntryPrice != nil && p.UnrealizedPnlPct != nil && p.Leverage != nil && *p.Leverage > 0 {
			move := *p.UnrealizedPnlPct / *p.Leverage
			mark := *p.EntryPrice * (1 + move)
			if !gt.IsLong {
				mark = *p.EntryPrice * (1 - move)
			}
			p.MarkPrice = &mark
		}

		if ts, ok := pricing.ParseUnixTimestamp(gt.Timestamp); ok {
			opened := time.Unix(ts, 0).UTC()
			p.OpenedAt = &opened
		}

		out = append(out, p)
	}
	return out
}
