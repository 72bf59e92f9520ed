// Package recon merges trade records from the structured indexer, the
// trade-history change-log and the raw log scan into one deduplicated,
// ordered trade list. The heart of the dashboard.
package recon

import (
	"sort"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"pnldash/src/abi"
	"pnldash/src/connectors"
	"pnldash/src/fees"
	"pnldash/src/model"
	"pnldash/src/pricing"
	"pnldash/src/scanner"
)

// Inputs carries one request's adapter outputs. Any slice may be empty or
// nil: a source that failed contributes nothing instead of failing the merge.
type Inputs struct {
	Trades     []connectors.GraphTrade
	History    []connectors.GraphHistoryEntry
	Candidates []scanner.TxCandidate
	Fees       map[string]fees.Fees
}

// acc is the per-identity accumulator. The lifecycle only ever moves forward:
// UNSEEN -> open -> closed, never back.
type acc struct {
	t model.Trade

	// userClosePct pins ProfitPct to the user_close_order figure, which is
	// pre-fee and beats every other P&L source for the identity.
	userClosePct bool
	// histPnl marks a realized P&L taken from the change-log, which beats
	// the point-in-time figure for closed trades but yields to userClosePct.
	histPnl bool

	// rawCollateral/rawReceived are token-denominated amounts from log-scan
	// events, whose payloads carry no token symbol. They never become USD
	// figures, but their ratio is unitless and still yields a P&L estimate.
	rawCollateral *float64
	rawReceived   *float64

	sortTime time.Time
}

type Engine struct {
	norm *pricing.Normalizer
}

func NewEngine(norm *pricing.Normalizer) *Engine {
	return &Engine{norm: norm}
}

// Reconcile merges every source into the final trade list, newest first.
func (e *Engine) Reconcile(in Inputs) []model.Trade {
	accs := make(map[string]*acc)
	var order []string

	get := func(identity string) *acc {
		if a, ok := accs[identity]; ok {
			return a
		}
		a := &acc{t: model.Trade{
			Identity: identity,
			Status:   model.TradeStatusOpen,
			Pair:     model.PairUnknown,
		}}
		accs[identity] = a
		order = append(order, identity)
		return a
	}

	for i := range in.Trades {
		e.seedFromGraph(get, &in.Trades[i])
	}
	for i := range in.History {
		e.layerHistory(get, accs, &in.History[i])
	}
	for i := range in.Candidates {
		e.foldCandidate(get, &in.Candidates[i])
	}

	out := make([]model.Trade, 0, len(order))
	for _, identity := range order {
		a := accs[identity]
		e.overlayFees(a, in.Fees[identity])
		e.finalize(a)
		out = append(out, a.t)
	}

	// Most recent activity first. Ties stay in input order.
	sort.SliceStable(out, func(i, j int) bool {
		return accs[out[i].Identity].sortTime.After(accs[out[j].Identity].sortTime)
	})
	return out
}

// seedFromGraph loads the point-in-time view. Authoritative for open trades
// and for the immutable open-side fields.
func (e *Engine) seedFromGraph(get func(string) *acc, gt *connectors.GraphTrade) {
	if gt.ID == "" {
		return
	}
	a := get(gt.ID)

	a.t.Direction = directionOf(gt.IsLong)
	if lev := parsePlainFloat(gt.Leverage); lev != nil {
		a.t.Leverage = lev
	}
	a.t.OpenPrice = pricing.FromFixedPointString(gt.EntryPrice)
	a.t.CollateralUsd = e.norm.ToUSD(gt.Collateral, gt.CollateralSymbol, nil)

	if gt.Market != nil && gt.Market.Ticker != "" {
		a.t.Pair = gt.Market.Ticker
	} else if a.t.OpenPrice != nil {
		a.t.Pair = e.norm.InferPair(*a.t.OpenPrice)
	}

	if ts, ok := pricing.ParseUnixTimestamp(gt.Timestamp); ok {
		opened := time.Unix(ts, 0).UTC()
		a.t.OpenedAt = &opened
		a.sortTime = opened
	}

	if gt.IsOpen {
		// Point-in-time P&L is the live unrealized figure. Valid while
		// open, wrong once closed.
		a.t.ProfitPct = e.pnlPct(gt.Pnl, gt.CollateralSymbol, nil, a.t.CollateralUsd)
		return
	}

	a.t.Status = model.TradeStatusClosed
	a.t.ClosePrice = pricing.FromFixedPointString(gt.ClosePrice)
	if ts, ok := pricing.ParseUnixTimestamp(gt.ClosedAt); ok {
		closed := time.Unix(ts, 0).UTC()
		a.t.ClosedAt = &closed
		a.sortTime = closed
	}
	a.t.ProfitPct = e.pnlPct(gt.Pnl, gt.CollateralSymbol, nil, a.t.CollateralUsd)
}

// layerHistory folds the append-only change-log in. For identities that
// dropped out of the point-in-time view it synthesizes the whole closed
// record; for seeded identities it only corrects realized P&L.
func (e *Engine) layerHistory(get func(string) *acc, accs map[string]*acc, h *connectors.GraphHistoryEntry) {
	identity := h.TradeID
	if identity == "" {
		identity = h.ID
	}
	if identity == "" {
		return
	}

	existing, seeded := accs[identity]
	closing := isCloseAction(h.Action)
	// Price snapshot from the entry itself, so closed trades in non-stable
	// collateral convert at close-time value, not today's.
	histPrice := pricing.FromFixedPointString(h.CollateralPrice)

	if !seeded {
		a := get(identity)
		if lev := parsePlainFloat(h.Leverage); lev != nil {
			a.t.Leverage = lev
		}
		a.t.OpenPrice = pricing.FromFixedPointString(h.EntryPrice)
		a.t.CollateralUsd = e.norm.ToUSD(h.Collateral, h.CollateralSymbol, histPrice)
		if a.t.OpenPrice != nil {
			a.t.Pair = e.norm.InferPair(*a.t.OpenPrice)
		}
		if closing {
			a.t.Status = model.TradeStatusClosed
			a.t.ClosePrice = pricing.FromFixedPointString(h.ClosePrice)
			a.t.ProfitPct = e.pnlPct(h.Pnl, h.CollateralSymbol, histPrice, a.t.CollateralUsd)
			a.histPnl = a.t.ProfitPct != nil
			a.t.AmountReceivedUsd = e.norm.ToUSD(h.AmountReceived, h.CollateralSymbol, histPrice)
		}
		if ts, ok := pricing.ParseUnixTimestamp(h.Timestamp); ok {
			t := time.Unix(ts, 0).UTC()
			if closing {
				a.t.ClosedAt = &t
			} else {
				a.t.OpenedAt = &t
			}
			a.sortTime = t
		}
		return
	}

	if !closing {
		return
	}

	// The change-log is authoritative for realized P&L: the point-in-time
	// query may still report the stale unrealized figure after close.
	existing.t.Status = model.TradeStatusClosed
	if p := e.pnlPct(h.Pnl, h.CollateralSymbol, histPrice, existing.t.CollateralUsd); p != nil && !existing.userClosePct {
		existing.t.ProfitPct = p
		existing.t.PnlEstimated = false
		existing.histPnl = true
	}
	if cp := pricing.FromFixedPointString(h.ClosePrice); cp != nil {
		existing.t.ClosePrice = cp
	}
	if ar := e.norm.ToUSD(h.AmountReceived, h.CollateralSymbol, histPrice); ar != nil {
		existing.t.AmountReceivedUsd = ar
	}
	if ts, ok := pricing.ParseUnixTimestamp(h.Timestamp); ok {
		closed := time.Unix(ts, 0).UTC()
		existing.t.ClosedAt = &closed
		if closed.After(existing.sortTime) {
			existing.sortTime = closed
		}
	}
}

// foldCandidate replays a log-scan transaction through the event
// classification rules. The log-scan path is the only source when the indexer
// never saw the trader.
func (e *Engine) foldCandidate(get func(string) *acc, c *scanner.TxCandidate) {
	identity := ""
	for _, ev := range c.Events {
		if ev.TradeID != "" {
			identity = ev.TradeID
			break
		}
	}
	if identity == "" {
		identity = c.TxHash
	}
	if identity == "" {
		return
	}
	a := get(identity)

	for _, ev := range c.Events {
		switch {
		case ev.Name.IsOpen():
			e.applyOpenEvent(a, ev, c.Timestamp)
		case ev.Name.IsClose():
			e.applyCloseEvent(a, ev, c.Timestamp)
		default:
			// Unknown event payloads are a no-op, not an error.
		}
	}
	if !c.Timestamp.IsZero() && c.Timestamp.After(a.sortTime) {
		a.sortTime = c.Timestamp
	}
}

func (e *Engine) applyOpenEvent(a *acc, ev *abi.Event, ts time.Time) {
	// Direction is set once at open and immutable afterwards.
	if a.t.Direction == "" && ev.Long != nil {
		a.t.Direction = directionOf(*ev.Long)
	}
	if a.t.Leverage == nil {
		a.t.Leverage = ev.Leverage
	}
	// Event payloads carry no token symbol, so the amount stays in token
	// units. It is never reported as USD.
	if a.rawCollateral == nil && ev.Collateral != nil {
		v := pricing.ScaleFixedPoint(*ev.Collateral)
		a.rawCollateral = &v
	}
	if a.t.OpenPrice == nil {
		if ev.OpenPrice != nil {
			a.t.OpenPrice = ev.OpenPrice
		} else if ev.Price != nil {
			a.t.OpenPrice = ev.Price
		}
	}
	if a.t.Pair == model.PairUnknown && a.t.OpenPrice != nil {
		a.t.Pair = e.norm.InferPair(*a.t.OpenPrice)
	}
	if a.t.OpenedAt == nil && !ts.IsZero() {
		opened := ts
		a.t.OpenedAt = &opened
	}
}

func (e *Engine) applyCloseEvent(a *acc, ev *abi.Event, ts time.Time) {
	a.t.Status = model.TradeStatusClosed
	if a.t.ClosedAt == nil && !ts.IsZero() {
		closed := ts
		a.t.ClosedAt = &closed
	}
	if ev.Price != nil && a.t.ClosePrice == nil {
		a.t.ClosePrice = ev.Price
	}
	if ev.AmountReceived != nil {
		v := pricing.ScaleFixedPoint(*ev.AmountReceived)
		a.rawReceived = &v
	}

	if ev.Name == abi.EventUserCloseOrder && ev.ProfitPct != nil {
		// user_close_order reports pre-fee P&L directly. It wins over every
		// other source for this identity.
		a.t.ProfitPct = ev.ProfitPct
		a.t.PnlEstimated = false
		a.userClosePct = true
		return
	}
	if !a.userClosePct && !a.histPnl && ev.ProfitPct != nil {
		a.t.ProfitPct = ev.ProfitPct
	}
}

func (e *Engine) overlayFees(a *acc, f fees.Fees) {
	a.t.OpeningFeeUsd = f.Opening
	a.t.ClosingFeeUsd = f.Closing
	a.t.TriggerFeeUsd = f.Trigger
	a.t.BorrowingFeeUsd = f.Borrowing
}

// finalize derives the dependent fields once all sources are merged.
func (e *Engine) finalize(a *acc) {
	t := &a.t

	if t.Direction == "" {
		t.Direction = model.DirectionLong
		logger.WithField("trade", t.Identity).Debug("direction unresolved, defaulting long")
	}

	// Fallback P&L estimate from the cash delta. Rough, and flagged as such.
	if t.ProfitPct == nil && t.IsClosed() &&
		t.AmountReceivedUsd != nil && t.CollateralUsd != nil && *t.CollateralUsd > 0 {
		pct := (*t.AmountReceivedUsd - *t.CollateralUsd) / *t.CollateralUsd
		t.ProfitPct = &pct
		t.PnlEstimated = true
	}
	// Same estimate from event amounts: both sides are in the same token,
	// so the ratio is valid even though the USD value is unknown.
	if t.ProfitPct == nil && t.IsClosed() &&
		a.rawReceived != nil && a.rawCollateral != nil && *a.rawCollateral > 0 {
		pct := (*a.rawReceived - *a.rawCollateral) / *a.rawCollateral
		t.ProfitPct = &pct
		t.PnlEstimated = true
	}

	if t.ProfitPct != nil && t.CollateralUsd != nil {
		pnl := *t.CollateralUsd * *t.ProfitPct
		t.PnlAmountUsd = &pnl
	}

	// amountReceived = collateral + pnl whenever both operands are known.
	if t.CollateralUsd != nil && t.PnlAmountUsd != nil {
		received := *t.CollateralUsd + *t.PnlAmountUsd
		t.AmountReceivedUsd = &received
	}

	// Partial fee sums are valid. No components known means unknown total,
	// not zero.
	var total float64
	known := false
	for _, f := range []*float64{t.OpeningFeeUsd, t.ClosingFeeUsd, t.TriggerFeeUsd, t.BorrowingFeeUsd} {
		if f != nil {
			total += *f
			known = true
		}
	}
	if known {
		t.TotalFeesUsd = &total
	}
}

// pnlPct converts an indexed P&L amount into a fraction of collateral. The
// P&L is denominated in the collateral token, so it goes through the same
// USD conversion before dividing.
func (e *Engine) pnlPct(rawPnl, collateralSymbol string, histPrice, collateralUsd *float64) *float64 {
	pnl := e.norm.ToUSD(rawPnl, collateralSymbol, histPrice)
	if pnl == nil || collateralUsd == nil || *collateralUsd <= 0 {
		return nil
	}
	pct := *pnl / *collateralUsd
	return &pct
}

func directionOf(isLong bool) string {
	if isLong {
		return model.DirectionLong
	}
	return model.DirectionShort
}

func parsePlainFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// closeActions are the change-log action names that mean the trade reached
// its terminal state.
var closeActions = map[string]bool{
	"close":        true,
	"trade_closed": true,
	"user_close":   true,
	"stop_loss":    true,
	"take_profit":  true,
	"liquidation":  true,
	"market_close": true,
}

func isCloseAction(action string) bool {
	return closeActions[action]
}
