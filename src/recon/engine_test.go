package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pnldash/src/abi"
	"pnldash/src/connectors"
	"pnldash/src/fees"
	"pnldash/src/model"
	"pnldash/src/pricing"
	"pnldash/src/scanner"
)

func testEngine() *Engine {
	norm := pricing.NewNormalizer(
		[]model.MarketInfo{
			{Symbol: "BTC-USD", OraclePrice: 60000},
			{Symbol: "ETH-USD", OraclePrice: 3000},
		},
		map[string]float64{},
		pricing.Config{PairMatchMaxRatio: 5},
	)
	return NewEngine(norm)
}

func ptr(f float64) *float64 { return &f }

func openGraphTrade(id string) connectors.GraphTrade {
	return connectors.GraphTrade{
		ID:               id,
		IsOpen:           true,
		IsLong:           true,
		Leverage:         "5",
		Collateral:       "100000000", // 100 USDC
		CollateralSymbol: "USDC",
		EntryPrice:       "60100000000", // 60100
		Timestamp:        "1700000000",
		Market:           &connectors.GraphMarket{Ticker: "BTC-USD", OraclePrice: "60000000000"},
	}
}

func TestReconcile_UserCloseOrderWins(t *testing.T) {
	e := testEngine()
	closedAt := time.Unix(1700003600, 0).UTC()

	out := e.Reconcile(Inputs{
		Trades: []connectors.GraphTrade{openGraphTrade("17")},
		Candidates: []scanner.TxCandidate{{
			TxHash:    "0xclose",
			Timestamp: closedAt,
			Events: []*abi.Event{{
				Name:      abi.EventUserCloseOrder,
				TradeID:   "17",
				ProfitPct: ptr(0.12),
				Price:     ptr(61000.0),
			}},
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	assert.Equal(t, "17", tr.Identity)
	assert.Equal(t, model.TradeStatusClosed, tr.Status)
	assert.Equal(t, model.DirectionLong, tr.Direction)
	assert.Equal(t, "BTC-USD", tr.Pair)
	assert.False(t, tr.PnlEstimated)
	if assert.NotNil(t, tr.Leverage) {
		assert.Equal(t, 5.0, *tr.Leverage)
	}
	if assert.NotNil(t, tr.CollateralUsd) {
		assert.InDelta(t, 100.0, *tr.CollateralUsd, 1e-9)
	}
	if assert.NotNil(t, tr.ProfitPct) {
		assert.InDelta(t, 0.12, *tr.ProfitPct, 1e-9)
	}
	if assert.NotNil(t, tr.PnlAmountUsd) {
		assert.InDelta(t, 12.0, *tr.PnlAmountUsd, 1e-9)
	}
	if assert.NotNil(t, tr.ClosedAt) {
		assert.Equal(t, closedAt, *tr.ClosedAt)
	}
}

func TestReconcile_OpenOnlyStaysOpen(t *testing.T) {
	e := testEngine()
	gt := openGraphTrade("3")
	gt.Pnl = "2500000" // 2.5 unrealized

	out := e.Reconcile(Inputs{Trades: []connectors.GraphTrade{gt}})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	assert.Equal(t, model.TradeStatusOpen, tr.Status)
	assert.Nil(t, tr.ClosedAt)
	if assert.NotNil(t, tr.ProfitPct) {
		assert.InDelta(t, 0.025, *tr.ProfitPct, 1e-9)
	}
}

func TestReconcile_DuplicateInputsIdempotent(t *testing.T) {
	e := testEngine()
	gt := openGraphTrade("9")

	once := e.Reconcile(Inputs{Trades: []connectors.GraphTrade{gt}})
	twice := e.Reconcile(Inputs{Trades: []connectors.GraphTrade{gt, gt}})

	assert.Equal(t, once, twice)
	assert.Len(t, twice, 1)
}

func TestReconcile_SameIdentityAcrossSources(t *testing.T) {
	// The same trade seen by all three sources must collapse into one record.
	e := testEngine()

	out := e.Reconcile(Inputs{
		Trades: []connectors.GraphTrade{openGraphTrade("5")},
		History: []connectors.GraphHistoryEntry{{
			TradeID:          "5",
			Action:           "close",
			Pnl:              "10000000", // 10
			CollateralSymbol: "USDC",
			Timestamp:        "1700007200",
		}},
		Candidates: []scanner.TxCandidate{{
			TxHash: "0xaaa",
			Events: []*abi.Event{{Name: abi.EventTradeClosed, TradeID: "5"}},
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	assert.Equal(t, model.TradeStatusClosed, tr.Status)
	// Change-log realized P&L: 10 over 100 collateral.
	if assert.NotNil(t, tr.ProfitPct) {
		assert.InDelta(t, 0.1, *tr.ProfitPct, 1e-9)
	}
}

func TestReconcile_AmountReceivedInvariant(t *testing.T) {
	e := testEngine()

	out := e.Reconcile(Inputs{
		Trades: []connectors.GraphTrade{openGraphTrade("8")},
		Candidates: []scanner.TxCandidate{{
			TxHash: "0xbbb",
			Events: []*abi.Event{{
				Name:      abi.EventUserCloseOrder,
				TradeID:   "8",
				ProfitPct: ptr(-0.4),
			}},
		}},
	})

	tr := out[0]
	if tr.CollateralUsd == nil || tr.PnlAmountUsd == nil || tr.AmountReceivedUsd == nil {
		t.Fatalf("expected collateral, pnl and amount received to be known: %+v", tr)
	}
	assert.InDelta(t, *tr.CollateralUsd+*tr.PnlAmountUsd, *tr.AmountReceivedUsd, 1e-6)
	assert.InDelta(t, 60.0, *tr.AmountReceivedUsd, 1e-6)
}

func TestReconcile_ClosedNeverReopens(t *testing.T) {
	// An open event replayed after the close must not move the state back.
	e := testEngine()

	out := e.Reconcile(Inputs{
		History: []connectors.GraphHistoryEntry{{
			TradeID:          "11",
			Action:           "liquidation",
			Pnl:              "-50000000",
			Collateral:       "50000000",
			CollateralSymbol: "USDC",
			Timestamp:        "1700000500",
		}},
		Candidates: []scanner.TxCandidate{{
			TxHash:    "0xopen",
			Timestamp: time.Unix(1700000000, 0).UTC(),
			Events: []*abi.Event{{
				Name:     abi.EventTradeOpened,
				TradeID:  "11",
				Long:     func() *bool { b := false; return &b }(),
				Leverage: ptr(10.0),
			}},
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	assert.Equal(t, model.TradeStatusClosed, out[0].Status)
	assert.Equal(t, model.DirectionShort, out[0].Direction)
}

func TestReconcile_HistorySynthesizesDroppedTrade(t *testing.T) {
	// A trade that fully dropped out of the point-in-time view survives only
	// in the change-log.
	e := testEngine()

	out := e.Reconcile(Inputs{
		History: []connectors.GraphHistoryEntry{{
			TradeID:          "21",
			Action:           "take_profit",
			Pnl:              "30000000",  // 30
			Collateral:       "200000000", // 200
			CollateralSymbol: "USDC",
			Leverage:         "3",
			EntryPrice:       "58000000000", // 58000 -> BTC-USD
			AmountReceived:   "230000000",
			Timestamp:        "1700001000",
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	assert.Equal(t, model.TradeStatusClosed, tr.Status)
	assert.Equal(t, "BTC-USD", tr.Pair)
	if assert.NotNil(t, tr.ProfitPct) {
		assert.InDelta(t, 0.15, *tr.ProfitPct, 1e-9)
	}
	if assert.NotNil(t, tr.Leverage) {
		assert.Equal(t, 3.0, *tr.Leverage)
	}
}

func TestReconcile_EstimatedPnlFlagged(t *testing.T) {
	// No P&L source at all, only the cash delta from the close event.
	e := testEngine()

	out := e.Reconcile(Inputs{
		Candidates: []scanner.TxCandidate{{
			TxHash:    "0xsolo",
			Timestamp: time.Unix(1700002000, 0).UTC(),
			Events: []*abi.Event{
				{Name: abi.EventTradeOpened, TradeID: "31", Collateral: ptr(80000000.0)},
				{Name: abi.EventTradeClosed, TradeID: "31", AmountReceived: ptr(100000000.0)},
			},
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	assert.True(t, tr.PnlEstimated)
	if assert.NotNil(t, tr.ProfitPct) {
		assert.InDelta(t, 0.25, *tr.ProfitPct, 1e-9)
	}
	// Event amounts carry no token symbol, so they never turn into USD.
	assert.Nil(t, tr.CollateralUsd)
	assert.Nil(t, tr.PnlAmountUsd)
}

func TestReconcile_NonStableHistoryCollateralConverted(t *testing.T) {
	// A history-only trade collateralized in a non-stable token must be
	// valued at the token's price, never 1:1.
	norm := pricing.NewNormalizer(
		[]model.MarketInfo{{Symbol: "BTC-USD", OraclePrice: 60000}},
		map[string]float64{"SEI": 0.5},
		pricing.Config{PairMatchMaxRatio: 5},
	)
	e := NewEngine(norm)

	out := e.Reconcile(Inputs{
		History: []connectors.GraphHistoryEntry{{
			TradeID:          "71",
			Action:           "close",
			Pnl:              "20000000",  // 20 SEI
			Collateral:       "100000000", // 100 SEI
			CollateralSymbol: "SEI",
			Timestamp:        "1700002000",
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	if assert.NotNil(t, tr.CollateralUsd) {
		assert.InDelta(t, 50.0, *tr.CollateralUsd, 1e-9)
	}
	if assert.NotNil(t, tr.ProfitPct) {
		assert.InDelta(t, 0.2, *tr.ProfitPct, 1e-9)
	}
	if assert.NotNil(t, tr.PnlAmountUsd) {
		assert.InDelta(t, 10.0, *tr.PnlAmountUsd, 1e-9)
	}
}

func TestReconcile_UnknownCollateralTokenStaysUnknown(t *testing.T) {
	// No symbol and no price snapshot: the USD figures stay nil instead of
	// being coerced 1:1.
	e := testEngine()

	out := e.Reconcile(Inputs{
		History: []connectors.GraphHistoryEntry{{
			TradeID:    "72",
			Action:     "close",
			Pnl:        "20000000",
			Collateral: "100000000",
			Timestamp:  "1700002000",
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	assert.Nil(t, tr.CollateralUsd)
	assert.Nil(t, tr.ProfitPct)
	assert.Nil(t, tr.PnlAmountUsd)
}

func TestReconcile_HistoryPriceSnapshotFallback(t *testing.T) {
	// A token absent from the live price feed still converts through the
	// close-time snapshot the change-log recorded.
	e := testEngine()

	out := e.Reconcile(Inputs{
		History: []connectors.GraphHistoryEntry{{
			TradeID:          "73",
			Action:           "close",
			Pnl:              "50000000",  // 50 tokens
			Collateral:       "100000000", // 100 tokens
			CollateralSymbol: "ABC",
			CollateralPrice:  "2000000", // 2.0 at close time
			Timestamp:        "1700002000",
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	tr := out[0]
	if assert.NotNil(t, tr.CollateralUsd) {
		assert.InDelta(t, 200.0, *tr.CollateralUsd, 1e-9)
	}
	if assert.NotNil(t, tr.ProfitPct) {
		assert.InDelta(t, 0.5, *tr.ProfitPct, 1e-9)
	}
}

func TestReconcile_UnknownFeesStayUnknown(t *testing.T) {
	e := testEngine()

	out := e.Reconcile(Inputs{
		Trades: []connectors.GraphTrade{openGraphTrade("41")},
		Fees: map[string]fees.Fees{
			// Only the opening fee resolved; the closing receipt was pruned.
			"41": {Opening: ptr(0.5)},
		},
	})

	tr := out[0]
	if assert.NotNil(t, tr.OpeningFeeUsd) {
		assert.InDelta(t, 0.5, *tr.OpeningFeeUsd, 1e-9)
	}
	assert.Nil(t, tr.ClosingFeeUsd)
	if assert.NotNil(t, tr.TotalFeesUsd) {
		assert.InDelta(t, 0.5, *tr.TotalFeesUsd, 1e-9)
	}

	// And a trade with no resolved fees at all reports no total.
	out = e.Reconcile(Inputs{Trades: []connectors.GraphTrade{openGraphTrade("42")}})
	assert.Nil(t, out[0].TotalFeesUsd)
}

func TestReconcile_NewestFirst(t *testing.T) {
	e := testEngine()

	older := openGraphTrade("1")
	older.Timestamp = "1700000000"
	newer := openGraphTrade("2")
	newer.Timestamp = "1700050000"

	out := e.Reconcile(Inputs{Trades: []connectors.GraphTrade{older, newer}})

	if len(out) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(out))
	}
	assert.Equal(t, "2", out[0].Identity)
	assert.Equal(t, "1", out[1].Identity)
}

func TestReconcile_TxHashIdentityFallback(t *testing.T) {
	// Events whose payload lost the trade id fall back to the tx hash.
	e := testEngine()

	out := e.Reconcile(Inputs{
		Candidates: []scanner.TxCandidate{{
			TxHash:    "0xdeadbeef",
			Timestamp: time.Unix(1700000000, 0).UTC(),
			Events:    []*abi.Event{{Name: abi.EventTradeOpened, Leverage: ptr(2.0)}},
		}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out))
	}
	assert.Equal(t, "0xdeadbeef", out[0].Identity)
	assert.Equal(t, model.TradeStatusOpen, out[0].Status)
}

func TestOpenPositions_DerivedMarkPrice(t *testing.T) {
	e := testEngine()
	gt := openGraphTrade("51")
	gt.Pnl = "10000000" // +10 on 100 collateral at 5x: +2% price move

	out := e.OpenPositions([]connectors.GraphTrade{gt})

	if len(out) != 1 {
		t.Fatalf("expected 1 position, got %d", len(out))
	}
	p := out[0]
	if assert.NotNil(t, p.UnrealizedPnlPct) {
		assert.InDelta(t, 0.1, *p.UnrealizedPnlPct, 1e-9)
	}
	if assert.NotNil(t, p.MarkPrice) {
		assert.InDelta(t, 60100*1.02, *p.MarkPrice, 1e-6)
	}
}

func TestOpenPositions_SkipsClosed(t *testing.T) {
	e := testEngine()
	gt := openGraphTrade("61")
	gt.IsOpen = false

	out := e.OpenPositions([]connectors.GraphTrade{gt})
	assert.Empty(t, out)
}
