// Package fees recovers opening/closing/trigger fee components from on-chain
// receipts. The structured API links trades to fee transactions but does not
// index the amounts.
package fees

import (
	"context"
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"pnldash/src/abi"
	"pnldash/src/connectors"
	"pnldash/src/pricing"
)

const (
	// batchSize caps in-flight receipt fetches against rate-sensitive public
	// RPC endpoints. Bounded parallelism, not full fan-out.
	batchSize = 10

	// requestTimeout bounds each individual receipt fetch. A timeout is the
	// same as not-found: the trade's fee stays unknown.
	requestTimeout = 10 * time.Second
)

// Request asks for the fees processed in one transaction.
type Request struct {
	TradeID   string
	TxHash    string
	IsOpening bool
}

// Fees are USD-scaled fee components. Nil component means unknown, never
// zero: pruned receipts and timeouts must not deflate fee totals.
type Fees struct {
	Opening   *float64
	Closing   *float64
	Trigger   *float64
	Borrowing *float64
}

type receiptSource interface {
	GetTransactionReceipt(ctx context.Context, txHash string) (*connectors.Receipt, error)
}

// Resolve fetches and decodes receipts for every request, in batches, and
// accumulates fee components per trade id (opening and closing fees arrive
// from separate transactions for the same trade). Failed or timed-out
// look-ups simply leave no entry for that component.
func Resolve(ctx context.Context, rpc receiptSource, reqs []Request) map[string]Fees {
	out := make(map[string]Fees)
	var mu sync.Mutex

	for start := 0; start < len(reqs); start += batchSize {
		end := start + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		var wg sync.WaitGroup
		for _, req := range reqs[start:end] {
			wg.Add(1)
			go func(req Request) {
				defer wg.Done()
				f, ok := resolveOne(ctx, rpc, req)
				if !ok {
					return
				}
				mu.Lock()
				merged := out[req.TradeID]
				merged.accumulate(f)
				out[req.TradeID] = merged
				mu.Unlock()
			}(req)
		}
		wg.Wait()
	}

	return out
}

func resolveOne(ctx context.Context, rpc receiptSource, req Request) (Fees, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	receipt, err := rpc.GetTransactionReceipt(reqCtx, req.TxHash)
	if err != nil {
		// Old receipts get pruned by the nodes. Legitimate, not an error,
		// and not worth a retry.
		if errors.Is(err, connectors.ErrNotFound) {
			logger.WithField("tx", req.TxHash).Debug("receipt pruned, fee unknown")
		} else {
			logger.WithError(err).WithField("tx", req.TxHash).Warn("receipt fetch failed, fee unknown")
		}
		return Fees{}, false
	}

	var f Fees
	found := false
	for _, entry := range receipt.Logs {
		ev := abi.DecodeLogData(entry.Data)
		if ev == nil {
			continue
		}
		// Only the kind the fee-transaction link promised. A mislinked tx
		// must not contribute the other side's fees.
		switch ev.Name {
		case abi.EventFeesProcessedOpen:
			if !req.IsOpening {
				continue
			}
			if ev.OpeningFee != nil {
				v := pricing.ScaleFixedPoint(*ev.OpeningFee)
				f.Opening = &v
				found = true
			}
			if ev.TriggerFee != nil {
				v := pricing.ScaleFixedPoint(*ev.TriggerFee)
				f.Trigger = &v
				found = true
			}
		case abi.EventFeesProcessedClose:
			if req.IsOpening {
				continue
			}
			if ev.ClosingFee != nil {
				v := pricing.ScaleFixedPoint(*ev.ClosingFee)
				f.Closing = &v
				found = true
			}
			if ev.TriggerFee != nil {
				v := pricing.ScaleFixedPoint(*ev.TriggerFee)
				f.Trigger = addOpt(f.Trigger, v)
				found = true
			}
			if ev.BorrowingFee != nil {
				v := pricing.ScaleFixedPoint(*ev.BorrowingFee)
				f.Borrowing = &v
				found = true
			}
		}
	}
	return f, found
}

func (f *Fees) accumulate(other Fees) {
	if other.Opening != nil {
		f.Opening = addOpt(f.Opening, *other.Opening)
	}
	if other.Closing != nil {
		f.Closing = addOpt(f.Closing, *other.Closing)
	}
	if other.Trigger != nil {
		f.Trigger = addOpt(f.Trigger, *other.Trigger)
	}
	if other.Borrowing != nil {
		f.Borrowing = addOpt(f.Borrowing, *other.Borrowing)
	}
}

func addOpt(cur *float64, v float64) *float64 {
	if cur == nil {
		return &v
	}
	sum := *cur + v
	return &sum
}
