package fees

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"pnldash/src/connectors"
)

// logData builds a receipt log data field: 64-byte header, then the JSON
// payload in its ABI byte-string wrapper.
func logData(payload string) string {
	b := []byte(payload)
	head := make([]byte, 64)
	head[31] = 0x20
	length := len(b)
	for i := 0; i < 8; i++ {
		head[63-i] = byte(length >> (8 * i))
	}
	padded := make([]byte, ((length+31)/32)*32)
	copy(padded, b)
	return "0x" + strings.Repeat("00", 64) + hex.EncodeToString(head) + hex.EncodeToString(padded)
}

type mockReceipts struct {
	mu       sync.Mutex
	receipts map[string]*connectors.Receipt
	errs     map[string]error
	calls    []string
	inflight int
	maxSeen  int
}

func (m *mockReceipts) GetTransactionReceipt(ctx context.Context, txHash string) (*connectors.Receipt, error) {
	m.mu.Lock()
	m.calls = append(m.calls, txHash)
	m.inflight++
	if m.inflight > m.maxSeen {
		m.maxSeen = m.inflight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if err, ok := m.errs[txHash]; ok {
		return nil, err
	}
	if r, ok := m.receipts[txHash]; ok {
		return r, nil
	}
	return nil, connectors.ErrNotFound
}

func feeReceipt(payloads ...string) *connectors.Receipt {
	r := &connectors.Receipt{Status: "0x1"}
	for _, p := range payloads {
		r.Logs = append(r.Logs, connectors.LogEntry{Data: logData(p)})
	}
	return r
}

func TestResolve_OpeningAndClosingAccumulate(t *testing.T) {
	rpc := &mockReceipts{
		receipts: map[string]*connectors.Receipt{
			"0xopen":  feeReceipt(`{"name":"fees_processed_open","opening_fee":"500000","trigger_fee":"100000"}`),
			"0xclose": feeReceipt(`{"name":"fees_processed_close","closing_fee":"300000","rollover_fees":"200000"}`),
		},
	}

	out := Resolve(context.Background(), rpc, []Request{
		{TradeID: "42", TxHash: "0xopen", IsOpening: true},
		{TradeID: "42", TxHash: "0xclose", IsOpening: false},
	})

	f, ok := out["42"]
	if !ok {
		t.Fatal("expected fees for trade 42")
	}
	if assert.NotNil(t, f.Opening) {
		assert.InDelta(t, 0.5, *f.Opening, 1e-9)
	}
	if assert.NotNil(t, f.Closing) {
		assert.InDelta(t, 0.3, *f.Closing, 1e-9)
	}
	if assert.NotNil(t, f.Trigger) {
		assert.InDelta(t, 0.1, *f.Trigger, 1e-9)
	}
	if assert.NotNil(t, f.Borrowing) {
		assert.InDelta(t, 0.2, *f.Borrowing, 1e-9)
	}
}

func TestResolve_PrunedReceiptMeansUnknown(t *testing.T) {
	// A pruned receipt must leave the fee unknown. An entry with zero fees
	// would silently deflate the totals.
	rpc := &mockReceipts{}

	out := Resolve(context.Background(), rpc, []Request{
		{TradeID: "7", TxHash: "0xgone", IsOpening: true},
	})

	_, ok := out["7"]
	assert.False(t, ok)
}

func TestResolve_TransportErrorDegrades(t *testing.T) {
	rpc := &mockReceipts{
		errs: map[string]error{"0xbad": errors.New("connection reset")},
		receipts: map[string]*connectors.Receipt{
			"0xgood": feeReceipt(`{"name":"fees_processed_open","opening_fee":"1000000"}`),
		},
	}

	out := Resolve(context.Background(), rpc, []Request{
		{TradeID: "1", TxHash: "0xbad", IsOpening: true},
		{TradeID: "2", TxHash: "0xgood", IsOpening: true},
	})

	_, ok := out["1"]
	assert.False(t, ok)
	if f, ok := out["2"]; assert.True(t, ok) && assert.NotNil(t, f.Opening) {
		assert.InDelta(t, 1.0, *f.Opening, 1e-9)
	}
}

func TestResolve_IrrelevantEventsIgnored(t *testing.T) {
	rpc := &mockReceipts{
		receipts: map[string]*connectors.Receipt{
			"0xtx": feeReceipt(`{"name":"trade_opened","leverage":"5"}`),
		},
	}

	out := Resolve(context.Background(), rpc, []Request{
		{TradeID: "9", TxHash: "0xtx", IsOpening: true},
	})
	_, ok := out["9"]
	assert.False(t, ok)
}

func TestResolve_MismatchedEventKindIgnored(t *testing.T) {
	// The fee-transaction link promises a kind. A receipt carrying the other
	// side's event must not contribute its fees to this trade.
	rpc := &mockReceipts{
		receipts: map[string]*connectors.Receipt{
			"0xswapped": feeReceipt(`{"name":"fees_processed_close","closing_fee":"300000"}`),
			"0xback":    feeReceipt(`{"name":"fees_processed_open","opening_fee":"500000"}`),
		},
	}

	out := Resolve(context.Background(), rpc, []Request{
		{TradeID: "3", TxHash: "0xswapped", IsOpening: true},
		{TradeID: "4", TxHash: "0xback", IsOpening: false},
	})

	_, ok := out["3"]
	assert.False(t, ok)
	_, ok = out["4"]
	assert.False(t, ok)
}

func TestResolve_BoundedParallelism(t *testing.T) {
	receipts := make(map[string]*connectors.Receipt)
	reqs := make([]Request, 0, 25)
	for i := 0; i < 25; i++ {
		hash := "0x" + strings.Repeat("a", i+1)
		receipts[hash] = feeReceipt(`{"name":"fees_processed_open","opening_fee":"1000"}`)
		reqs = append(reqs, Request{TradeID: hash, TxHash: hash, IsOpening: true})
	}
	rpc := &mockReceipts{receipts: receipts}

	out := Resolve(context.Background(), rpc, reqs)

	assert.Len(t, out, 25)
	assert.Len(t, rpc.calls, 25)
	assert.LessOrEqual(t, rpc.maxSeen, 10)
}
