// JSON-RPC CLIENT FOR THE CHAIN'S EVM ENDPOINT
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 4 * time.Second
	defaultRPCTimeout      = 15 * time.Second
)

// ErrNotFound marks data the upstream no longer has (pruned receipts, missing
// blocks). Distinct from transport errors: retrying is useless and the caller
// degrades to "unknown" instead of logging a failure.
var ErrNotFound = errors.New("not found")

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// LogEntry is one EVM event log as returned by eth_getLogs and inside
// receipts.
type LogEntry struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	TxHash      string   `json:"transactionHash"`
	BlockNumber string   `json:"blockNumber"`
	LogIndex    string   `json:"logIndex"`
}

// Receipt is the subset of eth_getTransactionReceipt this service reads.
type Receipt struct {
	TxHash      string     `json:"transactionHash"`
	BlockNumber string     `json:"blockNumber"`
	Status      string     `json:"status"`
	Logs        []LogEntry `json:"logs"`
}

type RPCClient struct {
	http *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return (code >= 500 && code <= 599) || code == 429 || code == 408
}

func NewRPCClient(baseURL string) *RPCClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultRPCTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RPCClient{http: httpClient}
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var envelope rpcEnvelope

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  method,
			"params":  params,
			"id":      1,
		}).
		SetResult(&envelope).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("%s non-2xx status: %d", method, resp.StatusCode())
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("%s rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// BlockNumber returns the current chain head height.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}
	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, fmt.Errorf("parse block number: %w", err)
	}
	return HexToUint64(hexNum), nil
}

// GetLogs fetches event logs for the contract in [from, to]. The upstream
// enforces a hard block-span cap per request, chunking is the caller's job.
func (c *RPCClient) GetLogs(ctx context.Context, from, to uint64, address string, topics []string) ([]LogEntry, error) {
	filter := map[string]interface{}{
		"fromBlock": Uint64ToHex(from),
		"toBlock":   Uint64ToHex(to),
	}
	if address != "" {
		filter["address"] = address
	}
	if len(topics) > 0 {
		filter["topics"] = topics
	}

	result, err := c.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, err
	}
	var logs []LogEntry
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("parse logs: %w", err)
	}
	return logs, nil
}

// GetTransactionReceipt fetches a full receipt. A null result with no RPC
// error means the node pruned it: that comes back as ErrNotFound.
func (c *RPCClient) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	result, err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, ErrNotFound
	}
	var receipt Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, fmt.Errorf("parse receipt: %w", err)
	}
	return &receipt, nil
}

// GetBlockTimestamp resolves a block number to its timestamp.
func (c *RPCClient) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []interface{}{Uint64ToHex(blockNumber), false})
	if err != nil {
		return time.Time{}, err
	}
	if len(result) == 0 || string(result) == "null" {
		return time.Time{}, ErrNotFound
	}
	var block struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return time.Time{}, fmt.Errorf("parse block: %w", err)
	}
	ts := HexToUint64(block.Timestamp)
	return time.Unix(int64(ts), 0).UTC(), nil
}

// HexToUint64 parses a 0x-prefixed quantity, 0 on garbage. Upstream quantity
// fields are well-formed in practice and 0 reads as "unknown height".
func HexToUint64(s string) uint64 {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		logger.WithField("value", s).Debug("unparseable hex quantity")
		return 0
	}
	return v
}

func Uint64ToHex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
