// Package scanner is the log-scan adapter: it reconstructs a trader's
// protocol activity straight from block logs, without the structured indexer.
package scanner

import (
	"context"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"pnldash/src/abi"
	"pnldash/src/connectors"
)

// chunkSize keeps each eth_getLogs span under the upstream's 10,000-block
// hard limit.
const chunkSize = 9000

// TxCandidate is one transaction whose logs mention the trader. Events holds
// every decodable event in the transaction, not just the matching log: a
// single economic trade emits multiple sub-events across one transaction.
type TxCandidate struct {
	TxHash      string
	BlockNumber uint64
	Timestamp   time.Time
	Events      []*abi.Event
}

type logSource interface {
	GetLogs(ctx context.Context, from, to uint64, address string, topics []string) ([]connectors.LogEntry, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*connectors.Receipt, error)
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// ScanForTrader walks [fromBlock, toBlock] in bounded chunks, filters logs by
// decoded-payload substring match against the trader address, then re-fetches
// the full receipt for every matching transaction. Best effort: failed chunks
// and receipts are logged and skipped, a partial result is still returned.
func ScanForTrader(ctx context.Context, rpc logSource, contract, traderHex string, fromBlock, toBlock uint64) ([]TxCandidate, error) {
	needle := strings.ToLower(strings.TrimPrefix(traderHex, "0x"))

	seen := make(map[string]bool)
	var txHashes []string
	txBlocks := make(map[string]uint64)

	for start := fromBlock; start <= toBlock; start += chunkSize {
		end := start + chunkSize - 1
		if end > toBlock {
			end = toBlock
		}

		logs, err := rpc.GetLogs(ctx, start, end, contract, nil)
		if err != nil {
			logger.WithError(err).WithFields(logger.Fields{
				"from": start,
				"to":   end,
			}).Warn("log chunk failed, skipping")
			continue
		}

		for _, entry := range logs {
			text := strings.ToLower(abi.PayloadText(entry.Data))
			// The payload encodes addresses inconsistently, sometimes with
			// the 0x prefix and sometimes without; the bare form matches both.
			if !strings.Contains(text, needle) {
				continue
			}
			if seen[entry.TxHash] {
				continue
			}
			seen[entry.TxHash] = true
			txHashes = append(txHashes, entry.TxHash)
			txBlocks[entry.TxHash] = connectors.HexToUint64(entry.BlockNumber)
		}
	}

	// The substring match only proves that SOME log in the transaction
	// mentions the trader. Decode every log of each matching transaction.
	blockTimes := make(map[uint64]time.Time)
	var candidates []TxCandidate
	for _, txHash := range txHashes {
		receipt, err := rpc.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			logger.WithError(err).WithField("tx", txHash).Warn("receipt fetch failed, skipping")
			continue
		}

		var events []*abi.Event
		for _, entry := range receipt.Logs {
			if ev := abi.DecodeLogData(entry.Data); ev != nil {
				events = append(events, ev)
			}
		}
		if len(events) == 0 {
			continue
		}

		blockNum := txBlocks[txHash]
		if blockNum == 0 {
			blockNum = connectors.HexToUint64(receipt.BlockNumber)
		}
		ts, ok := blockTimes[blockNum]
		if !ok {
			ts, err = rpc.GetBlockTimestamp(ctx, blockNum)
			if err != nil {
				logger.WithError(err).WithField("block", blockNum).Debug("block timestamp lookup failed")
				ts = time.Time{}
			}
			blockTimes[blockNum] = ts
		}

		candidates = append(candidates, TxCandidate{
			TxHash:      txHash,
			BlockNumber: blockNum,
			Timestamp:   ts,
			Events:      events,
		})
	}

	return candidates, nil
}
