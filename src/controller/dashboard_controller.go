// Package controller orchestrates one request's fan-out: structured queries,
// log scan, fee resolution, reconciliation and aggregation.
package controller

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"pnldash/src/bech32util"
	"pnldash/src/connectors"
	"pnldash/src/fees"
	"pnldash/src/model"
	"pnldash/src/pricing"
	"pnldash/src/recon"
	"pnldash/src/scanner"
	"pnldash/src/stats"
	"pnldash/src/vault"
)

// ErrAllSourcesFailed is the only request-level failure: every upstream
// source failed, so there is nothing to reconcile. Finer-grained degradation
// is absorbed into the response as partial data.
var ErrAllSourcesFailed = errors.New("all upstream sources failed")

type graphSource interface {
	FetchTrades(ctx context.Context, traderBech32 string, limit, offset int) ([]connectors.GraphTrade, error)
	FetchTradeHistory(ctx context.Context, traderBech32 string, limit, offset int) ([]connectors.GraphHistoryEntry, error)
	FetchGlobalTradeHistory(ctx context.Context, limit, offset int) ([]connectors.GraphHistoryEntry, error)
	FetchMarkets(ctx context.Context) ([]connectors.GraphMarket, []connectors.GraphCollateralToken, error)
	FetchFeeTransactions(ctx context.Context, traderBech32 string) ([]connectors.GraphFeeTransaction, error)
	FetchVaultActions(ctx context.Context, ownerBech32 string) ([]connectors.GraphVaultAction, error)
	FetchProtocolStats(ctx context.Context) (*connectors.GraphProtocolStats, error)
}

type rpcSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, from, to uint64, address string, topics []string) ([]connectors.LogEntry, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*connectors.Receipt, error)
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Constructor indirection so tests can swap in fakes.
var (
	newGraphSource = func(url string) graphSource { return connectors.NewGraphClient(url) }
	newRPCSource   = func(url string) rpcSource { return connectors.NewRPCClient(url) }
)

type Dashboard struct {
	cfg       Config
	endpoints connectors.Config
	pricing   pricing.Config
	volumes   *stats.VolumeCache
}

func NewDashboard(cfg Config, endpoints connectors.Config, pricingCfg pricing.Config) *Dashboard {
	d := &Dashboard{cfg: cfg, endpoints: endpoints, pricing: pricingCfg}
	d.volumes = stats.NewVolumeCache(
		[]string{connectors.NetworkMainnet, connectors.NetworkTestnet},
		d.computeGlobalVolume,
	)
	return d
}

// VolumeCache exposes the cache so the server can start its refresh loop.
func (d *Dashboard) VolumeCache() *stats.VolumeCache {
	return d.volumes
}

func (d *Dashboard) clampLimit(limit int) int {
	if limit <= 0 {
		return d.cfg.DefaultLimit
	}
	if limit > d.cfg.MaxLimit {
		return d.cfg.MaxLimit
	}
	return limit
}

// Trades reconstructs the trader's full trade history for one network.
func (d *Dashboard) Trades(ctx context.Context, network, address string, limit, offset int) (*model.TradesResponse, error) {
	ep, err := d.endpoints.Endpoints(network)
	if err != nil {
		return nil, err
	}
	traderBech32, err := bech32util.ToBech32(address)
	if err != nil {
		return nil, err
	}
	limit = d.clampLimit(limit)

	graph := newGraphSource(ep.GraphURL)
	rpc := newRPCSource(ep.RPCURL)

	var (
		wg         sync.WaitGroup
		trades     []connectors.GraphTrade
		history    []connectors.GraphHistoryEntry
		markets    []connectors.GraphMarket
		tokens     []connectors.GraphCollateralToken
		feeTxs     []connectors.GraphFeeTransaction
		candidates []scanner.TxCandidate

		tradesErr, historyErr, scanErr error
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		trades, tradesErr = graph.FetchTrades(ctx, traderBech32, limit, offset)
		if tradesErr != nil {
			logger.WithError(tradesErr).Warn("trades query failed")
		}
	}()
	go func() {
		defer wg.Done()
		history, historyErr = graph.FetchTradeHistory(ctx, traderBech32, limit, offset)
		if historyErr != nil {
			logger.WithError(historyErr).Warn("trade history query failed")
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		markets, tokens, err = graph.FetchMarkets(ctx)
		if err != nil {
			logger.WithError(err).Warn("markets query failed, pair inference degraded")
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		feeTxs, err = graph.FetchFeeTransactions(ctx, traderBech32)
		if err != nil {
			logger.WithError(err).Warn("fee transactions query failed, fees will be unknown")
		}
	}()
	go func() {
		defer wg.Done()
		candidates, scanErr = d.scan(ctx, rpc, address)
		if scanErr != nil {
			logger.WithError(scanErr).Warn("log scan failed")
		}
	}()
	wg.Wait()

	if tradesErr != nil && historyErr != nil && scanErr != nil {
		return nil, ErrAllSourcesFailed
	}

	feeReqs := make([]fees.Request, 0, len(feeTxs))
	for _, ft := range feeTxs {
		feeReqs = append(feeReqs, fees.Request{
			TradeID:   ft.TradeID,
			TxHash:    ft.TxHash,
			IsOpening: ft.Kind == "open",
		})
	}
	feeMap := fees.Resolve(ctx, rpc, feeReqs)

	norm := d.normalizer(markets, tokens)
	engine := recon.NewEngine(norm)
	reconciled := engine.Reconcile(recon.Inputs{
		Trades:     trades,
		History:    history,
		Candidates: candidates,
		Fees:       feeMap,
	})

	summary := stats.Compute(reconciled)
	resp := &model.TradesResponse{
		Address:     address,
		Trades:      reconciled,
		TotalPnl:    summary.TotalPnlUsd,
		TotalPnlPct: summary.TotalPnlPct,
		WinRate:     summary.WinRate,
		TotalTrades: summary.TotalTrades,
		Explorer:    ep.ExplorerURL,
	}
	return resp, nil
}

// Positions projects the trader's currently-open trades.
func (d *Dashboard) Positions(ctx context.Context, network, address string) (*model.PositionsResponse, error) {
	ep, err := d.endpoints.Endpoints(network)
	if err != nil {
		return nil, err
	}
	traderBech32, err := bech32util.ToBech32(address)
	if err != nil {
		return nil, err
	}

	graph := newGraphSource(ep.GraphURL)

	trades, err := graph.FetchTrades(ctx, traderBech32, d.cfg.MaxLimit, 0)
	if err != nil {
		return nil, ErrAllSourcesFailed
	}
	markets, tokens, err := graph.FetchMarkets(ctx)
	if err != nil {
		logger.WithError(err).Warn("markets query failed, pair inference degraded")
	}

	engine := recon.NewEngine(d.normalizer(markets, tokens))
	positions := engine.OpenPositions(trades)

	total := 0.0
	for _, p := range positions {
		if p.UnrealizedPnl != nil {
			total += *p.UnrealizedPnl
		}
	}
	return &model.PositionsResponse{
		Address:            address,
		Positions:          positions,
		TotalPositions:     len(positions),
		TotalUnrealizedPnl: total,
	}, nil
}

// VaultPositions reconstructs the trader's liquidity-deposit positions.
func (d *Dashboard) VaultPositions(ctx context.Context, network, address string) (*model.VaultPositionsResponse, error) {
	ep, err := d.endpoints.Endpoints(network)
	if err != nil {
		return nil, err
	}
	ownerBech32, err := bech32util.ToBech32(address)
	if err != nil {
		return nil, err
	}

	graph := newGraphSource(ep.GraphURL)
	actions, err := graph.FetchVaultActions(ctx, ownerBech32)
	if err != nil {
		return nil, ErrAllSourcesFailed
	}

	positions := vault.BuildPositions(actions, time.Now().UTC())
	deposited, current, earnings := vault.Totals(positions)
	return &model.VaultPositionsResponse{
		Address:           address,
		Positions:         positions,
		TotalDeposited:    deposited,
		TotalCurrentValue: current,
		TotalEarnings:     earnings,
	}, nil
}

// Stats serves the protocol-wide aggregates, with the volume figure coming
// from the long-interval cache rather than a per-request recomputation.
func (d *Dashboard) Stats(ctx context.Context, network string) (*model.StatsResponse, error) {
	ep, err := d.endpoints.Endpoints(network)
	if err != nil {
		return nil, err
	}

	graph := newGraphSource(ep.GraphURL)
	ps, err := graph.FetchProtocolStats(ctx)
	if err != nil {
		return nil, ErrAllSourcesFailed
	}

	resp := &model.StatsResponse{Network: network}
	if v := pricing.FromFixedPointString(ps.Tvl); v != nil {
		resp.TvlUsd = *v
	}
	long := pricing.FromFixedPointString(ps.OpenInterestLong)
	short := pricing.FromFixedPointString(ps.OpenInterestShort)
	if long != nil {
		resp.OpenInterestUsd += *long
	}
	if short != nil {
		resp.OpenInterestUsd += *short
	}
	if v := pricing.FromFixedPointString(ps.VaultTvl); v != nil {
		resp.VaultTvlUsd = *v
	}

	if entry, ok := d.volumes.Get(network); ok {
		resp.TotalVolumeUsd = entry.VolumeUsd
		resp.VolumeUpdatedAt = entry.LastRefreshed.Format(time.RFC3339)
	}
	return resp, nil
}

// Scan runs the log-scan adapter alone, over blocks back from the chain
// head. Debug tooling for the scan subcommand.
func (d *Dashboard) Scan(ctx context.Context, network, address string, blocks uint64) ([]scanner.TxCandidate, error) {
	ep, err := d.endpoints.Endpoints(network)
	if err != nil {
		return nil, err
	}
	rpc := newRPCSource(ep.RPCURL)
	head, err := rpc.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if blocks == 0 {
		blocks = d.cfg.ScanBlockRange
	}
	from := uint64(0)
	if head > blocks {
		from = head - blocks
	}
	return scanner.ScanForTrader(ctx, rpc, d.cfg.ContractAddress, address, from, head)
}

// scan runs the log-scan adapter over the configured window back from the
// chain head.
func (d *Dashboard) scan(ctx context.Context, rpc rpcSource, traderHex string) ([]scanner.TxCandidate, error) {
	head, err := rpc.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	from := uint64(0)
	if head > d.cfg.ScanBlockRange {
		from = head - d.cfg.ScanBlockRange
	}
	return scanner.ScanForTrader(ctx, rpc, d.cfg.ContractAddress, traderHex, from, head)
}

func (d *Dashboard) normalizer(markets []connectors.GraphMarket, tokens []connectors.GraphCollateralToken) *pricing.Normalizer {
	infos := make([]model.MarketInfo, 0, len(markets))
	for _, m := range markets {
		price := pricing.FromFixedPointString(m.OraclePrice)
		if m.Ticker == "" || price == nil {
			continue
		}
		infos = append(infos, model.MarketInfo{Symbol: m.Ticker, OraclePrice: *price})
	}
	prices := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		if p := pricing.FromFixedPointString(t.Price); p != nil {
			prices[t.Symbol] = *p
		}
	}
	return pricing.NewNormalizer(infos, prices, d.pricing)
}

// computeGlobalVolume pages the all-trader change-log and sums notional
// volume. Expensive, only ever called through the volume cache.
func (d *Dashboard) computeGlobalVolume(ctx context.Context, network string) (float64, error) {
	ep, err := d.endpoints.Endpoints(network)
	if err != nil {
		return 0, err
	}
	graph := newGraphSource(ep.GraphURL)

	statsCfg := stats.GetConfig()
	pageSize := statsCfg.GlobalHistoryPageSize

	total := 0.0
	for offset := 0; ; offset += pageSize {
		page, err := graph.FetchGlobalTradeHistory(ctx, pageSize, offset)
		if err != nil {
			return 0, err
		}
		for i := range page {
			collateral := pricing.FromFixedPointString(page[i].Collateral)
			if collateral == nil {
				continue
			}
			leverage := 1.0
			if lev, err := strconv.ParseFloat(page[i].Leverage, 64); err == nil && lev > 0 {
				leverage = lev
			}
			total += *collateral * leverage
		}
		if len(page) < pageSize {
			break
		}
	}
	return total, nil
}
