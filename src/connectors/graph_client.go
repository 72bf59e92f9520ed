package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const defaultGraphTimeout = 15 * time.Second

// GraphTrade is the point-in-time view of a trade. Authoritative for open
// trades and for the fields that never change after open. Numerics arrive as
// strings in the indexer's fixed-point representation.
type GraphTrade struct {
	ID               string       `json:"id"`
	Trader           string       `json:"trader"`
	IsOpen           bool         `json:"isOpen"`
	IsLong           bool         `json:"isLong"`
	Leverage         string       `json:"leverage"`
	Collateral       string       `json:"collateral"`
	CollateralSymbol string       `json:"collateralSymbol"`
	EntryPrice       string       `json:"entryPrice"`
	ClosePrice       string       `json:"closePrice"`
	Pnl              string       `json:"pnl"`
	StopLoss         string       `json:"stopLoss"`
	TakeProfit       string       `json:"takeProfit"`
	LiquidationPrice string       `json:"liquidationPrice"`
	Timestamp        string       `json:"timestamp"`
	ClosedAt         string       `json:"closedAt"`
	Market           *GraphMarket `json:"market"`
}

// GraphHistoryEntry is one row of the append-only trade change-log. The only
// surviving record for trades that fully closed and dropped out of the
// point-in-time view.
type GraphHistoryEntry struct {
	ID               string `json:"id"`
	TradeID          string `json:"tradeId"`
	Action           string `json:"action"`
	Pnl              string `json:"pnl"`
	Collateral       string `json:"collateral"`
	CollateralSymbol string `json:"collateralSymbol"`
	// CollateralPrice is the token's USD price snapshot captured when the
	// action was indexed. Needed for closed trades: the live price would
	// misvalue collateral for a token that has since moved.
	CollateralPrice string `json:"collateralPrice"`
	Leverage        string `json:"leverage"`
	EntryPrice      string `json:"entryPrice"`
	ClosePrice      string `json:"closePrice"`
	AmountReceived  string `json:"amountReceived"`
	Timestamp       string `json:"timestamp"`
	MarketID        string `json:"marketId"`
}

type GraphMarket struct {
	ID          string `json:"id"`
	Ticker      string `json:"ticker"`
	OraclePrice string `json:"oraclePrice"`
}

type GraphCollateralToken struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GraphFeeTransaction links a trade to the transaction that processed its
// opening or closing fees. The amounts themselves are not indexed, the fee
// resolver digs them out of the receipt.
type GraphFeeTransaction struct {
	TradeID string `json:"tradeId"`
	TxHash  string `json:"txHash"`
	Kind    string `json:"kind"` // "open" | "close"
}

type GraphVaultAction struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"` // "deposit" | "withdraw"
	Amount    string `json:"amount"`
	Shares    string `json:"shares"`
	Timestamp string `json:"timestamp"`
	Vault     struct {
		ID         string `json:"id"`
		Asset      string `json:"asset"`
		Apr        string `json:"apr"`
		SharePrice string `json:"sharePrice"`
		Tvl        string `json:"tvl"`
	} `json:"vault"`
}

const tradesQuery = `query Trades($trader: String!, $limit: Int!, $offset: Int!) {
  trades(where: {trader: $trader}, first: $limit, skip: $offset, orderBy: timestamp, orderDirection: desc) {
    id trader isOpen isLong leverage collateral collateralSymbol entryPrice closePrice pnl
    stopLoss takeProfit liquidationPrice timestamp closedAt
    market { id ticker oraclePrice }
  }
}`

// tradesQueryReduced omits the market relation, which is null for orphaned or
// deprecated markets and makes the full query fail outright.
const tradesQueryReduced = `query Trades($trader: String!, $limit: Int!, $offset: Int!) {
  trades(where: {trader: $trader}, first: $limit, skip: $offset, orderBy: timestamp, orderDirection: desc) {
    id trader isOpen isLong leverage collateral collateralSymbol entryPrice closePrice pnl
    stopLoss takeProfit liquidationPrice timestamp closedAt
  }
}`

const tradeHistoryQuery = `query TradeHistory($trader: String!, $limit: Int!, $offset: Int!) {
  tradeHistories(where: {trader: $trader}, first: $limit, skip: $offset, orderBy: timestamp, orderDirection: desc) {
    id tradeId action pnl collateral collateralSymbol collateralPrice leverage entryPrice closePrice amountReceived timestamp marketId
  }
}`

const globalTradeHistoryQuery = `query GlobalTradeHistory($limit: Int!, $offset: Int!) {
  tradeHistories(first: $limit, skip: $offset, orderBy: timestamp, orderDirection: asc) {
    id tradeId action collateral leverage timestamp
  }
}`

const marketsQuery = `query Markets {
  markets { id ticker oraclePrice }
  collateralTokens { symbol price }
}`

const feeTransactionsQuery = `query FeeTransactions($trader: String!) {
  feeTransactions(where: {trader: $trader}, first: 1000) {
    tradeId txHash kind
  }
}`

const protocolStatsQuery = `query ProtocolStats {
  protocolStats(id: "1") {
    tvl openInterestLong openInterestShort vaultTvl
  }
}`

const vaultActionsQuery = `query VaultActions($owner: String!) {
  vaultActions(where: {owner: $owner}, first: 1000, orderBy: timestamp, orderDirection: asc) {
    id kind amount shares timestamp
    vault { id asset apr sharePrice tvl }
  }
}`

type graphEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type GraphClient struct {
	http *resty.Client
}

func NewGraphClient(baseURL string) *GraphClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultGraphTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &GraphClient{http: httpClient}
}

// Query posts one GraphQL document and unmarshals the data payload into out.
// GraphQL-level errors surface as a single wrapped error.
func (c *GraphClient) Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	var envelope graphEnvelope

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"query":     query,
			"variables": variables,
		}).
		SetResult(&envelope).
		Post("")
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("graphql non-2xx status: %d", resp.StatusCode())
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("graphql decode data: %w", err)
		}
	}
	return nil
}

// FetchTrades returns the point-in-time trade list. If the full query fails
// (the nested market relation is null for orphaned markets) it degrades to
// the reduced query instead of failing the request.
func (c *GraphClient) FetchTrades(ctx context.Context, traderBech32 string, limit, offset int) ([]GraphTrade, error) {
	vars := map[string]interface{}{
		"trader": traderBech32,
		"limit":  limit,
		"offset": offset,
	}
	var out struct {
		Trades []GraphTrade `json:"trades"`
	}
	if err := c.Query(ctx, tradesQuery, vars, &out); err != nil {
		logger.WithError(err).Warn("full trades query failed, retrying without market relation")
		if err := c.Query(ctx, tradesQueryReduced, vars, &out); err != nil {
			return nil, err
		}
	}
	return out.Trades, nil
}

func (c *GraphClient) FetchTradeHistory(ctx context.Context, traderBech32 string, limit, offset int) ([]GraphHistoryEntry, error) {
	var out struct {
		TradeHistories []GraphHistoryEntry `json:"tradeHistories"`
	}
	err := c.Query(ctx, tradeHistoryQuery, map[string]interface{}{
		"trader": traderBech32,
		"limit":  limit,
		"offset": offset,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.TradeHistories, nil
}

// FetchGlobalTradeHistory pages the all-trader change-log. Input for the
// protocol-wide volume aggregate only.
func (c *GraphClient) FetchGlobalTradeHistory(ctx context.Context, limit, offset int) ([]GraphHistoryEntry, error) {
	var out struct {
		TradeHistories []GraphHistoryEntry `json:"tradeHistories"`
	}
	err := c.Query(ctx, globalTradeHistoryQuery, map[string]interface{}{
		"limit":  limit,
		"offset": offset,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.TradeHistories, nil
}

// FetchMarkets returns the market metadata snapshot and collateral token
// prices used for USD conversion and pair inference.
func (c *GraphClient) FetchMarkets(ctx context.Context) ([]GraphMarket, []GraphCollateralToken, error) {
	var out struct {
		Markets          []GraphMarket          `json:"markets"`
		CollateralTokens []GraphCollateralToken `json:"collateralTokens"`
	}
	if err := c.Query(ctx, marketsQuery, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Markets, out.CollateralTokens, nil
}

func (c *GraphClient) FetchFeeTransactions(ctx context.Context, traderBech32 string) ([]GraphFeeTransaction, error) {
	var out struct {
		FeeTransactions []GraphFeeTransaction `json:"feeTransactions"`
	}
	err := c.Query(ctx, feeTransactionsQuery, map[string]interface{}{"trader": traderBech32}, &out)
	if err != nil {
		return nil, err
	}
	return out.FeeTransactions, nil
}

// GraphProtocolStats is the indexer's running protocol-wide aggregate.
type GraphProtocolStats struct {
	Tvl               string `json:"tvl"`
	OpenInterestLong  string `json:"openInterestLong"`
	OpenInterestShort string `json:"openInterestShort"`
	VaultTvl          string `json:"vaultTvl"`
}

func (c *GraphClient) FetchProtocolStats(ctx context.Context) (*GraphProtocolStats, error) {
	var out struct {
		ProtocolStats *GraphProtocolStats `json:"protocolStats"`
	}
	if err := c.Query(ctx, protocolStatsQuery, nil, &out); err != nil {
		return nil, err
	}
	if out.ProtocolStats == nil {
		return nil, fmt.Errorf("protocol stats missing from response")
	}
	return out.ProtocolStats, nil
}

func (c *GraphClient) FetchVaultActions(ctx context.Context, ownerBech32 string) ([]GraphVaultAction, error) {
	var out struct {
		VaultActions []GraphVaultAction `json:"vaultActions"`
	}
	err := c.Query(ctx, vaultActionsQuery, map[string]interface{}{"owner": ownerBech32}, &out)
	if err != nil {
		return nil, err
	}
	return out.VaultActions, nil
}
