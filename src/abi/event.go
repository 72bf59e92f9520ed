package abi

// EventName tags the known protocol event payloads. Unknown names decode to
// EventUnknown, which every consumer treats as a no-op.
type EventName string

const (
	EventUnknown EventName = ""

	// Open-side events. All three register a new trade.
	EventTradeRegistered      EventName = "trade_registered"
	EventTradeOpened          EventName = "trade_opened"
	EventLimitOrderRegistered EventName = "limit_order_registered"

	// Close-side events.
	EventTradeClosed       EventName = "trade_closed"
	EventUserCloseOrder    EventName = "user_close_order"
	EventMarketClose       EventName = "market_close"
	EventTradeUnregistered EventName = "trade_unregistered"

	// Fee processing events. A close-side fee event implies the trade closed
	// even when no explicit close event survived.
	EventFeesProcessedOpen  EventName = "fees_processed_open"
	EventFeesProcessedClose EventName = "fees_processed_close"
)

var knownEvents = map[string]EventName{
	string(EventTradeRegistered):      EventTradeRegistered,
	string(EventTradeOpened):          EventTradeOpened,
	string(EventLimitOrderRegistered): EventLimitOrderRegistered,
	string(EventTradeClosed):          EventTradeClosed,
	string(EventUserCloseOrder):       EventUserCloseOrder,
	string(EventMarketClose):          EventMarketClose,
	string(EventTradeUnregistered):    EventTradeUnregistered,
	string(EventFeesProcessedOpen):    EventFeesProcessedOpen,
	string(EventFeesProcessedClose):   EventFeesProcessedClose,
}

// ParseEventName maps a raw payload name to its tag, EventUnknown if the name
// is not one of ours.
func ParseEventName(s string) EventName {
	if n, ok := knownEvents[s]; ok {
		return n
	}
	return EventUnknown
}

// IsOpen reports whether the event registers a trade.
func (n EventName) IsOpen() bool {
	switch n {
	case EventTradeRegistered, EventTradeOpened, EventLimitOrderRegistered:
		return true
	}
	return false
}

// IsClose reports whether the event indicates the trade reached its terminal
// state. fees_processed_close counts: closing fees only ever fire on close.
func (n EventName) IsClose() bool {
	switch n {
	case EventTradeClosed, EventUserCloseOrder, EventMarketClose,
		EventTradeUnregistered, EventFeesProcessedClose:
		return true
	}
	return false
}

// Event is one decoded protocol event. Every field except Name is optional;
// nil means the payload did not carry it (or the fallback extractor could not
// recover it), which is different from zero.
type Event struct {
	Name EventName

	TradeID   string
	PairIndex string
	Action    string
	OrderType string

	ProfitPct  *float64
	Price      *float64
	OpenPrice  *float64
	Leverage   *float64
	Collateral *float64
	Long       *bool

	OpeningFee   *float64
	ClosingFee   *float64
	TriggerFee   *float64
	BorrowingFee *float64
	OracleFee    *float64

	AmountSent     *float64
	AmountReceived *float64
}
