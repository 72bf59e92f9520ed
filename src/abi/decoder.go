// Decoder for the protocol's event payloads: JSON text wrapped in an ABI
// byte-string encoding, frequently with leading/trailing garbage and
// occasionally truncated mid-document.
package abi

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// logDataHeaderHex is the fixed receipt-log header (in hex chars) that sits in
// front of the event content inside a log's data field.
const logDataHeaderHex = 128

// Decode turns a raw ABI-encoded hex string into an Event. It never fails
// loudly: unrecoverable input yields nil and the caller skips the log entry.
func Decode(rawHex string) *Event {
	text := decodeByteString(rawHex)
	if text == "" {
		return nil
	}
	return decodeText(text)
}

// DecodeLogData decodes the event content of a transaction-receipt log, which
// carries the ABI byte string after a fixed-size header.
func DecodeLogData(data string) *Event {
	data = strings.TrimPrefix(data, "0x")
	if len(data) > logDataHeaderHex {
		if ev := Decode(data[logDataHeaderHex:]); ev != nil {
			return ev
		}
	}
	return Decode(data)
}

// PayloadText exposes the decoded UTF-8 text of a payload without parsing it.
// The log-scan adapter uses it for cheap substring filtering before paying for
// receipt fetches.
func PayloadText(rawHex string) string {
	return decodeByteString(rawHex)
}

// decodeByteString unwraps the ABI head (offset word, length word) and returns
// the UTF-8 payload. Malformed heads fall back to the whole decoded buffer.
func decodeByteString(rawHex string) string {
	s := strings.TrimPrefix(strings.TrimSpace(rawHex), "0x")
	if len(s)%2 != 0 {
		s = s[:len(s)-1]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		// Garbage tail. Decode the longest clean prefix instead.
		end := strings.IndexFunc(s, func(r rune) bool {
			return !strings.ContainsRune("0123456789abcdefABCDEF", r)
		})
		if end <= 0 {
			return ""
		}
		b, err = hex.DecodeString(s[:end-end%2])
		if err != nil {
			return ""
		}
	}
	if len(b) == 0 {
		return ""
	}
	if len(b) > 64 {
		// Word 2 is the byte-string length. Trust it only when plausible.
		strLen := binary.BigEndian.Uint64(b[56:64])
		payload := b[64:]
		if strLen > 0 && strLen <= uint64(len(payload)) {
			return string(payload[:strLen])
		}
	}
	return string(b)
}

func decodeText(text string) *Event {
	if span := balancedJSONSpan(text); span != "" {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(span), &raw); err == nil {
			return eventFromMap(raw)
		}
	}
	return extractFields(text)
}

// balancedJSONSpan returns the first balanced {...} span in text, tracking
// brace depth and string literals so nested objects and braces inside quoted
// values do not cut the span short. Empty string when no balanced span exists.
func balancedJSONSpan(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func eventFromMap(raw map[string]interface{}) *Event {
	ev := &Event{}
	if name, ok := raw["name"].(string); ok {
		ev.Name = ParseEventName(name)
	}
	ev.TradeID = stringField(raw, "trade_id", "tradeId", "id")
	ev.PairIndex = stringField(raw, "pair_index", "pairIndex")
	ev.Action = stringField(raw, "action")
	ev.OrderType = stringField(raw, "order_type", "orderType")

	ev.ProfitPct = floatField(raw, "profit_p", "profit_pct")
	ev.Price = floatField(raw, "price")
	ev.OpenPrice = floatField(raw, "open_price", "openPrice")
	ev.Leverage = floatField(raw, "leverage")
	ev.Collateral = floatField(raw, "collateral")
	ev.Long = boolField(raw, "long", "buy")

	ev.OpeningFee = floatField(raw, "opening_fee")
	ev.ClosingFee = floatField(raw, "closing_fee")
	ev.TriggerFee = floatField(raw, "trigger_fee")
	ev.BorrowingFee = floatField(raw, "rollover_fees", "borrowing_fee")
	ev.OracleFee = floatField(raw, "oracle_fee")

	ev.AmountSent = floatField(raw, "amount_sent")
	ev.AmountReceived = floatField(raw, "amount_received")
	return ev
}

func stringField(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// floatField tolerates both quoted and bare numbers, the payload is not
// consistent about which it emits.
func floatField(raw map[string]interface{}, keys ...string) *float64 {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			f := v
			return &f
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func boolField(raw map[string]interface{}, keys ...string) *bool {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case bool:
			b := v
			return &b
		case string:
			if v == "true" || v == "false" {
				b := v == "true"
				return &b
			}
		}
	}
	return nil
}

// Fallback extraction for payloads that fail strict parsing (truncated JSON
// happens in this protocol's logs). Deliberately narrower than the strict
// path: only the keys below are recovered.
var (
	reName      = regexp.MustCompile(`"name"\s*:\s*"([^"]*)"`)
	reAction    = regexp.MustCompile(`"action"\s*:\s*"([^"]*)"`)
	reOrderType = regexp.MustCompile(`"order_?[tT]ype"\s*:\s*"([^"]*)"`)
	reTradeID   = regexp.MustCompile(`"trade_?[iI]d"\s*:\s*"?(\d+)"?`)
	rePairIdx   = regexp.MustCompile(`"pair_?[iI]ndex"\s*:\s*"?(\d+)"?`)
	reLong      = regexp.MustCompile(`"(?:long|buy)"\s*:\s*"?(true|false)"?`)

	reNumField = map[string]*regexp.Regexp{
		"profit_p":        numRe(`profit_p(?:ct)?`),
		"price":           numRe(`price`),
		"open_price":      numRe(`open_price`),
		"leverage":        numRe(`leverage`),
		"collateral":      numRe(`collateral`),
		"opening_fee":     numRe(`opening_fee`),
		"closing_fee":     numRe(`closing_fee`),
		"trigger_fee":     numRe(`trigger_fee`),
		"rollover_fees":   numRe(`rollover_fees`),
		"oracle_fee":      numRe(`oracle_fee`),
		"amount_sent":     numRe(`amount_sent`),
		"amount_received": numRe(`amount_received`),
	}
)

func numRe(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + key + `"\s*:\s*"?(-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)"?`)
}

func extractFields(text string) *Event {
	ev := &Event{}
	found := false

	if m := reName.FindStringSubmatch(text); m != nil {
		ev.Name = ParseEventName(m[1])
		found = true
	}
	if m := reAction.FindStringSubmatch(text); m != nil {
		ev.Action = m[1]
		found = true
	}
	if m := reOrderType.FindStringSubmatch(text); m != nil {
		ev.OrderType = m[1]
		found = true
	}
	if m := reTradeID.FindStringSubmatch(text); m != nil {
		ev.TradeID = m[1]
		found = true
	}
	if m := rePairIdx.FindStringSubmatch(text); m != nil {
		ev.PairIndex = m[1]
		found = true
	}
	if m := reLong.FindStringSubmatch(text); m != nil {
		b := m[1] == "true"
		ev.Long = &b
		found = true
	}

	num := func(key string) *float64 {
		m := reNumField[key].FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		found = true
		return &f
	}
	ev.ProfitPct = num("profit_p")
	ev.Price = num("price")
	ev.OpenPrice = num("open_price")
	ev.Leverage = num("leverage")
	ev.Collateral = num("collateral")
	ev.OpeningFee = num("opening_fee")
	ev.ClosingFee = num("closing_fee")
	ev.TriggerFee = num("trigger_fee")
	ev.BorrowingFee = num("rollover_fees")
	ev.OracleFee = num("oracle_fee")
	ev.AmountSent = num("amount_sent")
	ev.AmountReceived = num("amount_received")

	if !found {
		return nil
	}
	return ev
}
