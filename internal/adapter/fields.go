package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edison-alpha/backendmome/internal/types"
)

// amountScale is the number of decimal places in one on-chain subunit
const amountScale = 8

// fieldTable lists the accepted spellings of each logical field of one
// event kind. The first present alias wins.
type fieldTable struct {
	raffleID    []string
	actor       []string
	ticketCount []string
	amount      []string
	timestamp   []string
}

var (
	raffleIDAliases  = []string{"raffle_id", "raffleId"}
	timestampAliases = []string{"timestamp", "created_at", "createdAt", "purchased_at", "purchasedAt"}
)

var kindFields = map[types.ActivityKind]fieldTable{
	types.KindTicketPurchase: {
		raffleID:    raffleIDAliases,
		actor:       []string{"buyer", "buyer_address", "buyerAddress"},
		ticketCount: []string{"ticket_count", "ticketCount", "num_tickets", "numTickets", "quantity"},
		amount:      []string{"amount_paid", "amountPaid", "total_cost", "totalCost"},
		timestamp:   timestampAliases,
	},
	types.KindRaffleCreated: {
		raffleID:  raffleIDAliases,
		actor:     []string{"creator", "creator_address", "creatorAddress"},
		amount:    []string{"prize_amount", "prizeAmount"},
		timestamp: timestampAliases,
	},
	types.KindRaffleFinalized: {
		raffleID:  raffleIDAliases,
		actor:     []string{"winner", "winner_address", "winnerAddress"},
		amount:    []string{"prize_amount", "prizeAmount", "prize"},
		timestamp: timestampAliases,
	},
}

// typeSuffixes maps the trailing struct name of an event type tag to a kind
var typeSuffixes = map[string]types.ActivityKind{
	"TicketPurchase":   types.KindTicketPurchase,
	"TicketPurchased":  types.KindTicketPurchase,
	"TicketsPurchased": types.KindTicketPurchase,
	"RaffleCreated":    types.KindRaffleCreated,
	"RaffleFinalized":  types.KindRaffleFinalized,
	"WinnerSelected":   types.KindRaffleFinalized,
	"WinnerDrawn":      types.KindRaffleFinalized,
}

var (
	errMissingType    = errors.New("missing type tag")
	errUnknownType    = errors.New("unknown event type")
	errBadPayload     = errors.New("payload is not a JSON object")
	errMissingVersion = errors.New("missing or invalid transaction version")
)

// dropReason is the metric label for a parse error
func dropReason(err error) string {
	switch {
	case errors.Is(err, errMissingType):
		return "missing_type"
	case errors.Is(err, errUnknownType):
		return "unknown_type"
	case errors.Is(err, errBadPayload):
		return "bad_payload"
	case errors.Is(err, errMissingVersion):
		return "missing_version"
	default:
		return "other"
	}
}

// classify resolves a type tag such as "0xabc::raffle::TicketPurchaseEvent"
func classify(typeTag string) (types.ActivityKind, error) {
	typeTag = strings.TrimSpace(typeTag)
	if typeTag == "" {
		return "", errMissingType
	}
	name := typeTag
	// type arguments carry their own "::" paths
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	name = strings.TrimSuffix(name, "Event")

	kind, ok := typeSuffixes[name]
	if !ok {
		return "", errUnknownType
	}
	return kind, nil
}

// ParseEvent normalizes one raw event. now stands in for a missing timestamp.
func ParseEvent(raw RawEvent, now time.Time) (types.ActivityRecord, error) {
	kind, err := classify(raw.Type)
	if err != nil {
		return types.ActivityRecord{}, err
	}

	version, ok := parseUint(raw.Version)
	if !ok || version == 0 {
		return types.ActivityRecord{}, errMissingVersion
	}

	payload, err := decodePayload(raw.Data)
	if err != nil {
		return types.ActivityRecord{}, err
	}

	table := kindFields[kind]
	record := types.ActivityRecord{
		Kind:          kind,
		SourceVersion: version,
		EventType:     raw.Type,
		Timestamp:     now.UTC(),
	}

	if height, ok := parseInt(raw.BlockHeight); ok {
		record.BlockHeight = height
	}
	if id, ok := parseInt(lookup(payload, table.raffleID)); ok {
		record.RaffleID = id
	}
	if ts, ok := parseTimestamp(lookup(payload, table.timestamp)); ok {
		record.Timestamp = ts
	}

	actor := normalizeAddress(parseString(lookup(payload, table.actor)))
	switch kind {
	case types.KindTicketPurchase:
		record.Buyer = actor
		if count, ok := parseInt(lookup(payload, table.ticketCount)); ok {
			record.TicketCount = &count
		}
		record.AmountPaid = parseAmount(lookup(payload, table.amount))
	case types.KindRaffleCreated:
		record.Creator = actor
		record.PrizeAmount = parseAmount(lookup(payload, table.amount))
	case types.KindRaffleFinalized:
		record.Winner = actor
		record.PrizeAmount = parseAmount(lookup(payload, table.amount))
	}

	return record, nil
}

// decodePayload accepts a JSON object or a JSON string holding one
func decodePayload(data json.RawMessage) (map[string]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, errBadPayload
		}
		data = []byte(inner)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return nil, errBadPayload
	}
	return payload, nil
}

func lookup(payload map[string]json.RawMessage, aliases []string) json.RawMessage {
	for _, name := range aliases {
		if v, ok := payload[name]; ok && !isNull(v) {
			return v
		}
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// scalarText returns the text of a JSON string or number
func scalarText(v json.RawMessage) (string, bool) {
	if isNull(v) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func parseString(v json.RawMessage) string {
	s, _ := scalarText(v)
	return s
}

func parseDecimal(v json.RawMessage) (decimal.Decimal, bool) {
	text, ok := scalarText(v)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseInt(v json.RawMessage) (int64, bool) {
	d, ok := parseDecimal(v)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

func parseUint(v json.RawMessage) (uint64, bool) {
	text, ok := scalarText(v)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(text, 10, 64)
	return n, err == nil
}

// parseAmount converts an integer subunit amount to units. Whole subunits
// convert exactly; a fractional input is rounded to the nearest subunit first.
func parseAmount(v json.RawMessage) decimal.NullDecimal {
	d, ok := parseDecimal(v)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(ScaleAmount(d))
}

// ScaleAmount divides a subunit amount by 10^8
func ScaleAmount(subunits decimal.Decimal) decimal.Decimal {
	return subunits.Round(0).Shift(-amountScale)
}

// parseTimestamp accepts RFC 3339 strings and unix seconds, milliseconds or
// microseconds.
func parseTimestamp(v json.RawMessage) (time.Time, bool) {
	text, ok := scalarText(v)
	if !ok {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return ts.UTC(), true
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	switch {
	case n >= 1e14:
		return time.UnixMicro(n).UTC(), true
	case n >= 1e11:
		return time.UnixMilli(n).UTC(), true
	default:
		return time.Unix(n, 0).UTC(), true
	}
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
