package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindCreation
	EventKindPurchase
	EventKindBookmark
)

func (k EventKind) String() string {
	switch k {
	case EventKindCreation:
		return "creation"
	case EventKindPurchase:
		return "purchase"
	case EventKindBookmark:
		return "bookmark"
	default:
		return "unknown"
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) EventKind {
	switch s {
	case "creation":
		return EventKindCreation
	case "purchase":
		return EventKindPurchase
	case "bookmark":
		return EventKindBookmark
	default:
		return EventKindUnknown
	}
}

// Payload keys carried by raw events.
const (
	PayloadTokenURI   = "tokenURI"
	PayloadPrice      = "price"
	PayloadAmount     = "amount"
	PayloadDate       = "date"
	PayloadBookmarked = "bookmarked"
)

// RawEvent is one decoded entry of the append-only event log.
type RawEvent struct {
	Kind      EventKind      `json:"kind"`
	SubjectID int64          `json:"subjectId"`
	Actor     common.Address `json:"actor"`
	Payload   map[string]any `json:"payload"`
	LogIndex  int64          `json:"logIndex"`
}

// LogPosition packs a block number and the index of a log inside that block
// into a single ordinal that increases in log-append order.
func LogPosition(blockNumber uint64, index uint) int64 {
	return int64(blockNumber)<<24 | int64(index&0xffffff)
}

func (e RawEvent) ContentURI() string {
	v, _ := e.Payload[PayloadTokenURI].(string)
	return v
}

func (e RawEvent) Price() *big.Int {
	return bigFromPayload(e.Payload[PayloadPrice])
}

func (e RawEvent) Amount() int64 {
	v := bigFromPayload(e.Payload[PayloadAmount])
	if !v.IsInt64() {
		return 0
	}
	return v.Int64()
}

// Timestamp reads the unix-seconds "date" field. Zero time when absent.
func (e RawEvent) Timestamp() time.Time {
	v := bigFromPayload(e.Payload[PayloadDate])
	if v.Sign() == 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

func (e RawEvent) Bookmarked() bool {
	v, _ := e.Payload[PayloadBookmarked].(bool)
	return v
}

// MarshalJSON renders big integer payload values as decimal strings so that
// they survive a JSON round trip.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	type plain RawEvent
	p := plain(e)
	p.Payload = EncodePayload(e.Payload)
	return json.Marshal(p)
}

// EncodePayload returns a copy of payload with *big.Int values replaced by
// their decimal string form.
func EncodePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if n, ok := v.(*big.Int); ok && n != nil {
			out[k] = n.String()
			continue
		}
		out[k] = v
	}
	return out
}

func bigFromPayload(v any) *big.Int {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return new(big.Int)
		}
		return new(big.Int).Set(n)
	case int64:
		return big.NewInt(n)
	case int:
		return big.NewInt(int64(n))
	case uint64:
		return new(big.Int).SetUint64(n)
	case float64:
		// JSON round trips decode numbers as float64
		return big.NewInt(int64(n))
	case string:
		b, ok := new(big.Int).SetString(n, 10)
		if !ok {
			return new(big.Int)
		}
		return b
	default:
		return new(big.Int)
	}
}
