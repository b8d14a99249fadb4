package broadcaster

import (
	"strconv"

	"limitbook/domain/orderbook"

	"github.com/segmentio/encoding/json"
)

const eventVersion = 1

// Event is the wire form of one trade on the broker.
type Event struct {
	V             int    `json:"v"`
	Type          string `json:"type"`
	Seq           uint64 `json:"seq"`
	Price         string `json:"price"`
	Qty           int64  `json:"qty"`
	AggressorID   uint64 `json:"aggressor_id"`
	RestingID     uint64 `json:"resting_id"`
	AggressorSide string `json:"aggressor_side"`
	Time          int64  `json:"ts"`
}

func NewTradeEvent(t orderbook.Trade, ts int64) Event {
	return Event{
		V:             eventVersion,
		Type:          "trade",
		Seq:           t.Seq,
		Price:         t.Price.String(),
		Qty:           t.Qty,
		AggressorID:   t.AggressorID,
		RestingID:     t.RestingID,
		AggressorSide: t.AggressorSide.String(),
		Time:          ts,
	}
}

func EncodeTrade(t orderbook.Trade, ts int64) ([]byte, error) {
	return json.Marshal(NewTradeEvent(t, ts))
}

func DecodeEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

// eventKey keys broker messages by trade sequence.
func eventKey(seq uint64) []byte {
	return strconv.AppendUint(nil, seq, 10)
}
