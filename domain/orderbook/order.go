package orderbook

import (
	"github.com/shopspring/decimal"
)

type Side int
type Status int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "buy"
	case Ask:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

const (
	// StatusNew is an order that is still being matched on submission.
	StatusNew Status = iota
	// StatusActive is an order resting in a price level.
	StatusActive
	StatusFilled
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusActive:
		return "active"
	case StatusFilled:
		return "filled"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Order is a pure domain entity. It is mutated in place by its price
// level and by the Market, and is never destroyed: the Market registry
// keeps it reachable after it leaves the book.
//
// Leaves + Filled + Canceled == Qty at all times.
type Order struct {
	ID       uint64
	Price    decimal.Decimal
	Qty      int64
	Filled   int64
	Leaves   int64
	Canceled int64
	SeqID    uint64

	Side   Side
	Status Status

	next *Order
	prev *Order
}

func (o *Order) IsActive() bool {
	return o.Status == StatusActive
}

// fill moves qty from Leaves to Filled.
func (o *Order) fill(qty int64) {
	o.Leaves -= qty
	o.Filled += qty
}

// Read-only traversal helpers
func (o *Order) Next() *Order {
	return o.next
}

func (o *Order) Prev() *Order {
	return o.prev
}

// OrderState is a detached, read-only copy of an Order.
type OrderState struct {
	ID       uint64
	Side     Side
	Price    decimal.Decimal
	Qty      int64
	Filled   int64
	Leaves   int64
	Canceled int64
	SeqID    uint64
	Status   Status
	Active   bool
}

func (o *Order) State() OrderState {
	return OrderState{
		ID:       o.ID,
		Side:     o.Side,
		Price:    o.Price,
		Qty:      o.Qty,
		Filled:   o.Filled,
		Leaves:   o.Leaves,
		Canceled: o.Canceled,
		SeqID:    o.SeqID,
		Status:   o.Status,
		Active:   o.IsActive(),
	}
}
