package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is a FIFO queue of active orders at a single price. It owns
// the prev/next links of its members.
type PriceLevel struct {
	Price decimal.Decimal

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Append links o as the new tail and marks it active.
func (p *PriceLevel) Append(o *Order) {
	if !o.Price.Equal(p.Price) {
		panic(fmt.Sprintf("orderbook: order %d at price %s appended to level %s", o.ID, o.Price, p.Price))
	}
	if o.IsActive() {
		panic(fmt.Sprintf("orderbook: order %d appended while already active", o.ID))
	}

	o.prev, o.next = p.tail, nil
	if p.tail != nil {
		p.tail.next = o
	} else {
		p.head = o
	}
	p.tail = o

	o.Status = StatusActive
	p.TotalQty += o.Leaves
	p.OrderCount++
}

// PopHead unlinks the head and retires it as filled.
// When the level becomes empty the caller must drop it from its book.
func (p *PriceLevel) PopHead() *Order {
	o := p.head
	if o == nil {
		return nil
	}
	p.unlink(o)
	o.Status = StatusFilled
	return o
}

// Remove unlinks an arbitrary active order of this level and retires it
// as canceled. O(1): the order's own links locate its neighbours.
func (p *PriceLevel) Remove(o *Order) {
	if !o.IsActive() || !o.Price.Equal(p.Price) {
		panic(fmt.Sprintf("orderbook: order %d is not resting at level %s", o.ID, p.Price))
	}
	p.unlink(o)
	o.Status = StatusCanceled
}

func (p *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next, o.prev = nil, nil

	p.TotalQty -= o.Leaves
	p.OrderCount--
}

// reduce keeps TotalQty in step with a partial fill of a member.
func (p *PriceLevel) reduce(qty int64) {
	p.TotalQty -= qty
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

func (p *PriceLevel) Len() int {
	return p.OrderCount
}

// Read-only helpers
func (p *PriceLevel) Head() *Order {
	return p.head
}

func (p *PriceLevel) Tail() *Order {
	return p.tail
}

// Orders returns the members in FIFO order.
func (p *PriceLevel) Orders() []*Order {
	out := make([]*Order, 0, p.OrderCount)
	for o := p.head; o != nil; o = o.next {
		out = append(out, o)
	}
	return out
}

func (p *PriceLevel) String() string {
	return fmt.Sprintf("PriceLevel{Price=%s, Orders=%d, TotalQty=%d}", p.Price, p.OrderCount, p.TotalQty)
}
