package orderbook

import (
	"github.com/pkg/errors"
)

// CheckInvariants verifies the structural invariants of both books, the
// no-cross condition and quantity conservation of every registered order.
func (m *Market) CheckInvariants() error {
	resting := 0
	for _, b := range []*Book{m.bids, m.asks} {
		n, err := b.checkInvariants()
		if err != nil {
			return err
		}
		resting += n
	}

	if bid, ask := m.bids.Best(), m.asks.Best(); bid != nil && ask != nil && !bid.Price.LessThan(ask.Price) {
		return errors.Errorf("book crossed: best bid %s >= best ask %s", bid.Price, ask.Price)
	}

	active := 0
	for id, o := range m.registry {
		if o.ID != id {
			return errors.Errorf("registry key %d holds order %d", id, o.ID)
		}
		if o.Leaves < 0 || o.Filled < 0 || o.Canceled < 0 {
			return errors.Errorf("order %d has negative quantities %+v", id, o.State())
		}
		if o.Leaves+o.Filled+o.Canceled != o.Qty {
			return errors.Errorf("order %d does not conserve quantity %+v", id, o.State())
		}
		switch o.Status {
		case StatusActive:
			active++
			if o.Leaves == 0 {
				return errors.Errorf("active order %d has no leaves", id)
			}
		case StatusFilled:
			if o.Leaves != 0 || o.Canceled != 0 {
				return errors.Errorf("filled order %d has leaves or canceled quantity", id)
			}
		case StatusCanceled:
			if o.Leaves != 0 {
				return errors.Errorf("canceled order %d has leaves", id)
			}
		default:
			return errors.Errorf("order %d left in status %s", id, o.Status)
		}
	}
	if active != resting {
		return errors.Errorf("%d active orders in registry, %d resting in books", active, resting)
	}
	return nil
}

func (m *Market) verify() {
	if !m.cfg.CheckInvariants {
		return
	}
	if err := m.CheckInvariants(); err != nil {
		panic(err)
	}
}

// checkInvariants returns the number of resting orders on the side.
func (b *Book) checkInvariants() (int, error) {
	if (b.best == nil) != (len(b.levels) == 0) {
		return 0, errors.Errorf("%s best is %v with %d levels", b.side, b.best, len(b.levels))
	}
	if b.index.Len() != len(b.levels) {
		return 0, errors.Errorf("%s index holds %d levels, map %d", b.side, b.index.Len(), len(b.levels))
	}
	if b.best != nil {
		if top, _ := b.index.Min(); top != b.best {
			return 0, errors.Errorf("%s best %s is not the top of the index %s", b.side, b.best.Price, top.Price)
		}
	}

	total := 0
	for key, lvl := range b.levels {
		if key != priceKey(lvl.Price) {
			return 0, errors.Errorf("%s level %s stored under %q", b.side, lvl.Price, key)
		}
		if b.best != nil && b.better(lvl.Price, b.best.Price) {
			return 0, errors.Errorf("%s level %s beats best %s", b.side, lvl.Price, b.best.Price)
		}
		n, err := lvl.checkChain(b.side)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (p *PriceLevel) checkChain(side Side) (int, error) {
	if p.head == nil || p.tail == nil {
		return 0, errors.Errorf("empty level %s kept in %s book", p.Price, side)
	}
	if p.head.prev != nil || p.tail.next != nil {
		return 0, errors.Errorf("level %s head/tail not terminal", p.Price)
	}

	var (
		count int
		qty   int64
		prev  *Order
	)
	for o := p.head; o != nil; o = o.next {
		if o.prev != prev {
			return 0, errors.Errorf("level %s: order %d has broken back link", p.Price, o.ID)
		}
		if prev != nil && o.SeqID <= prev.SeqID {
			return 0, errors.Errorf("level %s: order %d out of arrival order", p.Price, o.ID)
		}
		if !o.IsActive() || o.Side != side || !o.Price.Equal(p.Price) {
			return 0, errors.Errorf("level %s: foreign order %d %+v", p.Price, o.ID, o.State())
		}
		count++
		qty += o.Leaves
		prev = o
	}
	if prev != p.tail {
		return 0, errors.Errorf("level %s: tail is not the last order", p.Price)
	}
	if count != p.OrderCount || qty != p.TotalQty {
		return 0, errors.Errorf("level %s: counted %d orders/%d qty, tracked %d/%d",
			p.Price, count, qty, p.OrderCount, p.TotalQty)
	}
	return count, nil
}
