package orderbook

import (
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// Comparator reports whether candidate is strictly more competitive than
// incumbent for one side of the book.
type Comparator func(candidate, incumbent decimal.Decimal) bool

// HigherIsBetter ranks bids.
func HigherIsBetter(candidate, incumbent decimal.Decimal) bool {
	return candidate.GreaterThan(incumbent)
}

// LowerIsBetter ranks asks.
func LowerIsBetter(candidate, incumbent decimal.Decimal) bool {
	return candidate.LessThan(incumbent)
}

// ComparatorFor returns the ranking rule of a side.
func ComparatorFor(side Side) Comparator {
	if side == Bid {
		return HigherIsBetter
	}
	return LowerIsBetter
}

// Book holds the price levels of one side. Both sides share this type and
// differ only in their Comparator.
//
// levels gives O(1) lookup by price; index keeps the same levels ordered
// best-first so that losing the best level costs O(log n).
type Book struct {
	side   Side
	better Comparator

	levels map[string]*PriceLevel
	index  *btree.BTreeG[*PriceLevel]
	best   *PriceLevel
}

func NewBook(side Side) *Book {
	return newBookWithComparator(side, ComparatorFor(side))
}

func newBookWithComparator(side Side, better Comparator) *Book {
	return &Book{
		side:   side,
		better: better,
		levels: make(map[string]*PriceLevel, 64),
		index: btree.NewG(2, func(a, b *PriceLevel) bool {
			return better(a.Price, b.Price)
		}),
	}
}

func priceKey(p decimal.Decimal) string {
	return p.String()
}

func (b *Book) Side() Side {
	return b.side
}

// Add rests o at its price, creating the level when needed. Only a newly
// created level can displace the current best.
func (b *Book) Add(o *Order) {
	if o.Side != b.side {
		panic(fmt.Sprintf("orderbook: %s order %d added to %s book", o.Side, o.ID, b.side))
	}

	key := priceKey(o.Price)
	if lvl, ok := b.levels[key]; ok {
		lvl.Append(o)
		return
	}

	lvl := NewPriceLevel(o.Price)
	lvl.Append(o)
	b.levels[key] = lvl
	b.index.ReplaceOrInsert(lvl)

	if b.best == nil || b.better(lvl.Price, b.best.Price) {
		b.best = lvl
	}
}

// RemoveLevel drops the level at price and recomputes best if it was the
// best level.
func (b *Book) RemoveLevel(price decimal.Decimal) {
	key := priceKey(price)
	lvl, ok := b.levels[key]
	if !ok {
		panic(fmt.Sprintf("orderbook: no %s level at %s", b.side, price))
	}
	delete(b.levels, key)
	if _, found := b.index.Delete(lvl); !found {
		panic(fmt.Sprintf("orderbook: %s level %s missing from price index", b.side, price))
	}

	if lvl != b.best {
		return
	}
	b.best = nil
	if next, ok := b.index.Min(); ok {
		b.best = next
	}
	if (b.best == nil) != (len(b.levels) == 0) {
		panic(fmt.Sprintf("orderbook: %s best is %v with %d levels", b.side, b.best, len(b.levels)))
	}
}

// Best returns the most competitive level, or nil when the side is empty.
func (b *Book) Best() *PriceLevel {
	return b.best
}

// Level returns the level at price, or nil.
func (b *Book) Level(price decimal.Decimal) *PriceLevel {
	return b.levels[priceKey(price)]
}

// Crosses reports whether a resting price on this side trades against an
// incoming order of the opposite side limited at limit. The resting price
// crosses unless it is strictly worse, for this side, than the limit.
func (b *Book) Crosses(limit, resting decimal.Decimal) bool {
	return !b.better(limit, resting)
}

func (b *Book) Len() int {
	return len(b.levels)
}

func (b *Book) Empty() bool {
	return b.best == nil
}

// Walk visits levels from best to worst until fn returns false.
func (b *Book) Walk(fn func(*PriceLevel) bool) {
	b.index.Ascend(func(lvl *PriceLevel) bool {
		return fn(lvl)
	})
}
