package orderbook

import (
	"fmt"

	"limitbook/infra/logging"
	"limitbook/infra/sequence"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Trade is one execution. Price is always the resting order's price.
type Trade struct {
	Seq           uint64
	Price         decimal.Decimal
	Qty           int64
	AggressorID   uint64
	RestingID     uint64
	AggressorSide Side
}

// Confirmation describes the outcome of one submission.
type Confirmation struct {
	OrderID uint64
	Trades  []Trade
	Resting bool
}

// LevelState is an aggregated view of one price level.
type LevelState struct {
	Price  decimal.Decimal
	Qty    int64
	Orders int
}

// Market owns both sides of one instrument, the trade log and the
// registry of every order ever accepted.
//
// Market is single-writer: callers must serialize Submit and Cancel
// (see service.OrderService).
type Market struct {
	log *logging.Logger
	cfg Config

	bids *Book
	asks *Book

	trades   []Trade
	registry map[uint64]*Order

	ids      *sequence.Sequencer
	arrivals *sequence.Sequencer
}

func NewMarket(log *logging.Logger, cfg Config) *Market {
	return &Market{
		log:      log.Named(namedLogger),
		cfg:      cfg,
		bids:     NewBook(Bid),
		asks:     NewBook(Ask),
		trades:   make([]Trade, 0, 1024),
		registry: make(map[uint64]*Order, 1024),
		ids:      sequence.New(0),
		arrivals: sequence.New(0),
	}
}

// Book returns one side of the market. The book must not be mutated by
// the caller.
func (m *Market) Book(side Side) *Book {
	if side == Bid {
		return m.bids
	}
	return m.asks
}

// ValidateOrder checks the parameters of a submission.
func ValidateOrder(side Side, qty int64, price decimal.Decimal) error {
	switch {
	case side != Bid && side != Ask:
		return errors.Wrapf(ErrInvalidOrder, "unknown side %d", side)
	case qty <= 0:
		return errors.Wrapf(ErrInvalidOrder, "quantity %d must be positive", qty)
	case !price.IsPositive():
		return errors.Wrapf(ErrInvalidOrder, "price %s must be positive", price)
	}
	return nil
}

// ---- commands ----

// Submit places a limit order and returns its id, whether it rested,
// filled, or partially filled and rested.
//
// arrival is the price-time tie-break token; 0 lets the Market assign the
// next one. A caller supplied token must exceed every token seen before.
func (m *Market) Submit(side Side, qty int64, price decimal.Decimal, arrival uint64) (uint64, error) {
	conf, err := m.SubmitOrder(side, qty, price, arrival)
	if err != nil {
		return 0, err
	}
	return conf.OrderID, nil
}

// SubmitOrder is Submit returning the trades produced by this call.
func (m *Market) SubmitOrder(side Side, qty int64, price decimal.Decimal, arrival uint64) (*Confirmation, error) {
	if err := ValidateOrder(side, qty, price); err != nil {
		return nil, err
	}
	if arrival == 0 {
		arrival = m.arrivals.Next()
	} else if err := m.arrivals.Advance(arrival); err != nil {
		return nil, errors.Wrapf(ErrInvalidOrder, "arrival token: %v", err)
	}

	o := &Order{
		ID:     m.ids.Next(),
		Side:   side,
		Price:  price,
		Qty:    qty,
		Leaves: qty,
		SeqID:  arrival,
		Status: StatusNew,
	}
	m.registry[o.ID] = o

	conf := &Confirmation{OrderID: o.ID}
	own, opp := m.Book(side), m.Book(side.Opposite())

	for o.Leaves > 0 {
		best := opp.Best()
		if best == nil || !opp.Crosses(o.Price, best.Price) {
			own.Add(o)
			conf.Resting = true
			m.log.Debug("order rested",
				zap.Uint64("id", o.ID),
				zap.Stringer("side", o.Side),
				zap.Stringer("price", o.Price),
				zap.Int64("leaves", o.Leaves))
			break
		}
		conf.Trades = m.sweep(o, best, opp, conf.Trades)
	}
	if o.Leaves == 0 {
		o.Status = StatusFilled
	}

	m.verify()
	return conf, nil
}

// sweep consumes lvl from its head until the aggressor is exhausted or
// the level is emptied and dropped from opp.
func (m *Market) sweep(agg *Order, lvl *PriceLevel, opp *Book, trades []Trade) []Trade {
	for agg.Leaves > 0 {
		resting := lvl.Head()
		if resting.Leaves > agg.Leaves {
			trades = append(trades, m.execute(agg, resting, lvl, agg.Leaves))
			break
		}

		trades = append(trades, m.execute(agg, resting, lvl, resting.Leaves))
		lvl.PopHead()
		if lvl.Empty() {
			opp.RemoveLevel(lvl.Price)
			break
		}
	}
	return trades
}

func (m *Market) execute(agg, resting *Order, lvl *PriceLevel, qty int64) Trade {
	agg.fill(qty)
	resting.fill(qty)
	lvl.reduce(qty)

	t := Trade{
		Seq:           uint64(len(m.trades) + 1),
		Price:         lvl.Price,
		Qty:           qty,
		AggressorID:   agg.ID,
		RestingID:     resting.ID,
		AggressorSide: agg.Side,
	}
	m.trades = append(m.trades, t)

	if m.cfg.LogTrades {
		m.log.Debug("trade",
			zap.Uint64("seq", t.Seq),
			zap.Stringer("price", t.Price),
			zap.Int64("qty", t.Qty),
			zap.Uint64("aggressor", t.AggressorID),
			zap.Uint64("resting", t.RestingID))
	}
	return t
}

// Cancel removes an active order from the book. Canceling twice fails
// with ErrOrderNotActive.
func (m *Market) Cancel(id uint64) error {
	o, ok := m.registry[id]
	if !ok {
		return errors.Wrapf(ErrOrderNotFound, "order %d", id)
	}
	if !o.IsActive() {
		return errors.Wrapf(ErrOrderNotActive, "order %d is %s", id, o.Status)
	}

	book := m.Book(o.Side)
	lvl := book.Level(o.Price)
	if lvl == nil {
		panic(fmt.Sprintf("orderbook: active order %d has no %s level at %s", o.ID, o.Side, o.Price))
	}
	lvl.Remove(o)
	if lvl.Empty() {
		book.RemoveLevel(lvl.Price)
	}

	o.Canceled += o.Leaves
	o.Leaves = 0

	m.log.Debug("order canceled", zap.Uint64("id", o.ID), zap.Int64("canceled", o.Canceled))
	m.verify()
	return nil
}

// ---- queries ----

func (m *Market) Status(id uint64) (OrderState, error) {
	o, ok := m.registry[id]
	if !ok {
		return OrderState{}, errors.Wrapf(ErrOrderNotFound, "order %d", id)
	}
	return o.State(), nil
}

// Trades returns a copy of the trade log in execution order.
func (m *Market) Trades() []Trade {
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// TradesSince returns the trades with Seq greater than seq.
func (m *Market) TradesSince(seq uint64) []Trade {
	if seq >= uint64(len(m.trades)) {
		return nil
	}
	out := make([]Trade, uint64(len(m.trades))-seq)
	copy(out, m.trades[seq:])
	return out
}

func (m *Market) BestPrice(side Side) (decimal.Decimal, bool) {
	best := m.Book(side).Best()
	if best == nil {
		return decimal.Zero, false
	}
	return best.Price, true
}

// Depth aggregates up to n levels of a side, best first. n <= 0 means all.
func (m *Market) Depth(side Side, n int) []LevelState {
	out := make([]LevelState, 0, 16)
	m.Book(side).Walk(func(lvl *PriceLevel) bool {
		out = append(out, LevelState{Price: lvl.Price, Qty: lvl.TotalQty, Orders: lvl.OrderCount})
		return n <= 0 || len(out) < n
	})
	return out
}

// Snapshot lists every active order: bids best to worst, then asks best
// to worst, FIFO within a level.
func (m *Market) Snapshot() []OrderState {
	out := make([]OrderState, 0, 256)
	visit := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			out = append(out, o.State())
		}
		return true
	}
	m.bids.Walk(visit)
	m.asks.Walk(visit)
	return out
}

// Orders returns the number of orders ever accepted.
func (m *Market) Orders() int {
	return len(m.registry)
}

// LastArrival returns the highest arrival token seen.
func (m *Market) LastArrival() uint64 {
	return m.arrivals.Current()
}
