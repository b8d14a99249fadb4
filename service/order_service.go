package service

import (
	"sync"
	"time"

	"limitbook/domain/orderbook"
	"limitbook/infra/logging"
	"limitbook/infra/metrics"
	"limitbook/infra/sequence"
	entrywal "limitbook/infra/wal/entry"
	exitwal "limitbook/infra/wal/exit"
	"limitbook/jobs/broadcaster"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const namedLogger = "service"

// Journal records commands before they are applied.
type Journal interface {
	Append(*entrywal.Record) error
}

// Outbox receives the trade events produced by each command.
type Outbox interface {
	PutNewBatch([]*exitwal.ExitRecord) error
	LastSeq() (uint64, error)
}

// OrderService is the ONLY write entry point into the market.
//
// Every command takes the write lock, so the Market sees one writer.
// Queries share the read lock.
type OrderService struct {
	log     *logging.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	market  *orderbook.Market
	journal Journal
	outbox  Outbox

	// seq numbers journal records; a place record's seq is also the
	// order's arrival token.
	seq *sequence.Sequencer
	// published is the highest trade seq handed to the outbox.
	published uint64
}

// NewOrderService wires the service. journal and outbox may be nil, in
// which case commands are not persisted or trades not exported.
func NewOrderService(
	log *logging.Logger,
	market *orderbook.Market,
	journal Journal,
	outbox Outbox,
	m *metrics.Metrics,
) (*OrderService, error) {
	s := &OrderService{
		log:     log.Named(namedLogger),
		metrics: m,
		market:  market,
		journal: journal,
		outbox:  outbox,
		seq:     sequence.New(0),
	}
	if outbox != nil {
		last, err := outbox.LastSeq()
		if err != nil {
			return nil, errors.Wrap(err, "read outbox position")
		}
		s.published = last
	}
	return s, nil
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// PlaceOrder validates, journals and submits a limit order.
func (s *OrderService) PlaceOrder(side orderbook.Side, qty int64, price decimal.Decimal) (*orderbook.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := orderbook.ValidateOrder(side, qty, price); err != nil {
		s.metrics.Rejected("place", "invalid")
		return nil, err
	}

	seq := s.seq.Next()
	cmd := PlaceCommand{Side: side, Qty: qty, Price: price}
	if err := s.append(entrywal.RecordPlace, seq, encodePlace(cmd)); err != nil {
		s.metrics.Rejected("place", "journal")
		return nil, err
	}

	conf, err := s.market.SubmitOrder(side, qty, price, seq)
	if err != nil {
		// the journal already holds the command; replay rejects it the same way
		s.metrics.Rejected("place", "engine")
		return nil, err
	}

	s.metrics.OrderAccepted(side.String())
	for _, t := range conf.Trades {
		s.metrics.Traded(t.Qty)
	}
	s.log.Debug("order placed",
		zap.Uint64("id", conf.OrderID),
		zap.Uint64("seq", seq),
		zap.Int("trades", len(conf.Trades)),
		zap.Bool("resting", conf.Resting))

	s.afterCommand()
	return conf, nil
}

// CancelOrder journals and applies a cancel. Unknown or inactive orders
// are rejected without touching the journal.
func (s *OrderService) CancelOrder(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.market.Status(id)
	if err != nil {
		s.metrics.Rejected("cancel", "not_found")
		return err
	}
	if !st.Active {
		s.metrics.Rejected("cancel", "not_active")
		return errors.Wrapf(orderbook.ErrOrderNotActive, "order %d is %s", id, st.Status)
	}

	seq := s.seq.Next()
	if err := s.append(entrywal.RecordCancel, seq, encodeCancel(CancelCommand{OrderID: id})); err != nil {
		s.metrics.Rejected("cancel", "journal")
		return err
	}
	if err := s.market.Cancel(id); err != nil {
		return err
	}

	s.metrics.Canceled()
	s.log.Debug("order canceled", zap.Uint64("id", id), zap.Uint64("seq", seq))
	s.afterCommand()
	return nil
}

func (s *OrderService) append(t entrywal.RecordType, seq uint64, payload []byte) error {
	if s.journal == nil {
		return nil
	}
	start := time.Now()
	err := s.journal.Append(entrywal.NewRecord(t, seq, payload))
	s.metrics.ObserveJournal(time.Since(start))
	if err != nil {
		s.log.Error("journal append failed", zap.Uint64("seq", seq), zap.Stringer("type", t), zap.Error(err))
		return errors.Wrap(err, "journal")
	}
	return nil
}

func (s *OrderService) afterCommand() {
	if err := s.flushTrades(); err != nil {
		// retried after the next command; trades stay in the trade log
		s.log.Warn("outbox write failed", zap.Uint64("published", s.published), zap.Error(err))
	}
	for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
		var orders int
		levels := s.market.Depth(side, 0)
		for _, l := range levels {
			orders += l.Orders
		}
		s.metrics.SetBookSize(side.String(), orders, len(levels))
	}
}

// flushTrades hands every trade newer than the outbox position to the
// outbox in one batch.
func (s *OrderService) flushTrades() error {
	if s.outbox == nil {
		return nil
	}
	trades := s.market.TradesSince(s.published)
	if len(trades) == 0 {
		return nil
	}

	now := time.Now().UnixNano()
	recs := make([]*exitwal.ExitRecord, 0, len(trades))
	for _, t := range trades {
		payload, err := broadcaster.EncodeTrade(t, now)
		if err != nil {
			return errors.Wrapf(err, "encode trade %d", t.Seq)
		}
		recs = append(recs, &exitwal.ExitRecord{Seq: t.Seq, Payload: payload})
	}
	if err := s.outbox.PutNewBatch(recs); err != nil {
		return err
	}
	s.published = trades[len(trades)-1].Seq
	return nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (s *OrderService) OrderStatus(id uint64) (orderbook.OrderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market.Status(id)
}

func (s *OrderService) BestPrice(side orderbook.Side) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market.BestPrice(side)
}

// Trades returns the trades with Seq greater than since; 0 returns all.
func (s *OrderService) Trades(since uint64) []orderbook.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market.TradesSince(since)
}

// Snapshot returns a consistent view of all active orders.
func (s *OrderService) Snapshot() []orderbook.OrderState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market.Snapshot()
}

func (s *OrderService) Depth(side orderbook.Side, n int) []orderbook.LevelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market.Depth(side, n)
}
