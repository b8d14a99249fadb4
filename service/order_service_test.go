package service

import (
	"context"
	"sync"
	"testing"

	"limitbook/domain/orderbook"
	"limitbook/infra/logging"
	"limitbook/infra/metrics"
	entrywal "limitbook/infra/wal/entry"
	exitwal "limitbook/infra/wal/exit"
	"limitbook/jobs/broadcaster"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testService struct {
	*OrderService
	dir     string
	journal *entrywal.WAL
	outbox  *exitwal.ExitWAL
	metrics *metrics.Metrics
}

func newTestMarket() *orderbook.Market {
	cfg := orderbook.NewDefaultConfig()
	cfg.CheckInvariants = true
	return orderbook.NewMarket(logging.NewTestLogger(), cfg)
}

func openTestJournal(t *testing.T, dir string) *entrywal.WAL {
	t.Helper()
	cfg := entrywal.NewDefaultConfig()
	cfg.Dir = dir
	cfg.SyncEveryWrite = false
	j, err := entrywal.Open(logging.NewTestLogger(), cfg)
	require.NoError(t, err)
	return j
}

func openTestOutbox(t *testing.T, fs vfs.FS) *exitwal.ExitWAL {
	t.Helper()
	o, err := exitwal.OpenWithOptions(logging.NewTestLogger(), "outbox", &pebble.Options{FS: fs})
	require.NoError(t, err)
	return o
}

func getTestService(t *testing.T) *testService {
	t.Helper()
	dir := t.TempDir()
	journal := openTestJournal(t, dir)
	outbox := openTestOutbox(t, vfs.NewMem())
	t.Cleanup(func() {
		_ = journal.Close()
		_ = outbox.Close()
	})

	m := metrics.New(prometheus.NewRegistry())
	svc, err := NewOrderService(logging.NewTestLogger(), newTestMarket(), journal, outbox, m)
	require.NoError(t, err)
	return &testService{OrderService: svc, dir: dir, journal: journal, outbox: outbox, metrics: m}
}

func px(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pendingPayloads(t *testing.T, o *exitwal.ExitWAL) []broadcaster.Event {
	t.Helper()
	var out []broadcaster.Event
	require.NoError(t, o.ScanPending(func(r *exitwal.ExitRecord) error {
		e, err := broadcaster.DecodeEvent(r.Payload)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	}))
	return out
}

func TestOrderService_PlaceMatchesAndExportsTrades(t *testing.T) {
	ts := getTestService(t)

	ask, err := ts.PlaceOrder(orderbook.Ask, 10, px("10.5"))
	require.NoError(t, err)
	assert.True(t, ask.Resting)

	buy, err := ts.PlaceOrder(orderbook.Bid, 15, px("10.6"))
	require.NoError(t, err)
	require.Len(t, buy.Trades, 1)

	events := pendingPayloads(t, ts.outbox)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, "10.5", events[0].Price)
	assert.Equal(t, int64(10), events[0].Qty)
	assert.Equal(t, ask.OrderID, events[0].RestingID)

	best, ok := ts.BestPrice(orderbook.Bid)
	require.True(t, ok)
	assert.True(t, best.Equal(px("10.6")))

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.TradesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RestingOrders.WithLabelValues("buy")))
	assert.Equal(t, uint64(2), ts.journal.LastSeq())
}

func TestOrderService_InvalidOrderIsNotJournaled(t *testing.T) {
	ts := getTestService(t)

	_, err := ts.PlaceOrder(orderbook.Bid, 0, px("1"))
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	_, err = ts.PlaceOrder(orderbook.Bid, 1, px("-1"))
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)

	assert.Zero(t, ts.journal.LastSeq())
	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.RejectsTotal.WithLabelValues("place", "invalid")))
}

func TestOrderService_Cancel(t *testing.T) {
	ts := getTestService(t)

	assert.ErrorIs(t, ts.CancelOrder(7), orderbook.ErrOrderNotFound)

	conf, err := ts.PlaceOrder(orderbook.Bid, 3, px("9"))
	require.NoError(t, err)
	require.NoError(t, ts.CancelOrder(conf.OrderID))
	assert.ErrorIs(t, ts.CancelOrder(conf.OrderID), orderbook.ErrOrderNotActive)

	st, err := ts.OrderStatus(conf.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.StatusCanceled, st.Status)
	assert.Equal(t, int64(3), st.Canceled)

	_, ok := ts.BestPrice(orderbook.Bid)
	assert.False(t, ok)
	// place + one accepted cancel
	assert.Equal(t, uint64(2), ts.journal.LastSeq())
}

func TestOrderService_ReplayRebuildsMarket(t *testing.T) {
	ts := getTestService(t)

	a1, err := ts.PlaceOrder(orderbook.Ask, 4, px("10.5"))
	require.NoError(t, err)
	_, err = ts.PlaceOrder(orderbook.Ask, 6, px("10.5"))
	require.NoError(t, err)
	b1, err := ts.PlaceOrder(orderbook.Bid, 2, px("10.1"))
	require.NoError(t, err)
	_, err = ts.PlaceOrder(orderbook.Bid, 7, px("10.5"))
	require.NoError(t, err)
	require.NoError(t, ts.CancelOrder(b1.OrderID))

	wantSnap := ts.Snapshot()
	wantTrades := ts.Trades(0)
	require.Len(t, wantTrades, 2)
	require.NoError(t, ts.journal.Close())

	journal := openTestJournal(t, ts.dir)
	defer journal.Close()
	svc, err := NewOrderService(logging.NewTestLogger(), newTestMarket(), journal, ts.outbox, nil)
	require.NoError(t, err)

	last, err := svc.ReplayFromWAL(ts.dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)

	assert.Equal(t, wantSnap, svc.Snapshot())
	assert.Equal(t, wantTrades, svc.Trades(0))
	st, err := svc.OrderStatus(a1.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.StatusFilled, st.Status)

	// the outbox already had both trades; replay adds none
	assert.Len(t, pendingPayloads(t, ts.outbox), 2)

	// new commands continue the journal sequence
	conf, err := svc.PlaceOrder(orderbook.Bid, 3, px("10.5"))
	require.NoError(t, err)
	require.Len(t, conf.Trades, 1)
	assert.Equal(t, uint64(6), journal.LastSeq())
	assert.Len(t, pendingPayloads(t, ts.outbox), 3)
}

type flakyOutbox struct {
	fail int
	recs []*exitwal.ExitRecord
}

func (f *flakyOutbox) PutNewBatch(recs []*exitwal.ExitRecord) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("disk full")
	}
	f.recs = append(f.recs, recs...)
	return nil
}

func (f *flakyOutbox) LastSeq() (uint64, error) {
	return 0, nil
}

func TestOrderService_OutboxFailureIsRetried(t *testing.T) {
	outbox := &flakyOutbox{fail: 1}
	svc, err := NewOrderService(logging.NewTestLogger(), newTestMarket(), nil, outbox, nil)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(orderbook.Ask, 1, px("1"))
	require.NoError(t, err)
	_, err = svc.PlaceOrder(orderbook.Bid, 1, px("1"))
	require.NoError(t, err, "an outbox failure does not fail the command")
	assert.Empty(t, outbox.recs)

	_, err = svc.PlaceOrder(orderbook.Ask, 1, px("2"))
	require.NoError(t, err)
	require.Len(t, outbox.recs, 1)
	assert.Equal(t, uint64(1), outbox.recs[0].Seq)
}

func TestOrderService_ConcurrentCommands(t *testing.T) {
	ts := getTestService(t)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			side := orderbook.Bid
			if g%2 == 1 {
				side = orderbook.Ask
			}
			for i := 0; i < 50; i++ {
				price := decimal.NewFromInt(int64(100 + i%3 - 1))
				conf, err := ts.PlaceOrder(side, int64(1+i%5), price)
				if !assert.NoError(t, err) {
					return
				}
				if i%7 == 0 && conf.Resting {
					_ = ts.CancelOrder(conf.OrderID)
				}
				ts.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	var traded int64
	for _, tr := range ts.Trades(0) {
		traded += tr.Qty
	}
	var filled int64
	for id := uint64(1); id <= 400; id++ {
		st, err := ts.OrderStatus(id)
		require.NoError(t, err)
		filled += st.Filled
	}
	assert.Equal(t, 2*traded, filled)
}

func TestCodec_Place(t *testing.T) {
	cmd := PlaceCommand{Side: orderbook.Ask, Qty: 42, Price: px("10.25")}
	got, err := decodePlace(encodePlace(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd.Side, got.Side)
	assert.Equal(t, cmd.Qty, got.Qty)
	assert.True(t, cmd.Price.Equal(got.Price))

	_, err = decodePlace([]byte{0xff})
	assert.ErrorIs(t, err, ErrBadCommand)
	_, err = decodePlace(encodeCancel(CancelCommand{OrderID: 3}))
	assert.ErrorIs(t, err, ErrBadCommand, "cancel payload has no price")
}

func TestCodec_Cancel(t *testing.T) {
	got, err := decodeCancel(encodeCancel(CancelCommand{OrderID: 99}))
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.OrderID)

	_, err = decodeCancel(nil)
	assert.ErrorIs(t, err, ErrBadCommand)
}

type countingPublisher struct {
	mu        sync.Mutex
	published int
}

func (p *countingPublisher) Publish(_ context.Context, _, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published++
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

func TestOrderService_RestartAfterTruncationDoesNotRepublish(t *testing.T) {
	ts := getTestService(t)

	_, err := ts.PlaceOrder(orderbook.Ask, 5, px("10"))
	require.NoError(t, err)
	conf, err := ts.PlaceOrder(orderbook.Bid, 5, px("10"))
	require.NoError(t, err)
	require.Len(t, conf.Trades, 1)

	pub := &countingPublisher{}
	cfg := broadcaster.NewDefaultConfig()
	require.True(t, cfg.TruncateAcked)
	b := broadcaster.New(logging.NewTestLogger(), cfg, ts.outbox, pub, nil)

	n, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, pub.count())
	require.Empty(t, pendingPayloads(t, ts.outbox), "acked trades are truncated")

	// restart on the same journal and outbox
	require.NoError(t, ts.journal.Close())
	journal := openTestJournal(t, ts.dir)
	defer journal.Close()
	svc, err := NewOrderService(logging.NewTestLogger(), newTestMarket(), journal, ts.outbox, nil)
	require.NoError(t, err)
	_, err = svc.ReplayFromWAL(ts.dir)
	require.NoError(t, err)
	require.Len(t, svc.Trades(0), 1)

	assert.Empty(t, pendingPayloads(t, ts.outbox), "replayed trades are not exported again")
	_, err = b.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count(), "nothing is published twice")

	// the next trade continues after the high-water mark
	_, err = svc.PlaceOrder(orderbook.Ask, 1, px("11"))
	require.NoError(t, err)
	_, err = svc.PlaceOrder(orderbook.Bid, 1, px("11"))
	require.NoError(t, err)
	events := pendingPayloads(t, ts.outbox)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(2), events[0].Seq)
}

// flakyJournal rejects the next fail appends without writing them.
type flakyJournal struct {
	Journal
	fail int
}

func (j *flakyJournal) Append(r *entrywal.Record) error {
	if j.fail > 0 {
		j.fail--
		return errors.New("input/output error")
	}
	return j.Journal.Append(r)
}

func TestOrderService_JournalFailureLeavesNoTrace(t *testing.T) {
	ts := getTestService(t)
	journal := &flakyJournal{Journal: ts.journal, fail: 1}
	svc, err := NewOrderService(logging.NewTestLogger(), newTestMarket(), journal, ts.outbox, ts.metrics)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(orderbook.Ask, 5, px("10"))
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RejectsTotal.WithLabelValues("place", "journal")))

	conf, err := svc.PlaceOrder(orderbook.Ask, 3, px("10"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), conf.OrderID, "a rejected command takes no order id")

	want := svc.Snapshot()
	require.NoError(t, ts.journal.Close())

	reopened := openTestJournal(t, ts.dir)
	defer reopened.Close()
	replayed, err := NewOrderService(logging.NewTestLogger(), newTestMarket(), reopened, ts.outbox, nil)
	require.NoError(t, err)
	_, err = replayed.ReplayFromWAL(ts.dir)
	require.NoError(t, err)
	assert.Equal(t, want, replayed.Snapshot())

	st, err := replayed.OrderStatus(1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Qty)
}
