package broadcaster

import (
	"context"
	"testing"
	"time"

	"limitbook/domain/orderbook"
	"limitbook/infra/logging"
	"limitbook/infra/metrics"
	exitwal "limitbook/infra/wal/exit"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBroadcaster struct {
	*Broadcaster
	outbox   *exitwal.ExitWAL
	producer *mocks.SyncProducer
	metrics  *metrics.Metrics
}

func getTestBroadcaster(t *testing.T) *testBroadcaster {
	t.Helper()
	outbox, err := exitwal.OpenWithOptions(logging.NewTestLogger(), "outbox", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = outbox.Close() })

	producer := mocks.NewSyncProducer(t, nil)
	m := metrics.New(prometheus.NewRegistry())

	cfg := NewDefaultConfig()
	cfg.TruncateAcked = false
	b := New(logging.NewTestLogger(), cfg, outbox, NewSaramaPublisher(producer, cfg.Topic), m)
	t.Cleanup(func() { _ = b.Close() })

	return &testBroadcaster{Broadcaster: b, outbox: outbox, producer: producer, metrics: m}
}

func putTrade(t *testing.T, outbox *exitwal.ExitWAL, seq uint64) {
	t.Helper()
	payload, err := EncodeTrade(orderbook.Trade{
		Seq:           seq,
		Price:         decimal.RequireFromString("10.5"),
		Qty:           3,
		AggressorID:   2,
		RestingID:     1,
		AggressorSide: orderbook.Bid,
	}, 42)
	require.NoError(t, err)
	require.NoError(t, outbox.PutNew(seq, payload))
}

func state(t *testing.T, outbox *exitwal.ExitWAL, seq uint64) exitwal.ExitState {
	t.Helper()
	rec, err := outbox.Get(seq)
	require.NoError(t, err)
	return rec.State
}

func TestBroadcaster_FlushAcksInOrder(t *testing.T) {
	tb := getTestBroadcaster(t)
	putTrade(t, tb.outbox, 1)
	putTrade(t, tb.outbox, 2)

	seen := []uint64{}
	check := func(val []byte) error {
		e, err := DecodeEvent(val)
		if err != nil {
			return err
		}
		seen = append(seen, e.Seq)
		return nil
	}
	tb.producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)
	tb.producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)

	n, err := tb.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{1, 2}, seen)
	assert.Equal(t, exitwal.StateAcked, state(t, tb.outbox, 1))
	assert.Equal(t, exitwal.StateAcked, state(t, tb.outbox, 2))
	assert.Equal(t, 2.0, testutil.ToFloat64(tb.metrics.PublishedTotal))

	// nothing left to send
	n, err = tb.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBroadcaster_FailureStopsPassAndRetries(t *testing.T) {
	tb := getTestBroadcaster(t)
	tb.cfg.RetryBackoff = time.Minute
	putTrade(t, tb.outbox, 1)
	putTrade(t, tb.outbox, 2)

	tb.producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	n, err := tb.Flush(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, exitwal.StateFailed, state(t, tb.outbox, 1))
	assert.Equal(t, exitwal.StateNew, state(t, tb.outbox, 2), "later events wait behind the failed one")
	assert.Equal(t, 1.0, testutil.ToFloat64(tb.metrics.PublishErrors))

	// within the backoff window the failed head holds the queue
	n, err = tb.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	tb.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	tb.producer.ExpectSendMessageAndSucceed()
	tb.producer.ExpectSendMessageAndSucceed()

	n, err = tb.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := tb.outbox.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.Retries)
}

func TestBroadcaster_TruncatesAcked(t *testing.T) {
	tb := getTestBroadcaster(t)
	tb.cfg.TruncateAcked = true
	putTrade(t, tb.outbox, 1)

	tb.producer.ExpectSendMessageAndSucceed()
	n, err := tb.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = tb.outbox.Get(1)
	assert.ErrorIs(t, err, exitwal.ErrRecordNotFound)
}

func TestBroadcaster_RunStopsOnCancel(t *testing.T) {
	tb := getTestBroadcaster(t)
	tb.cfg.Interval = 10 * time.Millisecond
	putTrade(t, tb.outbox, 1)
	tb.producer.ExpectSendMessageAndSucceed()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec, err := tb.outbox.Get(1)
		return err == nil && rec.State == exitwal.StateAcked
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("broadcaster did not stop")
	}
}

func TestBroadcaster_UnknownDriver(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Driver = "carrier-pigeon"
	_, err := NewPublisher(cfg)
	assert.Error(t, err)
}

func TestEvent_RoundTripFields(t *testing.T) {
	payload, err := EncodeTrade(orderbook.Trade{
		Seq:           7,
		Price:         decimal.RequireFromString("10.50"),
		Qty:           4,
		AggressorID:   9,
		RestingID:     3,
		AggressorSide: orderbook.Ask,
	}, 100)
	require.NoError(t, err)

	e, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "trade", e.Type)
	assert.Equal(t, "10.5", e.Price)
	assert.Equal(t, "sell", e.AggressorSide)
	assert.Equal(t, uint64(7), e.Seq)
	assert.Equal(t, []byte("7"), eventKey(7))
}

var _ Publisher = (*SaramaPublisher)(nil)
