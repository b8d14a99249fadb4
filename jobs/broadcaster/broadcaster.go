package broadcaster

import (
	"context"
	"time"

	"limitbook/infra/logging"
	"limitbook/infra/metrics"
	exitwal "limitbook/infra/wal/exit"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Outbox is the part of the exit WAL the broadcaster drives.
type Outbox interface {
	ScanPending(fn func(*exitwal.ExitRecord) error) error
	MarkSent(seq uint64) error
	MarkAcked(seq uint64) error
	MarkFailed(seq uint64) error
	TruncateAckedUpTo(seq uint64) (int, error)
}

// Broadcaster drains the trade outbox to the broker in sequence order.
// Delivery is at least once: a crash between publish and ack resends.
type Broadcaster struct {
	log     *logging.Logger
	cfg     Config
	outbox  Outbox
	pub     Publisher
	metrics *metrics.Metrics

	now func() time.Time
}

func New(log *logging.Logger, cfg Config, outbox Outbox, pub Publisher, m *metrics.Metrics) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = NewDefaultConfig().Interval
	}
	return &Broadcaster{
		log:     log.Named(namedLogger),
		cfg:     cfg,
		outbox:  outbox,
		pub:     pub,
		metrics: m,
		now:     time.Now,
	}
}

// Run flushes the outbox every interval until ctx is done, then makes a
// last attempt with a short deadline.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("broadcaster started",
		zap.String("topic", b.cfg.Topic),
		zap.Duration("interval", b.cfg.Interval))

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drain, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, err := b.Flush(drain)
			cancel()
			if err != nil {
				b.log.Warn("final flush incomplete", zap.Error(err))
			}
			b.log.Info("broadcaster stopped")
			return nil
		case <-ticker.C:
			if _, err := b.Flush(ctx); err != nil {
				b.log.Debug("flush stopped", zap.Error(err))
			}
		}
	}
}

// Flush makes one pass over the pending events and returns how many were
// acknowledged. The pass stops at the first failure so that events reach
// the broker in trade order.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	var (
		sent    int
		pending int
		lastAck uint64
	)

	err := b.outbox.ScanPending(func(rec *exitwal.ExitRecord) error {
		pending++
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.backingOff(rec) {
			return errBackoff
		}

		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}
		err := b.pub.Publish(ctx, eventKey(rec.Seq), rec.Payload)
		b.metrics.ObservePublish(err)
		if err != nil {
			if merr := b.outbox.MarkFailed(rec.Seq); merr != nil {
				b.log.Error("mark failed", zap.Uint64("seq", rec.Seq), zap.Error(merr))
			}
			return errors.Wrapf(err, "publish seq %d", rec.Seq)
		}
		if err := b.outbox.MarkAcked(rec.Seq); err != nil {
			return err
		}
		sent++
		lastAck = rec.Seq
		return nil
	})
	b.metrics.SetOutboxPending(pending - sent)

	if sent > 0 && b.cfg.TruncateAcked {
		if _, terr := b.outbox.TruncateAckedUpTo(lastAck); terr != nil {
			b.log.Warn("outbox truncate failed", zap.Error(terr))
		}
	}
	if errors.Is(err, errBackoff) {
		return sent, nil
	}
	return sent, err
}

var errBackoff = errors.New("retry backoff")

func (b *Broadcaster) backingOff(rec *exitwal.ExitRecord) bool {
	if rec.State != exitwal.StateFailed || b.cfg.RetryBackoff <= 0 {
		return false
	}
	next := time.Unix(0, rec.LastAttempt).Add(b.cfg.RetryBackoff)
	return b.now().Before(next)
}

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}
