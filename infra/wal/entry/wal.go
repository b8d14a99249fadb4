package entry

import (
	"os"
	"sync"
	"time"

	"limitbook/infra/logging"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const namedLogger = "journal"

type Config struct {
	Dir             string        `mapstructure:"dir"`
	SegmentSize     int64         `mapstructure:"segment_size"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	// SyncEveryWrite fsyncs after each append.
	SyncEveryWrite bool `mapstructure:"sync_every_write"`
	MaxPayload     int  `mapstructure:"max_payload"`
}

func NewDefaultConfig() Config {
	return Config{
		Dir:             "data/journal",
		SegmentSize:     64 << 20,
		SegmentDuration: time.Hour,
		SyncEveryWrite:  true,
		MaxPayload:      DefaultMaxPayload,
	}
}

// WAL is the append-only command journal. Records are written in
// segments named segment-NNNNNN.wal and rotated by size or age.
type WAL struct {
	log *logging.Logger
	cfg Config

	mu         sync.Mutex
	current    *segment
	lastRotate time.Time
	lastSeq    uint64
	closed     bool
	failed     error

	openSegment func(dir string, index int) (*segment, error)
}

// Open resumes the newest segment in cfg.Dir, cutting off a torn tail
// left by a crash, or creates the first one.
func Open(log *logging.Logger, cfg Config) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = NewDefaultConfig().SegmentSize
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	w := &WAL{log: log.Named(namedLogger), cfg: cfg, openSegment: openSegment}

	indexes, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "list segments")
	}

	index := 0
	for i, idx := range indexes {
		last := i == len(indexes)-1
		maxSeq, good, err := scanSegment(segmentPath(cfg.Dir, idx), cfg.MaxPayload, nil)
		if err != nil {
			if !last || !errors.Is(err, ErrTornTail) {
				return nil, errors.Wrapf(err, "scan segment %d", idx)
			}
			w.log.Warn("truncating torn journal tail",
				zap.Int("segment", idx),
				zap.Int64("offset", good))
			if err := os.Truncate(segmentPath(cfg.Dir, idx), good); err != nil {
				return nil, errors.Wrap(err, "truncate torn tail")
			}
		}
		if maxSeq > w.lastSeq {
			w.lastSeq = maxSeq
		}
		index = idx
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, errors.Wrapf(err, "open segment %d", index)
	}
	w.current = seg
	w.lastRotate = time.Now()

	w.log.Info("journal opened",
		zap.String("dir", cfg.Dir),
		zap.Int("segment", index),
		zap.Uint64("last_seq", w.lastSeq))
	return w, nil
}

// Append writes r as one frame. r.Seq must exceed every sequence already
// in the journal. A nil return means the frame is written (and synced
// when SyncEveryWrite is set); an error means it is not in the journal.
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.failed != nil {
		return w.failed
	}
	if r.Seq <= w.lastSeq {
		return errors.Wrapf(ErrNonMonotonic, "seq %d after %d", r.Seq, w.lastSeq)
	}
	if len(r.Data) > w.cfg.MaxPayload {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(r.Data))
	}

	start := w.current.offset
	if err := w.write(r); err != nil {
		if rerr := w.current.rollback(start); rerr != nil {
			w.failed = errors.Wrapf(ErrFailed, "seq %d may be in segment %d: %v", r.Seq, w.current.index, rerr)
			w.log.Error("journal rollback failed",
				zap.Uint64("seq", r.Seq),
				zap.Int("segment", w.current.index),
				zap.Int64("offset", start),
				zap.NamedError("write_error", err),
				zap.Error(rerr))
			return w.failed
		}
		return err
	}
	w.lastSeq = r.Seq

	if w.shouldRotate() {
		// the frame is already durable; a failed rotation is retried on
		// the next append
		if err := w.rotate(); err != nil {
			w.log.Warn("journal rotation failed",
				zap.Int("segment", w.current.index),
				zap.Error(err))
		}
	}
	return nil
}

func (w *WAL) write(r *Record) error {
	if err := w.current.append(r.encode()); err != nil {
		return errors.Wrapf(err, "append seq %d", r.Seq)
	}
	if w.cfg.SyncEveryWrite {
		if err := w.current.sync(); err != nil {
			return errors.Wrapf(err, "sync seq %d", r.Seq)
		}
	}
	return nil
}

func (w *WAL) shouldRotate() bool {
	if w.current.offset >= w.cfg.SegmentSize {
		return true
	}
	return w.cfg.SegmentDuration > 0 && time.Since(w.lastRotate) >= w.cfg.SegmentDuration
}

// rotate opens the next segment before retiring the current one, so a
// failure leaves the journal writable.
func (w *WAL) rotate() error {
	next := w.current.index + 1
	seg, err := w.openSegment(w.cfg.Dir, next)
	if err != nil {
		return errors.Wrapf(err, "open segment %d", next)
	}

	prev := w.current
	w.current = seg
	w.lastRotate = time.Now()

	if err := prev.sync(); err != nil {
		w.log.Warn("sync rotated segment", zap.Int("segment", prev.index), zap.Error(err))
	}
	if err := prev.close(); err != nil {
		w.log.Warn("close rotated segment", zap.Int("segment", prev.index), zap.Error(err))
	}
	w.log.Debug("journal rotated", zap.Int("segment", seg.index))
	return nil
}

// LastSeq returns the highest sequence written to the journal.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

func (w *WAL) Dir() string {
	return w.cfg.Dir
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.current.sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return err
	}
	return w.current.close()
}

// TruncateBefore removes closed segments whose records all have a
// sequence <= seq. The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	indexes, err := listSegments(w.cfg.Dir)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if idx >= w.current.index {
			break
		}
		path := segmentPath(w.cfg.Dir, idx)
		maxSeq, _, err := scanSegment(path, w.cfg.MaxPayload, nil)
		if err != nil {
			w.log.Warn("skipping unreadable segment", zap.Int("segment", idx), zap.Error(err))
			continue
		}
		if maxSeq > seq {
			continue
		}
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "remove segment %d", idx)
		}
		w.log.Debug("journal segment removed", zap.Int("segment", idx), zap.Uint64("max_seq", maxSeq))
	}
	return nil
}
