package exit

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"limitbook/infra/logging"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const namedLogger = "outbox"

var (
	ErrRecordNotFound = errors.New("outbox record not found")
	ErrCorruptRecord  = errors.New("outbox record corrupt")
)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Pending reports whether a record still has to be delivered. SENT counts
// as pending: a crash between send and ack means the ack never happened.
func (s ExitState) Pending() bool {
	return s != StateAcked
}

// -------------------- Record --------------------

// ExitRecord is one trade event waiting for, or past, delivery.
type ExitRecord struct {
	Seq         uint64
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
const recordHeader = 1 + 4 + 8

func encodeRecord(r *ExitRecord) []byte {
	buf := make([]byte, recordHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeader:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (*ExitRecord, error) {
	if len(b) < recordHeader {
		return nil, errors.Wrapf(ErrCorruptRecord, "seq %d: %d bytes", seq, len(b))
	}
	payload := make([]byte, len(b)-recordHeader)
	copy(payload, b[recordHeader:])
	return &ExitRecord{
		Seq:         seq,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

// -------------------- WAL --------------------

// ExitWAL is the durable trade outbox, keyed by trade sequence.
type ExitWAL struct {
	log *logging.Logger
	db  *pebble.DB

	// mu guards lastSeq, the high-water mark of every seq ever put.
	// It is persisted under lastSeqKey and survives truncation.
	mu      sync.Mutex
	lastSeq uint64
}

func Open(log *logging.Logger, dir string) (*ExitWAL, error) {
	return OpenWithOptions(log, dir, &pebble.Options{})
}

// OpenWithOptions lets callers supply pebble options, e.g. an in-memory
// vfs for tests.
func OpenWithOptions(log *logging.Logger, dir string, opts *pebble.Options) (*ExitWAL, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	w := &ExitWAL{log: log.Named(namedLogger), db: db}
	if w.lastSeq, err = w.loadLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// PutNew stores a trade event for delivery.
func (w *ExitWAL) PutNew(seq uint64, payload []byte) error {
	return w.PutNewBatch([]*ExitRecord{{Seq: seq, Payload: payload}})
}

// PutNewBatch stores several events atomically, together with the
// raised high-water mark.
func (w *ExitWAL) PutNewBatch(recs []*ExitRecord) error {
	if len(recs) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.db.NewBatch()
	defer b.Close()
	hwm := w.lastSeq
	for _, r := range recs {
		r.State = StateNew
		if err := b.Set(keyFor(r.Seq), encodeRecord(r), nil); err != nil {
			return errors.Wrapf(err, "batch seq %d", r.Seq)
		}
		if r.Seq > hwm {
			hwm = r.Seq
		}
	}
	if hwm != w.lastSeq {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], hwm)
		if err := b.Set([]byte(lastSeqKey), v[:], nil); err != nil {
			return errors.Wrap(err, "batch last seq")
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit outbox batch")
	}
	w.lastSeq = hwm
	return nil
}

func (w *ExitWAL) MarkSent(seq uint64) error {
	return w.update(seq, func(r *ExitRecord) {
		r.State = StateSent
		r.LastAttempt = time.Now().UnixNano()
	})
}

func (w *ExitWAL) MarkAcked(seq uint64) error {
	return w.update(seq, func(r *ExitRecord) {
		r.State = StateAcked
	})
}

func (w *ExitWAL) MarkFailed(seq uint64) error {
	return w.update(seq, func(r *ExitRecord) {
		r.State = StateFailed
		r.Retries++
		r.LastAttempt = time.Now().UnixNano()
	})
}

// Get returns the current record for a trade.
func (w *ExitWAL) Get(seq uint64) (*ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errors.Wrapf(ErrRecordNotFound, "seq %d", seq)
		}
		return nil, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

// LastSeq returns the highest trade sequence stored, or 0.
// LastSeq returns the highest seq ever stored, including records that
// were acked and truncated since.
func (w *ExitWAL) LastSeq() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq, nil
}

// loadLastSeq reads the persisted high-water mark. Stores written before
// the mark existed fall back to the highest trade key.
func (w *ExitWAL) loadLastSeq() (uint64, error) {
	var hwm uint64
	val, closer, err := w.db.Get([]byte(lastSeqKey))
	switch {
	case err == nil:
		if len(val) != 8 {
			_ = closer.Close()
			return 0, errors.Wrapf(ErrCorruptRecord, "%s: %d bytes", lastSeqKey, len(val))
		}
		hwm = binary.BigEndian.Uint64(val)
		_ = closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return 0, errors.Wrap(err, "get last seq")
	}

	iter, err := w.newIter()
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return hwm, iter.Error()
	}
	seq, err := parseKey(iter.Key())
	if err != nil {
		return 0, err
	}
	if seq > hwm {
		hwm = seq
	}
	return hwm, nil
}

func (w *ExitWAL) put(r *ExitRecord) error {
	return errors.Wrapf(w.db.Set(keyFor(r.Seq), encodeRecord(r), pebble.Sync), "put seq %d", r.Seq)
}

func (w *ExitWAL) update(seq uint64, fn func(*ExitRecord)) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	fn(rec)
	return w.put(rec)
}

// -------------------- Scan --------------------

// ScanByState iterates records in the given state in sequence order.
func (w *ExitWAL) ScanByState(state ExitState, fn func(*ExitRecord) error) error {
	return w.scan(func(r *ExitRecord) bool { return r.State == state }, fn)
}

// ScanPending iterates every record not yet acked in sequence order.
// It is used by the Broadcaster.
func (w *ExitWAL) ScanPending(fn func(*ExitRecord) error) error {
	return w.scan(func(r *ExitRecord) bool { return r.State.Pending() }, fn)
}

func (w *ExitWAL) scan(match func(*ExitRecord) bool, fn func(*ExitRecord) error) error {
	iter, err := w.newIter()
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if !match(rec) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// TruncateAckedUpTo deletes acked records with seq <= upTo and returns
// how many were removed. Pending records are kept whatever their seq.
func (w *ExitWAL) TruncateAckedUpTo(upTo uint64) (int, error) {
	b := w.db.NewBatch()
	defer b.Close()

	n := 0
	err := w.ScanByState(StateAcked, func(r *ExitRecord) error {
		if r.Seq > upTo {
			return errStopScan
		}
		n++
		return b.Delete(keyFor(r.Seq), nil)
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "commit truncate")
	}
	w.log.Debug("outbox truncated", zap.Uint64("up_to", upTo), zap.Int("removed", n))
	return n, nil
}

var errStopScan = errors.New("stop scan")

// -------------------- Helpers --------------------

const (
	keyPrefix = "trade/"
	// lastSeqKey sits outside the trade/ range so truncation never touches it.
	lastSeqKey = "meta/last_seq"
)

func (w *ExitWAL) newIter() (*pebble.Iterator, error) {
	return w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("trade/~"),
	})
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(b[len(keyPrefix):]), 10, 64)
	return seq, errors.Wrapf(err, "parse key %q", b)
}
