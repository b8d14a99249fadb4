package entry

import (
	"github.com/pkg/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in sequence order and returns
// the last sequence applied. A torn frame at the end of the newest
// segment is treated as the end of the journal; anywhere else it is
// corruption.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	return ReplayWithLimit(dir, DefaultMaxPayload, fn)
}

func ReplayWithLimit(dir string, maxPayload int, fn ReplayHandler) (lastSeq uint64, err error) {
	indexes, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for i, idx := range indexes {
		last := i == len(indexes)-1
		_, _, err := scanSegment(segmentPath(dir, idx), maxPayload, func(rec *Record) error {
			if rec.Seq <= lastSeq {
				return errors.Wrapf(ErrNonMonotonic, "seq %d after %d in segment %d", rec.Seq, lastSeq, idx)
			}
			if err := fn(rec); err != nil {
				return errors.Wrapf(err, "apply seq %d", rec.Seq)
			}
			lastSeq = rec.Seq
			return nil
		})
		if err != nil {
			if last && errors.Is(err, ErrTornTail) {
				return lastSeq, nil
			}
			return lastSeq, err
		}
	}
	return lastSeq, nil
}
