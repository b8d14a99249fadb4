package sequence

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrNotMonotonic is returned by Advance when the proposed value does not
// move the sequence forward.
var ErrNotMonotonic = errors.New("sequence value is not strictly increasing")

// Sequencer generates strictly monotonic sequence IDs.
// It is deterministic and replay-safe.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer starting from a given value.
// On fresh start → start = 0
// On replay → start = last replayed seq
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence ID.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Advance accepts an externally supplied value as the new last issued
// sequence. It fails unless v is greater than everything issued so far.
func (s *Sequencer) Advance(v uint64) error {
	for {
		cur := s.last.Load()
		if v <= cur {
			return errors.Wrapf(ErrNotMonotonic, "got %d, last issued %d", v, cur)
		}
		if s.last.CompareAndSwap(cur, v) {
			return nil
		}
	}
}

// Reset sets the sequencer to a specific value.
// This is ONLY used after WAL replay.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
