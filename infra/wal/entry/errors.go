package entry

import "github.com/pkg/errors"

var (
	ErrClosed          = errors.New("journal closed")
	ErrChecksum        = errors.New("journal checksum mismatch")
	ErrPayloadTooLarge = errors.New("journal payload too large")
	ErrNonMonotonic    = errors.New("journal sequence not monotonic")
	// ErrTornTail reports a frame cut short by a crash mid-write.
	ErrTornTail = errors.New("journal torn tail")
	// ErrFailed is returned once a failed write could not be rolled back.
	// The segment may hold a frame the caller was told failed, so the
	// journal refuses further appends until it is reopened.
	ErrFailed = errors.New("journal failed")
)
