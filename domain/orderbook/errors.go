package orderbook

import "github.com/pkg/errors"

var (
	// ErrInvalidOrder rejects a submission before any state is touched.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderNotFound means the id was never issued.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotActive means the order is already filled or canceled.
	ErrOrderNotActive = errors.New("order not active")
)
