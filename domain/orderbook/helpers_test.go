package orderbook

import (
	"testing"

	"limitbook/infra/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func getTestMarket(t *testing.T) *Market {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.CheckInvariants = true
	return NewMarket(logging.NewTestLogger(), cfg)
}

func px(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustSubmit(t *testing.T, m *Market, side Side, qty int64, price string, arrival uint64) uint64 {
	t.Helper()
	id, err := m.Submit(side, qty, px(price), arrival)
	require.NoError(t, err)
	return id
}

func mustOrder(t *testing.T, m *Market, id uint64) *Order {
	t.Helper()
	o, ok := m.registry[id]
	require.True(t, ok, "order %d not registered", id)
	return o
}

func chainIDs(lvl *PriceLevel) []uint64 {
	ids := []uint64{}
	for o := lvl.Head(); o != nil; o = o.Next() {
		ids = append(ids, o.ID)
	}
	return ids
}

func newRestingOrder(id uint64, side Side, price string, qty int64) *Order {
	return &Order{
		ID:     id,
		Side:   side,
		Price:  px(price),
		Qty:    qty,
		Leaves: qty,
		SeqID:  id,
	}
}
