package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook_BidBestIsHighest(t *testing.T) {
	b := NewBook(Bid)
	assert.Nil(t, b.Best())
	assert.True(t, b.Empty())

	b.Add(newRestingOrder(1, Bid, "100", 1))
	b.Add(newRestingOrder(2, Bid, "101", 1))
	b.Add(newRestingOrder(3, Bid, "99.5", 1))
	b.Add(newRestingOrder(4, Bid, "101.0", 1))

	require.NotNil(t, b.Best())
	assert.True(t, b.Best().Price.Equal(px("101")))
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 2, b.Level(px("101")).Len())

	prices := []string{}
	b.Walk(func(lvl *PriceLevel) bool {
		prices = append(prices, lvl.Price.String())
		return true
	})
	assert.Equal(t, []string{"101", "100", "99.5"}, prices)
}

func TestBook_AskBestIsLowest(t *testing.T) {
	b := NewBook(Ask)
	b.Add(newRestingOrder(1, Ask, "101", 1))
	b.Add(newRestingOrder(2, Ask, "100", 1))
	b.Add(newRestingOrder(3, Ask, "102", 1))

	assert.True(t, b.Best().Price.Equal(px("100")))
}

func TestBook_RemoveLevelRecomputesBest(t *testing.T) {
	b := NewBook(Ask)
	b.Add(newRestingOrder(1, Ask, "101", 1))
	b.Add(newRestingOrder(2, Ask, "100", 1))
	b.Add(newRestingOrder(3, Ask, "102", 1))

	// removing a non-best level leaves best untouched
	b.RemoveLevel(px("102"))
	assert.True(t, b.Best().Price.Equal(px("100")))

	b.RemoveLevel(px("100"))
	assert.True(t, b.Best().Price.Equal(px("101")))
	assert.Nil(t, b.Level(px("100")))

	b.RemoveLevel(px("101"))
	assert.Nil(t, b.Best())
	assert.Zero(t, b.Len())

	_, err := b.checkInvariants()
	assert.NoError(t, err)
}

func TestBook_RemoveMissingLevelPanics(t *testing.T) {
	b := NewBook(Bid)
	assert.Panics(t, func() { b.RemoveLevel(px("1")) })
}

func TestBook_AddWrongSidePanics(t *testing.T) {
	b := NewBook(Bid)
	assert.Panics(t, func() { b.Add(newRestingOrder(1, Ask, "1", 1)) })
}

func TestBook_Crosses(t *testing.T) {
	asks := NewBook(Ask)
	// incoming buy limited at 10.5
	assert.True(t, asks.Crosses(px("10.5"), px("10.4")))
	assert.True(t, asks.Crosses(px("10.5"), px("10.5")))
	assert.False(t, asks.Crosses(px("10.5"), px("10.6")))

	bids := NewBook(Bid)
	// incoming sell limited at 10.5
	assert.True(t, bids.Crosses(px("10.5"), px("10.6")))
	assert.True(t, bids.Crosses(px("10.5"), px("10.5")))
	assert.False(t, bids.Crosses(px("10.5"), px("10.4")))
}

func TestBook_CustomComparator(t *testing.T) {
	// the ranking rule is the only thing separating the sides
	b := newBookWithComparator(Bid, LowerIsBetter)
	b.Add(newRestingOrder(1, Bid, "5", 1))
	b.Add(newRestingOrder(2, Bid, "3", 1))
	assert.True(t, b.Best().Price.Equal(px("3")))
}
