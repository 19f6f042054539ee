package book

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/domain"
	"fenrir/internal/money"
)

func mustPrice(t *testing.T, s string) money.Price {
	t.Helper()
	p, err := money.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func newTestOrder(t *testing.T, side domain.Side, price string, qty int64) *domain.Order {
	t.Helper()
	return domain.NewOrder(uuid.New(), side, mustPrice(t, price), qty, uuid.New(), time.Now().UTC())
}

func TestInsert_SameLevelFIFO(t *testing.T) {
	b := New()
	o1 := newTestOrder(t, domain.Buy, "99.00", 100)
	o2 := newTestOrder(t, domain.Buy, "99.00", 90)
	b.Insert(o1)
	b.Insert(o2)

	assert.Equal(t, o1.ID, b.PeekBest(domain.Buy).ID, "earlier order at the same price must be peeked first")
	assert.Equal(t, 2, b.Len())
}

func TestInsert_PriceOrdering(t *testing.T) {
	b := New()
	low := newTestOrder(t, domain.Sell, "101.00", 20)
	high := newTestOrder(t, domain.Sell, "100.00", 100)
	b.Insert(low)
	b.Insert(high)

	best := b.PeekBest(domain.Sell)
	assert.Equal(t, high.ID, best.ID, "asks must be ordered ascending by price")

	bid1 := newTestOrder(t, domain.Buy, "98.00", 50)
	bid2 := newTestOrder(t, domain.Buy, "99.00", 50)
	b.Insert(bid1)
	b.Insert(bid2)
	assert.Equal(t, bid2.ID, b.PeekBest(domain.Buy).ID, "bids must be ordered descending by price")
}

func TestRemove(t *testing.T) {
	b := New()
	o1 := newTestOrder(t, domain.Buy, "99.00", 100)
	o2 := newTestOrder(t, domain.Buy, "99.00", 90)
	b.Insert(o1)
	b.Insert(o2)

	assert.True(t, b.Remove(o1.ID.String()))
	assert.Equal(t, o2.ID, b.PeekBest(domain.Buy).ID)
	assert.Equal(t, 1, b.Len())

	assert.False(t, b.Remove(uuid.New().String()), "removing an unknown id reports false")
}

func TestRemove_EmptiesLevel(t *testing.T) {
	b := New()
	o := newTestOrder(t, domain.Sell, "100.00", 20)
	b.Insert(o)
	assert.True(t, b.Remove(o.ID.String()))

	_, ok := b.BestAsk()
	assert.False(t, ok, "removing the only order at a level must remove the level itself")
}

func TestAdvanceBest(t *testing.T) {
	b := New()
	o1 := newTestOrder(t, domain.Sell, "100.00", 100)
	o2 := newTestOrder(t, domain.Sell, "100.00", 90)
	o3 := newTestOrder(t, domain.Sell, "101.00", 20)
	b.Insert(o1)
	b.Insert(o2)
	b.Insert(o3)

	b.AdvanceBest(domain.Sell)
	assert.Equal(t, o2.ID, b.PeekBest(domain.Sell).ID)

	b.AdvanceBest(domain.Sell)
	assert.Equal(t, o3.ID, b.PeekBest(domain.Sell).ID, "advancing past the last order on a level moves to the next level")
}

func TestSnapshot_AggregatesByLevelAndRespectsDepth(t *testing.T) {
	b := New()
	b.Insert(newTestOrder(t, domain.Buy, "99.00", 100))
	b.Insert(newTestOrder(t, domain.Buy, "99.00", 90))
	b.Insert(newTestOrder(t, domain.Buy, "98.00", 50))
	b.Insert(newTestOrder(t, domain.Buy, "97.00", 10))

	bids, _ := b.Snapshot(2)
	require.Len(t, bids, 2)
	assert.Equal(t, "99.00", bids[0].Price.String())
	assert.Equal(t, int64(190), bids[0].Quantity)
	assert.Equal(t, 2, bids[0].OrderCount)
	assert.Equal(t, "98.00", bids[1].Price.String())
	assert.Equal(t, int64(50), bids[1].Quantity)
}
