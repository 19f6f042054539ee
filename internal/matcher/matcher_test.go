package matcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/book"
	"fenrir/internal/domain"
	"fenrir/internal/money"
)

func mustPrice(t *testing.T, s string) money.Price {
	t.Helper()
	p, err := money.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func newOrder(t *testing.T, side domain.Side, price string, qty int64) *domain.Order {
	t.Helper()
	return domain.NewOrder(uuid.New(), side, mustPrice(t, price), qty, uuid.New(), time.Now().UTC())
}

func TestMatch_NoCross_RestsUntouched(t *testing.T) {
	b := book.New()
	resting := newOrder(t, domain.Sell, "101.00", 50)
	b.Insert(resting)

	incoming := newOrder(t, domain.Buy, "100.00", 50)
	trades, _ := Match(incoming, b, time.Now().UTC())

	assert.Empty(t, trades)
	assert.Equal(t, int64(50), incoming.Remaining)
	assert.Equal(t, int64(50), resting.Remaining)
}

func TestMatch_FullFill_PriceImprovement(t *testing.T) {
	b := book.New()
	resting := newOrder(t, domain.Sell, "100.00", 50)
	b.Insert(resting)

	incoming := newOrder(t, domain.Buy, "101.00", 50)
	trades, _ := Match(incoming, b, time.Now().UTC())

	require.Len(t, trades, 1)
	assert.Equal(t, "100.00", trades[0].Price.String(), "trade must execute at the resting order's price")
	assert.Equal(t, int64(50), trades[0].Quantity)
	assert.Equal(t, incoming.ID, trades[0].BidOrderID)
	assert.Equal(t, resting.ID, trades[0].AskOrderID)

	assert.Equal(t, int64(0), incoming.Remaining)
	assert.Equal(t, domain.StatusFilled, incoming.Status)
	assert.Equal(t, int64(0), resting.Remaining)
	assert.Equal(t, domain.StatusFilled, resting.Status)

	_, ok := b.BestAsk()
	assert.False(t, ok, "fully filled resting order must be removed from the book")
}

func TestMatch_PartialFill_LeavesIncomingResting(t *testing.T) {
	b := book.New()
	resting := newOrder(t, domain.Sell, "100.00", 30)
	b.Insert(resting)

	incoming := newOrder(t, domain.Buy, "100.00", 50)
	trades, _ := Match(incoming, b, time.Now().UTC())

	require.Len(t, trades, 1)
	assert.Equal(t, int64(30), trades[0].Quantity)
	assert.Equal(t, int64(20), incoming.Remaining)
	assert.Equal(t, domain.StatusPartiallyFilled, incoming.Status)
	assert.Equal(t, int64(0), resting.Remaining)
}

func TestMatch_SweepsMultipleLevelsInPriceTimePriority(t *testing.T) {
	b := book.New()
	first := newOrder(t, domain.Sell, "100.00", 40)
	second := newOrder(t, domain.Sell, "100.00", 40)
	third := newOrder(t, domain.Sell, "101.00", 40)
	b.Insert(first)
	b.Insert(second)
	b.Insert(third)

	incoming := newOrder(t, domain.Buy, "101.00", 100)
	trades, _ := Match(incoming, b, time.Now().UTC())

	require.Len(t, trades, 3)
	assert.Equal(t, int64(40), trades[0].Quantity)
	assert.Equal(t, "100.00", trades[0].Price.String())
	assert.Equal(t, int64(40), trades[1].Quantity)
	assert.Equal(t, "100.00", trades[1].Price.String())
	assert.Equal(t, int64(20), trades[2].Quantity)
	assert.Equal(t, "101.00", trades[2].Price.String())

	assert.Equal(t, int64(0), incoming.Remaining)
	assert.Equal(t, int64(20), third.Remaining, "the deepest level is only partially consumed")
}

func TestMatch_SellCrossesBidsAtOrAboveItsPrice(t *testing.T) {
	b := book.New()
	resting := newOrder(t, domain.Buy, "100.00", 50)
	b.Insert(resting)

	incoming := newOrder(t, domain.Sell, "99.00", 50)
	trades, _ := Match(incoming, b, time.Now().UTC())

	require.Len(t, trades, 1)
	assert.Equal(t, "100.00", trades[0].Price.String())
	assert.Equal(t, resting.ID, trades[0].BidOrderID)
	assert.Equal(t, incoming.ID, trades[0].AskOrderID)
}
