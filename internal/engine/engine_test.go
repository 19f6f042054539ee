package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/domain"
	"fenrir/internal/money"
	"fenrir/internal/repository"
)

func newTestEngine(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	repo := repository.NewMemory()
	e := New(repo, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var tb tomb.Tomb
	e.Start(ctx, &tb)
	t.Cleanup(func() {
		tb.Kill(nil)
		_ = tb.Wait()
	})
	return e, ctx
}

func price(t *testing.T, s string) money.Price {
	t.Helper()
	p, err := money.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func withDeadline(ctx context.Context, t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	t.Cleanup(cancel)
	return ctx
}

// S1 — no cross, rest on book.
func TestScenario_S1_NoCrossRestsOnBook(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	res, err := e.Place(ctx, domain.Buy, price(t, "100.00"), 10, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Order.Status)
	assert.Empty(t, res.Trades)

	bids, asks, _, err := e.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(10), bids[0].Quantity)
	assert.Empty(t, asks)
}

// S2 — full fill at resting price.
func TestScenario_S2_FullFillAtRestingPrice(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	sellRes, err := e.Place(ctx, domain.Sell, price(t, "101.00"), 5, uuid.New())
	require.NoError(t, err)

	buyRes, err := e.Place(ctx, domain.Buy, price(t, "101.50"), 5, uuid.New())
	require.NoError(t, err)

	require.Len(t, buyRes.Trades, 1)
	assert.Equal(t, "101.00", buyRes.Trades[0].Price.String())
	assert.Equal(t, int64(5), buyRes.Trades[0].Quantity)

	assert.Equal(t, domain.StatusFilled, buyRes.Order.Status)
	assert.Equal(t, "101.00", buyRes.Order.VWAP.Value().StringFixed(2))

	sellOrder, err := e.GetOrder(ctx, sellRes.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, sellOrder.Status)

	bids, asks, _, err := e.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

// S3 — partial fill, rester at new price.
func TestScenario_S3_PartialFill(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	_, err := e.Place(ctx, domain.Sell, price(t, "100.00"), 3, uuid.New())
	require.NoError(t, err)

	buyRes, err := e.Place(ctx, domain.Buy, price(t, "100.00"), 5, uuid.New())
	require.NoError(t, err)

	require.Len(t, buyRes.Trades, 1)
	assert.Equal(t, int64(3), buyRes.Trades[0].Quantity)
	assert.Equal(t, domain.StatusPartiallyFilled, buyRes.Order.Status)
	assert.Equal(t, int64(2), buyRes.Order.Remaining)
	assert.Equal(t, int64(3), buyRes.Order.Traded)
	assert.Equal(t, "100.00", buyRes.Order.VWAP.Value().StringFixed(2))

	bids, asks, _, err := e.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(2), bids[0].Quantity)
	assert.Empty(t, asks)
}

// S4 — multi-level sweep.
func TestScenario_S4_MultiLevelSweep(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	_, err := e.Place(ctx, domain.Sell, price(t, "100.00"), 4, uuid.New())
	require.NoError(t, err)
	_, err = e.Place(ctx, domain.Sell, price(t, "100.50"), 4, uuid.New())
	require.NoError(t, err)
	_, err = e.Place(ctx, domain.Sell, price(t, "101.00"), 4, uuid.New())
	require.NoError(t, err)

	buyRes, err := e.Place(ctx, domain.Buy, price(t, "101.00"), 10, uuid.New())
	require.NoError(t, err)

	require.Len(t, buyRes.Trades, 3)
	assert.Equal(t, "100.00", buyRes.Trades[0].Price.String())
	assert.Equal(t, int64(4), buyRes.Trades[0].Quantity)
	assert.Equal(t, "100.50", buyRes.Trades[1].Price.String())
	assert.Equal(t, int64(4), buyRes.Trades[1].Quantity)
	assert.Equal(t, "101.00", buyRes.Trades[2].Price.String())
	assert.Equal(t, int64(2), buyRes.Trades[2].Quantity)

	assert.Equal(t, domain.StatusFilled, buyRes.Order.Status)
	assert.Equal(t, "100.40", buyRes.Order.VWAP.Value().StringFixed(2))

	_, asks, _, err := e.Snapshot(ctx, 5)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	assert.Equal(t, "101.00", asks[0].Price.String())
	assert.Equal(t, int64(2), asks[0].Quantity)
}

// S5 — time priority at one level.
func TestScenario_S5_TimePriority(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	a, err := e.Place(ctx, domain.Sell, price(t, "100.00"), 2, uuid.New())
	require.NoError(t, err)
	b, err := e.Place(ctx, domain.Sell, price(t, "100.00"), 2, uuid.New())
	require.NoError(t, err)

	buyRes, err := e.Place(ctx, domain.Buy, price(t, "100.00"), 3, uuid.New())
	require.NoError(t, err)

	require.Len(t, buyRes.Trades, 2)
	assert.Equal(t, int64(2), buyRes.Trades[0].Quantity)
	assert.Equal(t, int64(1), buyRes.Trades[1].Quantity)

	aOrder, err := e.GetOrder(ctx, a.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, aOrder.Status)

	bOrder, err := e.GetOrder(ctx, b.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyFilled, bOrder.Status)
	assert.Equal(t, int64(1), bOrder.Remaining)
}

// S6 — modify resets priority.
func TestScenario_S6_ModifyResetsPriority(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	a, err := e.Place(ctx, domain.Sell, price(t, "100.00"), 2, uuid.New())
	require.NoError(t, err)
	_, err = e.Place(ctx, domain.Sell, price(t, "100.00"), 2, uuid.New())
	require.NoError(t, err)

	_, err = e.Modify(ctx, a.Order.ID, price(t, "100.00"))
	require.NoError(t, err)

	buyRes, err := e.Place(ctx, domain.Buy, price(t, "100.00"), 2, uuid.New())
	require.NoError(t, err)

	require.Len(t, buyRes.Trades, 1)
	assert.NotEqual(t, a.Order.ID, buyRes.Trades[0].AskOrderID, "the re-inserted order must rest behind the untouched one")

	_, asks, _, err := e.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	assert.Equal(t, int64(2), asks[0].Quantity)
}

func TestCancel_RemovesFromBookAndTerminal(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	res, err := e.Place(ctx, domain.Buy, price(t, "100.00"), 10, uuid.New())
	require.NoError(t, err)

	cancelRes, err := e.Cancel(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelRes.Order.Status)

	bids, _, _, err := e.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, bids)

	_, err = e.Cancel(ctx, res.Order.ID)
	assert.Error(t, err, "cancelling an already-cancelled order is a state conflict")
}

func TestModify_RejectsTerminalOrder(t *testing.T) {
	e, ctx := newTestEngine(t)
	ctx = withDeadline(ctx, t)

	res, err := e.Place(ctx, domain.Buy, price(t, "100.00"), 10, uuid.New())
	require.NoError(t, err)
	_, err = e.Cancel(ctx, res.Order.ID)
	require.NoError(t, err)

	_, err = e.Modify(ctx, res.Order.ID, price(t, "101.00"))
	require.Error(t, err)
}

func TestRecover_ReplaysActiveOrders(t *testing.T) {
	repo := repository.NewMemory()
	first := New(repo, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var tb tomb.Tomb
	first.Start(ctx, &tb)

	_, err := first.Place(withDeadline(ctx, t), domain.Buy, price(t, "99.00"), 10, uuid.New())
	require.NoError(t, err)

	tb.Kill(nil)
	_ = tb.Wait()

	second := New(repo, DefaultConfig())
	require.NoError(t, second.Recover(context.Background()))

	var tb2 tomb.Tomb
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	second.Start(ctx2, &tb2)
	defer func() {
		tb2.Kill(nil)
		_ = tb2.Wait()
	}()

	bids, _, _, err := second.Snapshot(withDeadline(ctx2, t), 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, "99.00", bids[0].Price.String())
	assert.Equal(t, int64(10), bids[0].Quantity)
}
