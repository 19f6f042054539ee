// Package engine implements the top-level serializer and coordinator: a
// single logical writer per instrument that applies place/modify/cancel
// commands to an in-memory OrderBook and commits their effects to a
// Repository, one command at a time, in arrival order. Matching runs
// synchronously inline with each command rather than on a detached
// worker, so a command's effects are fully known before it returns.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/domain"
	"fenrir/internal/matcher"
	"fenrir/internal/metrics"
	"fenrir/internal/money"
	"fenrir/internal/repository"
)

// Config tunes the writer's queue depth, commit retry policy, and the
// default deadline applied to commands that don't set their own.
type Config struct {
	QueueDepth      int
	DefaultDeadline time.Duration
	MaxCommitTries  uint64
}

// DefaultConfig returns sane defaults for production use.
func DefaultConfig() Config {
	return Config{
		QueueDepth:      256,
		DefaultDeadline: 2 * time.Second,
		MaxCommitTries:  5,
	}
}

// PlaceResult is the outcome of a place command.
type PlaceResult struct {
	Order  *domain.Order
	Trades []domain.Trade
}

// ModifyResult is the outcome of a modify command.
type ModifyResult struct {
	Order *domain.Order
}

// CancelResult is the outcome of a cancel command.
type CancelResult struct {
	Order *domain.Order
}

// task is one unit of work handed to the writer goroutine. execute runs on
// the writer and must not block; result is delivered exactly once.
type task struct {
	deadline time.Time
	execute  func(ctx context.Context) (any, error)
	result   chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// Engine is the single-writer coordinator for one instrument's book.
type Engine struct {
	repo repository.Repository
	cfg  Config

	book *book.OrderBook
	cmds chan *task

	t       *tomb.Tomb
	metrics *metrics.Metrics
}

// SetMetrics attaches Prometheus instrumentation; nil is safe and is the
// default (no metrics recorded).
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// observe records one command's outcome and latency, tolerating a nil
// metrics attachment.
func (e *Engine) observe(command string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.CommandsTotal.WithLabelValues(command, outcome).Inc()
	e.metrics.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	e.metrics.QueueDepth.Set(float64(len(e.cmds)))
}

// New constructs an Engine. Callers must call Start before submitting
// commands, and Recover first if resuming from a non-empty Repository.
func New(repo repository.Repository, cfg Config) *Engine {
	return &Engine{
		repo: repo,
		cfg:  cfg,
		book: book.New(),
		cmds: make(chan *task, cfg.QueueDepth),
	}
}

// Recover scans the Repository for every order with Active && Remaining >
// 0 and reinserts them into the (empty) book in the order the Repository
// already returns them in: (price, created_at) per side. Must be called
// before Start, before any command is submitted.
func (e *Engine) Recover(ctx context.Context) error {
	active, err := e.repo.LoadActiveOrders(ctx)
	if err != nil {
		return &domain.InternalError{Reason: "loading active orders for recovery", Cause: err}
	}
	for _, o := range active {
		e.book.Insert(o)
	}
	log.Info().Int("orders", len(active)).Msg("engine recovered active orders")
	return nil
}

// Start launches the writer loop under t, returning once it is running.
// The loop exits when ctx is cancelled or t is killed.
func (e *Engine) Start(ctx context.Context, t *tomb.Tomb) {
	e.t = t
	t.Go(func() error {
		return e.run(ctx, t)
	})
}

func (e *Engine) run(ctx context.Context, t *tomb.Tomb) error {
	log.Info().Msg("engine writer started")
	for {
		select {
		case <-t.Dying():
			log.Info().Msg("engine writer stopping")
			return nil
		case tk := <-e.cmds:
			e.handle(ctx, tk)
		}
	}
}

func (e *Engine) handle(ctx context.Context, tk *task) {
	if !tk.deadline.IsZero() && time.Now().After(tk.deadline) {
		tk.result <- taskResult{err: &domain.TimeoutError{Reason: "command exceeded deadline while queued"}}
		return
	}
	value, err := tk.execute(ctx)
	tk.result <- taskResult{value: value, err: err}
}

// submit enqueues fn and blocks for its result, respecting ctx
// cancellation while waiting for a writer slot. A full queue applies
// backpressure to the caller here.
func (e *Engine) submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	deadline, ok := ctx.Deadline()
	if !ok && e.cfg.DefaultDeadline > 0 {
		deadline = time.Now().Add(e.cfg.DefaultDeadline)
	}
	tk := &task{
		deadline: deadline,
		execute:  fn,
		result:   make(chan taskResult, 1),
	}
	select {
	case e.cmds <- tk:
	case <-ctx.Done():
		return nil, &domain.TimeoutError{Reason: "command queue full or caller cancelled before submission"}
	}
	select {
	case r := <-tk.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, &domain.TimeoutError{Reason: "context cancelled while command was executing"}
	}
}

// Place creates a new ACTIVE order, matches it against the book, and
// commits the order plus every trade and touched resting order in one
// atomic step.
func (e *Engine) Place(ctx context.Context, side domain.Side, price money.Price, qty int64, userID uuid.UUID) (*PlaceResult, error) {
	start := time.Now()
	if err := validatePlace(side, price, qty); err != nil {
		e.observe("place", start, err)
		return nil, err
	}
	v, err := e.submit(ctx, func(ctx context.Context) (any, error) {
		now := domain.Clock.Tick(userID)
		order := domain.NewOrder(uuid.New(), side, price, qty, userID, now)

		working := e.book.Clone()
		trades, touched := matcher.Match(order, working, now)
		if order.Remaining > 0 {
			working.Insert(order)
		}

		if err := e.commit(ctx, repository.Commit{Primary: order, Touched: touched, Trades: trades}); err != nil {
			return nil, err
		}
		e.book = working
		if e.metrics != nil {
			e.metrics.TradesTotal.Add(float64(len(trades)))
		}
		return &PlaceResult{Order: order, Trades: trades}, nil
	})
	e.observe("place", start, err)
	if err != nil {
		return nil, err
	}
	return v.(*PlaceResult), nil
}

// Modify logically cancels order_id from the book and re-inserts it at
// new_price, with a fresh arrival time — the order loses its place in
// time priority even if new_price equals the old price. It then
// re-runs the matcher, since the new price may now cross the book.
func (e *Engine) Modify(ctx context.Context, orderID uuid.UUID, newPrice money.Price) (*ModifyResult, error) {
	start := time.Now()
	v, err := e.submit(ctx, func(ctx context.Context) (any, error) {
		order, err := e.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !order.Modifiable() {
			return nil, &domain.StateConflictError{Reason: fmt.Sprintf("order %s is %s and cannot be modified", orderID, order.Status)}
		}

		working := e.book.Clone()
		working.Remove(orderID.String())

		now := domain.Clock.Tick(order.UserID)
		order.Price = newPrice
		order.CreatedAt = now
		order.UpdatedAt = now

		trades, touched := matcher.Match(order, working, now)
		if order.Remaining > 0 {
			order.Rest(now)
			working.Insert(order)
		}

		if err := e.commit(ctx, repository.Commit{Primary: order, Touched: touched, Trades: trades}); err != nil {
			return nil, err
		}
		e.book = working
		if e.metrics != nil {
			e.metrics.TradesTotal.Add(float64(len(trades)))
		}
		return &ModifyResult{Order: order}, nil
	})
	e.observe("modify", start, err)
	if err != nil {
		return nil, err
	}
	return v.(*ModifyResult), nil
}

// Cancel removes order_id from the book and marks it CANCELLED.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID) (*CancelResult, error) {
	start := time.Now()
	v, err := e.submit(ctx, func(ctx context.Context) (any, error) {
		order, err := e.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !order.Modifiable() {
			return nil, &domain.StateConflictError{Reason: fmt.Sprintf("order %s is %s and cannot be cancelled", orderID, order.Status)}
		}

		working := e.book.Clone()
		working.Remove(orderID.String())
		order.Cancel(domain.Clock.Tick(order.UserID))

		if err := e.commit(ctx, repository.Commit{Primary: order}); err != nil {
			return nil, err
		}
		e.book = working
		return &CancelResult{Order: order}, nil
	})
	e.observe("cancel", start, err)
	if err != nil {
		return nil, err
	}
	return v.(*CancelResult), nil
}

// Snapshot returns a depth-N view of the book, sequenced through the same
// writer queue as every mutation so it cannot observe a book mid-match,
// implemented as a read-only task on the existing serial queue rather
// than a second lock.
func (e *Engine) Snapshot(ctx context.Context, depth int) (bids, asks []book.PriceLevelView, ts time.Time, err error) {
	v, err := e.submit(ctx, func(ctx context.Context) (any, error) {
		b, a := e.book.Snapshot(depth)
		return snapshotResult{bids: b, asks: a, ts: time.Now().UTC()}, nil
	})
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	sr := v.(snapshotResult)
	return sr.bids, sr.asks, sr.ts, nil
}

type snapshotResult struct {
	bids, asks []book.PriceLevelView
	ts         time.Time
}

// GetOrder, ListOrders, ListTrades, GetTrade and SettleTrade call the
// Repository directly and bypass the writer queue entirely — they never
// touch the in-memory book.
func (e *Engine) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return e.repo.GetOrder(ctx, id)
}

func (e *Engine) ListOrders(ctx context.Context, filter repository.OrderFilter) (repository.OrderPage, error) {
	return e.repo.QueryOrders(ctx, filter)
}

func (e *Engine) ListTrades(ctx context.Context, filter repository.TradeFilter) (repository.TradePage, error) {
	return e.repo.QueryTrades(ctx, filter)
}

func (e *Engine) GetTrade(ctx context.Context, id uuid.UUID) (domain.Trade, error) {
	return e.repo.GetTrade(ctx, id)
}

func (e *Engine) SettleTrade(ctx context.Context, id uuid.UUID) (domain.Trade, error) {
	return e.repo.MarkTradeSettled(ctx, id, time.Now().UTC())
}

// commit persists c with bounded exponential backoff, converting
// exhaustion to an InternalError. commit only ever runs against the
// working-copy book built for this command, so the live book (e.book)
// has not yet been touched and needs no rollback.
func (e *Engine) commit(ctx context.Context, c repository.Commit) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.cfg.MaxCommitTries), ctx)
	err := backoff.Retry(func() error {
		return e.repo.Commit(ctx, c)
	}, policy)
	if err != nil {
		return &domain.InternalError{Reason: "committing order/trade state", Cause: err}
	}
	return nil
}

// validatePlace checks the invariants that depend only on qty; side and
// price arrive already validated by domain.ParseSide and
// money.NewPrice/ParsePrice.
func validatePlace(_ domain.Side, _ money.Price, qty int64) error {
	if qty <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if qty > domain.MaxQuantity {
		return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("must not exceed %d", domain.MaxQuantity)}
	}
	return nil
}
