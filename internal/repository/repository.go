// Package repository defines the durable-storage contract the Engine
// commits through and provides two implementations: an in-memory store
// for tests and development, and a Postgres-backed store for production
// use.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fenrir/internal/domain"
)

// OrderFilter narrows a ListOrders query. Nil fields are unconstrained.
type OrderFilter struct {
	Status   *domain.Status
	Side     *domain.Side
	UserID   *uuid.UUID
	Page     int
	PageSize int
}

// OrderPage is one page of an ordered order listing, newest first.
type OrderPage struct {
	Orders []*domain.Order
	Total  int
}

// TradeFilter narrows a ListTrades query.
type TradeFilter struct {
	Page     int
	PageSize int
}

// TradePage is one page of a trade listing, most recent first.
type TradePage struct {
	Trades []domain.Trade
	Total  int
}

// Commit is the atomic unit of durability for one Engine command: the
// order the command acted on directly, every resting order the Matcher
// touched, and every trade the Matcher produced. The Repository MUST
// persist all of it or none of it.
type Commit struct {
	Primary *domain.Order
	Touched []*domain.Order
	Trades  []domain.Trade
}

// Repository is the durable read/write contract behind the Engine. All
// methods are safe for concurrent use; mutating methods must be atomic
// with respect to concurrent readers.
type Repository interface {
	// Commit persists one command's full effect set atomically.
	Commit(ctx context.Context, c Commit) error

	// GetOrder returns a single order by id, or a domain.NotFoundError.
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)

	// QueryOrders returns a filtered, paginated listing.
	QueryOrders(ctx context.Context, filter OrderFilter) (OrderPage, error)

	// QueryTrades returns a paginated listing of trades.
	QueryTrades(ctx context.Context, filter TradeFilter) (TradePage, error)

	// GetTrade returns a single trade by id, or a domain.NotFoundError.
	GetTrade(ctx context.Context, id uuid.UUID) (domain.Trade, error)

	// MarkTradeSettled sets the settlement flag and timestamp. It fails
	// with a domain.StateConflictError if the trade is already settled.
	MarkTradeSettled(ctx context.Context, id uuid.UUID, now time.Time) (domain.Trade, error)

	// LoadActiveOrders returns every order with Active && Remaining > 0,
	// ordered by (price ASC for asks, price DESC for bids, created_at ASC)
	// so the Engine can replay them into an empty OrderBook on startup.
	LoadActiveOrders(ctx context.Context) ([]*domain.Order, error)
}
