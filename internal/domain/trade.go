package domain

import (
	"time"

	"github.com/google/uuid"

	"fenrir/internal/money"
)

// Trade is the immutable (except for settlement) record of one execution
// between a resting order and an aggressor.
type Trade struct {
	ID         uuid.UUID   `json:"trade_id"`
	Price      money.Price `json:"price"`
	Quantity   int64       `json:"quantity"`
	BidOrderID uuid.UUID   `json:"bid_order_id"` // OB: the buy-side order
	AskOrderID uuid.UUID   `json:"ask_order_id"` // OA: the sell-side order
	ExecutedAt time.Time   `json:"executed_at"`
	Settled    bool        `json:"settled"`
	SettledAt  *time.Time  `json:"settled_at,omitempty"`
}

// NewTrade constructs a Trade executed at the resting order's price
// (the price-improvement rule).
func NewTrade(id uuid.UUID, price money.Price, qty int64, bidOrderID, askOrderID uuid.UUID, now time.Time) Trade {
	return Trade{
		ID:         id,
		Price:      price,
		Quantity:   qty,
		BidOrderID: bidOrderID,
		AskOrderID: askOrderID,
		ExecutedAt: now,
	}
}

// Settle marks the trade as settled. Callers must check !Settled first;
// settling an already-settled trade is a StateConflictError at the Engine
// layer, not something Trade itself silently allows.
func (t *Trade) Settle(now time.Time) {
	t.Settled = true
	t.SettledAt = &now
}
