package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"fenrir/internal/money"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// ParseSide parses the wire representation ("buy"/"sell") of a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, &ValidationError{Field: "side", Reason: "must be \"buy\" or \"sell\""}
	}
}

// Status is the order lifecycle state.
type Status string

const (
	StatusActive          Status = "ACTIVE"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
)

// MaxQuantity is the largest order quantity accepted.
const MaxQuantity = 1_000_000

// Order is the in-memory domain representation of a resting or historical
// limit order. It carries no I/O concerns; persistence is the
// Repository's job.
type Order struct {
	ID        uuid.UUID
	Side      Side
	Price     money.Price
	Quantity  int64 // original quantity Q
	Remaining int64 // R
	Traded    int64 // T = Q - R
	VWAP      money.VWAP
	Status    Status
	Active    bool
	UserID    uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder constructs a freshly-placed ACTIVE order with R=Q=qty.
func NewOrder(id uuid.UUID, side Side, price money.Price, qty int64, userID uuid.UUID, now time.Time) *Order {
	return &Order{
		ID:        id,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		Traded:    0,
		Status:    StatusActive,
		Active:    true,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyFill folds one fill of qty @ price into the order, updating
// Remaining/Traded/VWAP/Status/Active. This is the sole path by which an
// order's fill-derived fields change.
func (o *Order) ApplyFill(qty int64, price money.Price, now time.Time) {
	o.Remaining -= qty
	o.Traded += qty
	o.VWAP.Add(price, qty)
	o.UpdatedAt = now

	switch {
	case o.Remaining == 0:
		o.Status = StatusFilled
		o.Active = false
	case o.Traded > 0:
		o.Status = StatusPartiallyFilled
		o.Active = true
	}
}

// Rest marks a (possibly partially-filled) order as resting: ACTIVE if
// nothing has traded yet, otherwise the PARTIALLY_FILLED transition already
// performed by ApplyFill is left as-is.
func (o *Order) Rest(now time.Time) {
	if o.Traded == 0 {
		o.Status = StatusActive
	}
	o.Active = o.Remaining > 0
	o.UpdatedAt = now
}

// Cancel transitions the order to CANCELLED, removing it from the book
// logically (R is left as-is for audit purposes; Active becomes false).
func (o *Order) Cancel(now time.Time) {
	o.Status = StatusCancelled
	o.Active = false
	o.UpdatedAt = now
}

// Modifiable reports whether the order can still be modified or cancelled:
// it must not already be in a terminal state.
func (o *Order) Modifiable() bool {
	return o.Status != StatusFilled && o.Status != StatusCancelled
}

// ownerClock hands out strictly-increasing timestamps per owner, so
// timestamps stay monotonic within an owner even when two orders from
// the same owner are placed within the same wall-clock tick.
type ownerClock struct {
	mu   sync.Mutex
	last map[uuid.UUID]time.Time
}

func newOwnerClock() *ownerClock {
	return &ownerClock{last: make(map[uuid.UUID]time.Time)}
}

// Tick returns a timestamp guaranteed to be strictly after the previous
// timestamp issued for the same owner.
func (c *ownerClock) Tick(owner uuid.UUID) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := c.last[owner]; ok && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	c.last[owner] = now
	return now
}

// Clock is the process-wide per-owner monotonic clock used when placing or
// modifying orders.
var Clock = newOwnerClock()
