// Package matcher implements price-time-priority matching against an
// internal/book.OrderBook. It is a pure function over its inputs: given
// an incoming order and a book, it returns the trades that result and
// mutates only the order objects it is handed (fill bookkeeping) and
// the book (removing orders it fully consumes). It never touches a
// Repository or emits anything itself — the Engine collects the
// returned trades and is solely responsible for persisting them.
package matcher

import (
	"time"

	"github.com/google/uuid"

	"fenrir/internal/book"
	"fenrir/internal/domain"
	"fenrir/internal/money"
)

// NextTradeID is overridable in tests; defaults to uuid.New.
var NextTradeID = uuid.New

// Match sweeps incoming against the resting side of b it crosses, filling
// both incoming and whichever resting orders it touches in strict
// price-time priority. Every resulting trade executes at the RESTING
// order's price (the price-improvement rule) — incoming never pays
// worse than what it asked for.
//
// Orders fully consumed on the resting side are popped from b. incoming is
// never inserted into b; if it rests after the sweep, that is the
// caller's job.
func Match(incoming *domain.Order, b *book.OrderBook, now time.Time) (trades []domain.Trade, touched []*domain.Order) {
	restingSide := opposite(incoming.Side)
	for incoming.Remaining > 0 {
		resting := b.PeekBest(restingSide)
		if resting == nil || !crosses(incoming, resting) {
			break
		}

		qty := min(incoming.Remaining, resting.Remaining)
		price := resting.Price

		incoming.ApplyFill(qty, price, now)
		resting.ApplyFill(qty, price, now)

		trades = append(trades, newTrade(incoming, resting, qty, price, now))
		touched = append(touched, resting)

		if resting.Remaining == 0 {
			b.AdvanceBest(restingSide)
		}
	}

	return trades, touched
}

func opposite(s domain.Side) domain.Side {
	if s == domain.Buy {
		return domain.Sell
	}
	return domain.Buy
}

// crosses reports whether incoming's limit price crosses resting's price:
// a buy crosses any ask at or below its price, a sell crosses any bid at
// or above its price.
func crosses(incoming, resting *domain.Order) bool {
	if incoming.Side == domain.Buy {
		return incoming.Price.GreaterOrEqual(resting.Price)
	}
	return resting.Price.GreaterOrEqual(incoming.Price)
}

// newTrade builds the Trade record for one fill, assigning bid/ask order
// ids by side rather than by taker/maker role — a Trade names the buy
// order and the sell order, not the aggressor.
func newTrade(incoming, resting *domain.Order, qty int64, price money.Price, now time.Time) domain.Trade {
	var bidID, askID uuid.UUID
	if incoming.Side == domain.Buy {
		bidID, askID = incoming.ID, resting.ID
	} else {
		bidID, askID = resting.ID, incoming.ID
	}
	return domain.NewTrade(NextTradeID(), price, qty, bidID, askID, now)
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
