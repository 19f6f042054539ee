// Package book implements the in-memory price-level index: an ordered
// map from price to a FIFO queue of resting orders per side, plus an
// O(1) order_id -> location lookup for cancellation. It performs no
// I/O — the Engine is the only caller, and it owns the exclusive right
// to mutate a given OrderBook.
package book

import (
	"github.com/tidwall/btree"

	"fenrir/internal/domain"
	"fenrir/internal/money"
)

// priceLevel is the btree element: one FIFO queue of orders at a price.
type priceLevel struct {
	price  money.Price
	orders []*domain.Order
}

type levels = btree.BTreeG[*priceLevel]

type location struct {
	side  domain.Side
	price money.Price
}

// OrderBook is the in-memory price-level index for bids and asks.
// It is not safe for concurrent use by more than one goroutine at a time;
// the Engine's single writer owns it, and snapshots of it are taken by a
// task on that writer's queue (Engine.Snapshot).
type OrderBook struct {
	bids *levels // sorted highest price first
	asks *levels // sorted lowest price first

	lookup map[string]location // order_id.String() -> location
}

// New constructs an empty OrderBook.
func New() *OrderBook {
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool {
		// Sorted descending: best bid (highest price) first.
		return b.price.LessThan(a.price)
	})
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool {
		// Sorted ascending: best ask (lowest price) first.
		return a.price.LessThan(b.price)
	})
	return &OrderBook{
		bids:   bids,
		asks:   asks,
		lookup: make(map[string]location),
	}
}

// Clone returns a deep copy: every resting order is itself copied, so
// mutating the clone (as the matcher does) cannot affect b. Callers that
// need to attempt a match speculatively — discarding it if the resulting
// commit fails — clone first and only adopt the clone once the commit
// succeeds.
func (b *OrderBook) Clone() *OrderBook {
	out := New()
	cloneSide := func(src, dst *levels, side domain.Side) {
		src.Scan(func(pl *priceLevel) bool {
			orders := make([]*domain.Order, len(pl.orders))
			for i, o := range pl.orders {
				cp := *o
				orders[i] = &cp
				out.lookup[cp.ID.String()] = location{side: side, price: cp.Price}
			}
			dst.Set(&priceLevel{price: pl.price, orders: orders})
			return true
		})
	}
	cloneSide(b.bids, out.bids, domain.Buy)
	cloneSide(b.asks, out.asks, domain.Sell)
	return out
}

func (b *OrderBook) sideLevels(side domain.Side) *levels {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// Insert appends order to the tail of its side's price-level queue,
// creating the level if absent. Requires order.Remaining > 0 and that the
// order's id is not already indexed.
func (b *OrderBook) Insert(o *domain.Order) {
	key := o.ID.String()
	lv := b.sideLevels(o.Side)

	pl, ok := lv.Get(&priceLevel{price: o.Price})
	if !ok {
		pl = &priceLevel{price: o.Price}
		lv.Set(pl)
	}
	pl.orders = append(pl.orders, o)
	b.lookup[key] = location{side: o.Side, price: o.Price}
}

// Remove deletes the order from its level's queue. If the queue empties,
// the level itself is removed. Returns false if the id is unknown.
func (b *OrderBook) Remove(id string) bool {
	loc, ok := b.lookup[id]
	if !ok {
		return false
	}
	lv := b.sideLevels(loc.side)
	pl, ok := lv.Get(&priceLevel{price: loc.price})
	if !ok {
		delete(b.lookup, id)
		return false
	}
	for i, o := range pl.orders {
		if o.ID.String() == id {
			pl.orders = append(pl.orders[:i], pl.orders[i+1:]...)
			break
		}
	}
	if len(pl.orders) == 0 {
		lv.Delete(pl)
	}
	delete(b.lookup, id)
	return true
}

// PeekBest returns the first (earliest-arrived) order at the best price on
// the given side, or nil if that side is empty.
func (b *OrderBook) PeekBest(side domain.Side) *domain.Order {
	lv := b.sideLevels(side)
	pl, ok := lv.Min()
	if !ok || len(pl.orders) == 0 {
		return nil
	}
	return pl.orders[0]
}

// AdvanceBest pops the head of the best-price queue on the given side; if
// the queue empties, the level is removed. It is the Matcher's job to call
// this only once the head order is fully filled.
func (b *OrderBook) AdvanceBest(side domain.Side) {
	lv := b.sideLevels(side)
	pl, ok := lv.Min()
	if !ok || len(pl.orders) == 0 {
		return
	}
	head := pl.orders[0]
	delete(b.lookup, head.ID.String())
	pl.orders = pl.orders[1:]
	if len(pl.orders) == 0 {
		lv.Delete(pl)
	}
}

// BestBid returns the best (highest) bid and whether one exists.
func (b *OrderBook) BestBid() (*domain.Order, bool) {
	return b.bestOf(b.bids)
}

// BestAsk returns the best (lowest) ask and whether one exists.
func (b *OrderBook) BestAsk() (*domain.Order, bool) {
	return b.bestOf(b.asks)
}

func (b *OrderBook) bestOf(lv *levels) (*domain.Order, bool) {
	pl, ok := lv.Min()
	if !ok || len(pl.orders) == 0 {
		return nil, false
	}
	return pl.orders[0], true
}

// PriceLevelView is one aggregated row of a depth-N snapshot.
type PriceLevelView struct {
	Price      money.Price
	Quantity   int64
	OrderCount int
}

// Snapshot returns the top `depth` price levels per side, aggregated as
// (price, total_resting_quantity, order_count). Bids descending, asks
// ascending.
func (b *OrderBook) Snapshot(depth int) (bids, asks []PriceLevelView) {
	bids = aggregate(b.bids, depth)
	asks = aggregate(b.asks, depth)
	return bids, asks
}

func aggregate(lv *levels, depth int) []PriceLevelView {
	out := make([]PriceLevelView, 0, depth)
	lv.Scan(func(pl *priceLevel) bool {
		if len(out) >= depth {
			return false
		}
		var qty int64
		for _, o := range pl.orders {
			qty += o.Remaining
		}
		if qty == 0 {
			return true
		}
		out = append(out, PriceLevelView{
			Price:      pl.price,
			Quantity:   qty,
			OrderCount: len(pl.orders),
		})
		return true
	})
	return out
}

// Len returns the number of distinct orders currently indexed.
func (b *OrderBook) Len() int { return len(b.lookup) }
