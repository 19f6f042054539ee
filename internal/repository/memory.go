package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fenrir/internal/domain"
)

// Memory is an in-process Repository backed by maps, guarded by a single
// mutex. It exists for unit tests and local development — it gives up
// durability across restarts entirely, which the Postgres implementation
// is required to provide.
type Memory struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	trades map[uuid.UUID]domain.Trade
}

// NewMemory constructs an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		orders: make(map[uuid.UUID]*domain.Order),
		trades: make(map[uuid.UUID]domain.Trade),
	}
}

func (m *Memory) Commit(_ context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Primary != nil {
		cp := *c.Primary
		m.orders[cp.ID] = &cp
	}
	for _, o := range c.Touched {
		cp := *o
		m.orders[cp.ID] = &cp
	}
	for _, t := range c.Trades {
		m.trades[t.ID] = t
	}
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "order", ID: id.String()}
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) QueryOrders(_ context.Context, filter OrderFilter) (OrderPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if filter.Side != nil && o.Side != *filter.Side {
			continue
		}
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		cp := *o
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Page, filter.PageSize), nil
}

func paginate(all []*domain.Order, page, pageSize int) OrderPage {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return OrderPage{Orders: []*domain.Order{}, Total: len(all)}
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return OrderPage{Orders: all[start:end], Total: len(all)}
}

func (m *Memory) QueryTrades(_ context.Context, filter TradeFilter) (TradePage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]domain.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ExecutedAt.After(all[j].ExecutedAt)
	})

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return TradePage{Trades: []domain.Trade{}, Total: len(all)}, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return TradePage{Trades: all[start:end], Total: len(all)}, nil
}

func (m *Memory) GetTrade(_ context.Context, id uuid.UUID) (domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trades[id]
	if !ok {
		return domain.Trade{}, &domain.NotFoundError{Kind: "trade", ID: id.String()}
	}
	return t, nil
}

func (m *Memory) MarkTradeSettled(_ context.Context, id uuid.UUID, now time.Time) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[id]
	if !ok {
		return domain.Trade{}, &domain.NotFoundError{Kind: "trade", ID: id.String()}
	}
	if t.Settled {
		return domain.Trade{}, &domain.StateConflictError{Reason: "trade already settled"}
	}
	t.Settle(now)
	m.trades[id] = t
	return t, nil
}

func (m *Memory) LoadActiveOrders(_ context.Context) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*domain.Order
	for _, o := range m.orders {
		if o.Active && o.Remaining > 0 {
			cp := *o
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		if !a.Price.Equal(b.Price) {
			if a.Side == domain.Sell {
				return a.Price.LessThan(b.Price)
			}
			return a.Price.GreaterThan(b.Price)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return active, nil
}
