// Package snapshot produces the depth-N book view and recent-trades view
// consumed by read-only callers: the GetSnapshot command and the
// WebSocket push stream's two 1Hz channels.
package snapshot

import (
	"context"
	"time"

	"fenrir/internal/book"
	"fenrir/internal/domain"
	"fenrir/internal/engine"
	"fenrir/internal/repository"
)

// PriceLevel is one aggregated row of a depth view.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

// Depth is a `{bids, asks}` view of the book at a single logical instant.
type Depth struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
	TS   time.Time    `json:"ts"`
	N    int          `json:"depth"`
}

// PushDepth is the fixed depth-5 book view broadcast on the snapshot push
// channel.
const PushDepth = 5

// PushTradeCount is the number of most recent trades broadcast on the
// trades push channel.
const PushTradeCount = 5

// Service reads an Engine and Repository to build push-stream payloads. It
// performs no matching and holds no book state of its own.
type Service struct {
	eng  *engine.Engine
	repo repository.Repository
}

// New constructs a Service over eng (for live book depth) and repo (for
// historical trade listings).
func New(eng *engine.Engine, repo repository.Repository) *Service {
	return &Service{eng: eng, repo: repo}
}

// GetSnapshot returns the top `depth` levels per side, 1 <= depth <= 20.
func (s *Service) GetSnapshot(ctx context.Context, depth int) (Depth, error) {
	if depth < 1 || depth > 20 {
		return Depth{}, &domain.ValidationError{Field: "depth", Reason: "must be between 1 and 20"}
	}
	bids, asks, ts, err := s.eng.Snapshot(ctx, depth)
	if err != nil {
		return Depth{}, err
	}
	return Depth{Bids: toLevels(bids), Asks: toLevels(asks), TS: ts, N: depth}, nil
}

func toLevels(views []book.PriceLevelView) []PriceLevel {
	out := make([]PriceLevel, len(views))
	for i, v := range views {
		out[i] = PriceLevel{Price: v.Price.String(), Quantity: v.Quantity}
	}
	return out
}

// RecentTrades returns the n most recently executed trades, most recent
// first, for the trades push channel.
func (s *Service) RecentTrades(ctx context.Context, n int) ([]domain.Trade, error) {
	page, err := s.repo.QueryTrades(ctx, repository.TradeFilter{Page: 1, PageSize: n})
	if err != nil {
		return nil, err
	}
	return page.Trades, nil
}
