package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"fenrir/internal/domain"
	"fenrir/internal/money"
)

// Schema is the DDL for the two tables this repository reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id              uuid PRIMARY KEY,
	side                  smallint NOT NULL,
	price                 numeric(12,2) NOT NULL,
	quantity              bigint NOT NULL,
	remaining_quantity    bigint NOT NULL,
	traded_quantity       bigint NOT NULL,
	average_traded_price  numeric(12,2) NOT NULL DEFAULT 0,
	status                text NOT NULL,
	is_active             boolean NOT NULL,
	created_at            timestamptz NOT NULL,
	updated_at            timestamptz NOT NULL,
	user_id               uuid NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_side_price_created_at_idx ON orders (side, price, created_at);
CREATE INDEX IF NOT EXISTS orders_is_active_idx ON orders (is_active);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);
CREATE INDEX IF NOT EXISTS orders_user_id_idx ON orders (user_id);

CREATE TABLE IF NOT EXISTS trades (
	trade_id              uuid PRIMARY KEY,
	price                 numeric(12,2) NOT NULL,
	quantity              bigint NOT NULL,
	bid_order_id          uuid NOT NULL REFERENCES orders (order_id),
	ask_order_id          uuid NOT NULL REFERENCES orders (order_id),
	execution_timestamp   timestamptz NOT NULL,
	is_settled            boolean NOT NULL DEFAULT false,
	settlement_timestamp  timestamptz
);
CREATE INDEX IF NOT EXISTS trades_execution_timestamp_idx ON trades (execution_timestamp);
CREATE INDEX IF NOT EXISTS trades_bid_order_id_idx ON trades (bid_order_id);
CREATE INDEX IF NOT EXISTS trades_ask_order_id_idx ON trades (ask_order_id);
CREATE INDEX IF NOT EXISTS trades_is_settled_idx ON trades (is_settled);
`

// Postgres is a database/sql-backed Repository using lib/pq as the driver.
type Postgres struct {
	db *sql.DB
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Commit persists a command's full effect set inside one transaction, so a
// match producing several trades and several touched orders either lands
// entirely or not at all.
func (p *Postgres) Commit(ctx context.Context, c Commit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if c.Primary != nil {
		if err := upsertOrder(ctx, tx, c.Primary); err != nil {
			return err
		}
	}
	for _, o := range c.Touched {
		if err := upsertOrder(ctx, tx, o); err != nil {
			return err
		}
	}
	for _, t := range c.Trades {
		if err := insertTrade(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const upsertOrderSQL = `
INSERT INTO orders (order_id, side, price, quantity, remaining_quantity, traded_quantity,
                     average_traded_price, status, is_active, created_at, updated_at, user_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (order_id) DO UPDATE SET
	price = EXCLUDED.price,
	remaining_quantity = EXCLUDED.remaining_quantity,
	traded_quantity = EXCLUDED.traded_quantity,
	average_traded_price = EXCLUDED.average_traded_price,
	status = EXCLUDED.status,
	is_active = EXCLUDED.is_active,
	updated_at = EXCLUDED.updated_at
`

func upsertOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx, upsertOrderSQL,
		o.ID, sideCode(o.Side), o.Price.Decimal(), o.Quantity, o.Remaining, o.Traded,
		o.VWAP.Value(), string(o.Status), o.Active, o.CreatedAt, o.UpdatedAt, o.UserID)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

const insertTradeSQL = `
INSERT INTO trades (trade_id, price, quantity, bid_order_id, ask_order_id, execution_timestamp)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (trade_id) DO NOTHING
`

func insertTrade(ctx context.Context, tx *sql.Tx, t domain.Trade) error {
	_, err := tx.ExecContext(ctx, insertTradeSQL,
		t.ID, t.Price.Decimal(), t.Quantity, t.BidOrderID, t.AskOrderID, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func sideCode(s domain.Side) int16 {
	if s == domain.Buy {
		return 1
	}
	return -1
}

func sideFromCode(code int16) domain.Side {
	if code > 0 {
		return domain.Buy
	}
	return domain.Sell
}

const getOrderSQL = `
SELECT order_id, side, price, quantity, remaining_quantity, traded_quantity,
       average_traded_price, status, is_active, created_at, updated_at, user_id
FROM orders WHERE order_id = $1
`

func (p *Postgres) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := p.db.QueryRowContext(ctx, getOrderSQL, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "order", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o        domain.Order
		sideCode int16
		priceStr string
		vwapStr  string
		status   string
	)
	if err := row.Scan(&o.ID, &sideCode, &priceStr, &o.Quantity, &o.Remaining, &o.Traded,
		&vwapStr, &status, &o.Active, &o.CreatedAt, &o.UpdatedAt, &o.UserID); err != nil {
		return nil, err
	}
	price, err := money.ParsePrice(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored price %q: %w", priceStr, err)
	}
	avg, err := decimal.NewFromString(vwapStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored average_traded_price %q: %w", vwapStr, err)
	}
	o.Side = sideFromCode(sideCode)
	o.Price = price
	o.VWAP = money.RestoreVWAP(avg, o.Traded)
	o.Status = domain.Status(status)
	return &o, nil
}

func (p *Postgres) QueryOrders(ctx context.Context, filter OrderFilter) (OrderPage, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT order_id, side, price, quantity, remaining_quantity, traded_quantity,
		average_traded_price, status, is_active, created_at, updated_at, user_id FROM orders WHERE 1=1`
	countQuery := `SELECT count(*) FROM orders WHERE 1=1`
	var args []any
	n := 0
	addFilter := func(clause string, val any) {
		n++
		query += fmt.Sprintf(" AND %s $%d", clause, n)
		countQuery += fmt.Sprintf(" AND %s $%d", clause, n)
		args = append(args, val)
	}
	if filter.Status != nil {
		addFilter("status =", string(*filter.Status))
	}
	if filter.Side != nil {
		addFilter("side =", sideCode(*filter.Side))
	}
	if filter.UserID != nil {
		addFilter("user_id =", *filter.UserID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return OrderPage{}, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0, pageSize)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return OrderPage{}, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return OrderPage{Orders: orders, Total: total}, rows.Err()
}

const queryTradesSQL = `
SELECT trade_id, price, quantity, bid_order_id, ask_order_id, execution_timestamp,
       is_settled, settlement_timestamp
FROM trades ORDER BY execution_timestamp DESC LIMIT $1 OFFSET $2
`

func (p *Postgres) QueryTrades(ctx context.Context, filter TradeFilter) (TradePage, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM trades`).Scan(&total); err != nil {
		return TradePage{}, fmt.Errorf("count trades: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, queryTradesSQL, pageSize, (page-1)*pageSize)
	if err != nil {
		return TradePage{}, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0, pageSize)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return TradePage{}, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return TradePage{Trades: trades, Total: total}, rows.Err()
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var (
		t        domain.Trade
		priceStr string
	)
	if err := row.Scan(&t.ID, &priceStr, &t.Quantity, &t.BidOrderID, &t.AskOrderID,
		&t.ExecutedAt, &t.Settled, &t.SettledAt); err != nil {
		return domain.Trade{}, err
	}
	price, err := money.ParsePrice(priceStr)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse stored price %q: %w", priceStr, err)
	}
	t.Price = price
	return t, nil
}

const getTradeSQL = `
SELECT trade_id, price, quantity, bid_order_id, ask_order_id, execution_timestamp,
       is_settled, settlement_timestamp
FROM trades WHERE trade_id = $1
`

func (p *Postgres) GetTrade(ctx context.Context, id uuid.UUID) (domain.Trade, error) {
	row := p.db.QueryRowContext(ctx, getTradeSQL, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, &domain.NotFoundError{Kind: "trade", ID: id.String()}
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (p *Postgres) MarkTradeSettled(ctx context.Context, id uuid.UUID, now time.Time) (domain.Trade, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, getTradeSQL+" FOR UPDATE", id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, &domain.NotFoundError{Kind: "trade", ID: id.String()}
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("get trade %s: %w", id, err)
	}
	if t.Settled {
		return domain.Trade{}, &domain.StateConflictError{Reason: "trade already settled"}
	}
	t.Settle(now)

	if _, err := tx.ExecContext(ctx,
		`UPDATE trades SET is_settled = true, settlement_timestamp = $2 WHERE trade_id = $1`,
		id, now); err != nil {
		return domain.Trade{}, fmt.Errorf("settle trade %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Trade{}, fmt.Errorf("commit settle %s: %w", id, err)
	}
	return t, nil
}

const loadActiveOrdersSQL = `
SELECT order_id, side, price, quantity, remaining_quantity, traded_quantity,
       average_traded_price, status, is_active, created_at, updated_at, user_id
FROM orders
WHERE is_active AND remaining_quantity > 0
ORDER BY
	side ASC,
	CASE WHEN side < 0 THEN price END ASC,
	CASE WHEN side > 0 THEN price END DESC,
	created_at ASC
`

func (p *Postgres) LoadActiveOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := p.db.QueryContext(ctx, loadActiveOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("load active orders: %w", err)
	}
	defer rows.Close()

	var active []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active order: %w", err)
		}
		active = append(active, o)
	}
	return active, rows.Err()
}
