//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"fenrir/internal/domain"
	"fenrir/internal/money"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "fenrir_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return "postgres://postgres:postgres@" + host + ":" + port.Port() + "/fenrir_test?sslmode=disable"
}

func TestPostgres_CommitAndRecover(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	repo, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	price, err := money.ParsePrice("100.00")
	require.NoError(t, err)

	order := domain.NewOrder(uuid.New(), domain.Buy, price, 10, uuid.New(), time.Now().UTC())
	require.NoError(t, repo.Commit(ctx, Commit{Primary: order}))

	got, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.Quantity, got.Quantity)
	require.Equal(t, domain.StatusActive, got.Status)

	active, err := repo.LoadActiveOrders(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, order.ID, active[0].ID)

	order.Cancel(time.Now().UTC())
	require.NoError(t, repo.Commit(ctx, Commit{Primary: order}))

	active, err = repo.LoadActiveOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestPostgres_CommitTradesAtomically(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	repo, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	price, err := money.ParsePrice("50.00")
	require.NoError(t, err)
	now := time.Now().UTC()

	resting := domain.NewOrder(uuid.New(), domain.Sell, price, 5, uuid.New(), now)
	incoming := domain.NewOrder(uuid.New(), domain.Buy, price, 5, uuid.New(), now)
	resting.ApplyFill(5, price, now)
	incoming.ApplyFill(5, price, now)
	trade := domain.NewTrade(uuid.New(), price, 5, incoming.ID, resting.ID, now)

	require.NoError(t, repo.Commit(ctx, Commit{Primary: incoming, Touched: []*domain.Order{resting}, Trades: []domain.Trade{trade}}))

	gotTrade, err := repo.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.True(t, gotTrade.Price.Equal(price))

	gotResting, err := repo.GetOrder(ctx, resting.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, gotResting.Status)
}
