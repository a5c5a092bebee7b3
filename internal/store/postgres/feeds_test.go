package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/store"
)

// setupTestDB starts a PostgreSQL container and applies the embedded schema.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Migrate(ctx))
	// Re-running must be harmless.
	require.NoError(t, pool.Migrate(ctx))
	return pool
}

func pendingFeed(id string, module feed.Module, cfg string) feed.Feed {
	res := time.Now().Add(-time.Hour).UTC()
	return feed.Feed{
		ID:             id,
		Owner:          "0x00000000000000000000000000000000000000aa",
		Address:        "0x00000000000000000000000000000000000000bb",
		JobHash:        "0x" + "11" + "00000000000000000000000000000000000000000000000000000000000000",
		Module:         module,
		Config:         json.RawMessage(cfg),
		ResolutionDate: &res,
		Status:         feed.StatusPending,
	}
}

func TestFeedStore(t *testing.T) {
	pool := setupTestDB(t)
	s := NewFeedStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, pendingFeed("F1", feed.ModuleCrypto, `{"symbol":"BTC"}`)))
	require.NoError(t, s.Insert(ctx, pendingFeed("F2", feed.ModuleEsports, `{"team1Id":77,"team2Id":88}`)))
	manual := pendingFeed("F3", feed.ModuleCrypto, `{}`)
	manual.Status = feed.StatusManual
	require.NoError(t, s.Insert(ctx, manual))

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list pending", func(t *testing.T) {
		got, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "F1", got[0].ID)
		require.Equal(t, feed.ModuleCrypto, got[0].Module)
		require.JSONEq(t, `{"symbol":"BTC"}`, string(got[0].Config))
	})

	t.Run("list by module", func(t *testing.T) {
		got, err := s.ListByModule(ctx, feed.ModuleEsports, feed.StatusPending, feed.StatusManual)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "F2", got[0].ID)
	})

	t.Run("settled round trip", func(t *testing.T) {
		tx := "0xabc123"
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.MarkSettled(ctx, "F1", feed.StatusPending, feed.Settlement{Value: "45231.67", Tx: &tx, At: at}))

		got, err := s.Get(ctx, "F1")
		require.NoError(t, err)
		require.Equal(t, feed.StatusSettled, got.Status)
		require.NotNil(t, got.SettledValue)
		require.Equal(t, "45231.67", *got.SettledValue)
		require.NotNil(t, got.SettlementTx)
		require.Equal(t, tx, *got.SettlementTx)
		require.True(t, got.SettledAt.Equal(at))

		err = s.MarkSettled(ctx, "F1", feed.StatusPending, feed.Settlement{Value: "1", At: at})
		require.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("settled without tx", func(t *testing.T) {
		require.NoError(t, s.MarkSettled(ctx, "F3", feed.StatusManual, feed.Settlement{Value: "100.5", At: time.Now()}))
		got, err := s.Get(ctx, "F3")
		require.NoError(t, err)
		require.Nil(t, got.SettlementTx)
	})

	t.Run("update config then fail", func(t *testing.T) {
		require.NoError(t, s.UpdateConfig(ctx, "F2", json.RawMessage(`{"team1Id":77,"team2Id":88,"status":"finished"}`)))
		require.NoError(t, s.MarkFailed(ctx, "F2", feed.StatusPending))

		got, err := s.Get(ctx, "F2")
		require.NoError(t, err)
		require.Equal(t, feed.StatusFailed, got.Status)
		require.Nil(t, got.SettledValue)
		require.Nil(t, got.SettledAt)

		err = s.UpdateConfig(ctx, "F2", json.RawMessage(`{}`))
		require.ErrorIs(t, err, store.ErrConflict)
		err = s.MarkFailed(ctx, "missing", feed.StatusPending)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
