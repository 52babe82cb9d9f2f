package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &Entry{
		ReceivedAt:    base,
		InstID:        "BTC-USDT-250926",
		Side:          "buy",
		ClientOrderID: "abcdef0123456789",
		Outcome:       OutcomeOK,
		Duration:      1500 * time.Millisecond,
		Payload:       `{"instID":"BTC-USDT-250926"}`,
	}
	second := &Entry{
		ReceivedAt: base.Add(time.Minute),
		InstID:     "BTC-USDT-250926",
		Outcome:    OutcomeRejected,
		Error:      "validation failed",
	}
	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, second.ID, entries[0].ID)
	assert.Equal(t, OutcomeRejected, entries[0].Outcome)
	assert.Equal(t, "validation failed", entries[0].Error)

	assert.Equal(t, base, entries[1].ReceivedAt)
	assert.Equal(t, 1500*time.Millisecond, entries[1].Duration)
	assert.Equal(t, "abcdef0123456789", entries[1].ClientOrderID)
	assert.Equal(t, first.Payload, entries[1].Payload)
}

func TestRecentLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, &Entry{InstID: "ETH-USDT-250926", Outcome: OutcomeOK, RedButton: i == 0}))
	}

	entries, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, &Entry{InstID: "BTC-USDT-250926", RedButton: true, Outcome: OutcomeFailed}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CheckHealth(ctx))
	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].RedButton)
}
