package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pos-sync/internal/kv"
	"pos-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	err error
}

func (f failingStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingStore) Set(context.Context, string, string) error         { return f.err }
func (f failingStore) Delete(context.Context, ...string) error           { return f.err }
func (f failingStore) Ping(context.Context) error                        { return f.err }

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestQueueTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewOfflineStore(kv.NewMemory())

	sale := models.Sale(`{"items":[{"sku":"A1","qty":2}],"total":1500}`)
	rec, err := s.QueueTransaction(ctx, sale)
	require.NoError(t, err)

	assert.Contains(t, rec.LocalID, "offline_")
	assert.True(t, rec.Offline)

	list, err := s.Transactions.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.LocalID, list[0].LocalID)
	assert.True(t, list[0].Offline)
	assert.JSONEq(t, string(sale), string(list[0].Payload))
}

func TestQueuePreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewOfflineStore(kv.NewMemory())

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := s.QueueTransaction(ctx, models.Sale(`{"n":1}`))
		require.NoError(t, err)
		ids = append(ids, rec.LocalID)
	}

	list, err := s.Transactions.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, rec := range list {
		assert.Equal(t, ids[i], rec.LocalID)
	}
}

func TestLocalIDsUniqueWithinSameMillisecond(t *testing.T) {
	ctx := context.Background()
	s := NewOfflineStore(kv.NewMemory(), WithClock(fixedClock()))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		rec, err := s.QueueTransaction(ctx, models.Sale(`{}`))
		require.NoError(t, err)
		assert.False(t, seen[rec.LocalID], "duplicate id %s", rec.LocalID)
		seen[rec.LocalID] = true
	}
}

func TestCorruptQueueReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, KeyTransactions, "{not json"))

	s := NewOfflineStore(store)

	list, err := s.Transactions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.QueueTransaction(ctx, models.Sale(`{"ok":true}`))
	require.NoError(t, err)

	n, err := s.Transactions.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := NewOfflineStore(kv.NewMemory())

	first, err := s.QueueTransaction(ctx, models.Sale(`{"n":1}`))
	require.NoError(t, err)
	second, err := s.QueueTransaction(ctx, models.Sale(`{"n":2}`))
	require.NoError(t, err)

	removed, err := s.Transactions.Remove(ctx, first.LocalID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Transactions.Remove(ctx, "offline_0_missing")
	require.NoError(t, err)
	assert.False(t, removed)

	list, err := s.Transactions.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.LocalID, list[0].LocalID)
}

func TestPendingCount(t *testing.T) {
	ctx := context.Background()
	s := NewOfflineStore(kv.NewMemory())

	for i := 0; i < 2; i++ {
		_, err := s.QueueTransaction(ctx, models.Sale(`{}`))
		require.NoError(t, err)
	}
	_, err := s.QueueInventoryUpdate(ctx, models.InventoryDelta{ProductID: "p1", Quantity: -1})
	require.NoError(t, err)

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PendingCount{Transactions: 2, InventoryUpdates: 1, Total: 3}, count)
}

func TestInventoryOverridesAccumulate(t *testing.T) {
	ctx := context.Background()
	s := NewOfflineStore(kv.NewMemory())

	deltas := []models.InventoryDelta{
		{ProductID: "p1", Quantity: -2, Reason: "sale"},
		{ProductID: "p1", Quantity: -1, Reason: "sale"},
		{ProductID: "p2", Quantity: 5, Reason: "restock"},
	}
	for _, d := range deltas {
		_, err := s.QueueInventoryUpdate(ctx, d)
		require.NoError(t, err)
	}

	overrides, err := s.InventoryOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": -3, "p2": 5}, overrides)

	require.NoError(t, s.ClearInventoryOverrides(ctx))
	overrides, err = s.InventoryOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, overrides)

	n, err := s.InventoryUpdates.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s := NewOfflineStore(store)

	_, err := s.QueueTransaction(ctx, models.Sale(`{}`))
	require.NoError(t, err)
	_, err = s.QueueInventoryUpdate(ctx, models.InventoryDelta{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, s.SetLastSyncTime(ctx, time.Now()))
	require.NoError(t, s.SetOfflineMode(ctx, true))

	require.NoError(t, s.ClearAll(ctx))

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count.Total)

	last, err := s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	offline, err := s.OfflineMode(ctx)
	require.NoError(t, err)
	assert.False(t, offline)

	for _, key := range []string{KeyTransactions, KeyInventoryUpdates, KeyLocalInventory} {
		_, found, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found, key)
	}
}

func TestLastSyncTimeAndOfflineMode(t *testing.T) {
	ctx := context.Background()
	s := NewOfflineStore(kv.NewMemory())

	last, err := s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSyncTime(ctx, when))
	last, err = s.LastSyncTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, when.Equal(*last))

	require.NoError(t, s.SetOfflineMode(ctx, true))
	offline, err := s.OfflineMode(ctx)
	require.NoError(t, err)
	assert.True(t, offline)
}

func TestStoredFormatUsesWireFieldNames(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s := NewOfflineStore(store, WithClock(fixedClock()))

	_, err := s.QueueInventoryUpdate(ctx, models.InventoryDelta{ProductID: "p9", Quantity: 3})
	require.NoError(t, err)

	raw, found, err := store.Get(ctx, KeyInventoryUpdates)
	require.NoError(t, err)
	require.True(t, found)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded, 1)
	assert.Contains(t, decoded[0], "localId")
	assert.Contains(t, decoded[0], "timestamp")
	assert.Equal(t, true, decoded[0]["isOffline"])
	assert.Equal(t, "2024-03-01T12:00:00Z", decoded[0]["timestamp"])
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("storage unavailable")
	s := NewOfflineStore(failingStore{err: boom})

	_, err := s.QueueTransaction(ctx, models.Sale(`{}`))
	assert.ErrorIs(t, err, boom)

	_, err = s.Transactions.List(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = s.PendingCount(ctx)
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, s.ClearAll(ctx), boom)
}
