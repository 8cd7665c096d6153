// Package queue persists POS sales and inventory deltas captured while the
// terminal is offline, until the sync orchestrator has delivered them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"pos-sync/internal/kv"
	"pos-sync/internal/models"
	"pos-sync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persisted keys
const (
	KeyTransactions     = "offline_transactions"
	KeyInventoryUpdates = "offline_inventory_updates"
	KeyLastSyncTime     = "last_sync_time"
	KeyOfflineMode      = "offline_mode"
	KeyLocalInventory   = "local_inventory"
)

// Queue is the durable list of one record kind. All mutations read the
// current list fresh and write the whole list back while holding mu.
type Queue[T any] struct {
	kind   string
	key    string
	store  kv.Store
	mu     *sync.Mutex
	now    func() time.Time
	logger *zap.Logger
}

func newQueue[T any](kind, key string, store kv.Store, mu *sync.Mutex, now func() time.Time, logger *zap.Logger) *Queue[T] {
	return &Queue[T]{
		kind:   kind,
		key:    key,
		store:  store,
		mu:     mu,
		now:    now,
		logger: logger,
	}
}

// Append stores payload as a new record and returns it with its generated fields
func (q *Queue[T]) Append(ctx context.Context, payload T) (models.Record[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.load(ctx)
	if err != nil {
		return models.Record[T]{}, err
	}

	now := q.now()
	rec := models.Record[T]{
		LocalID:   newLocalID(now),
		Timestamp: now.UTC(),
		Offline:   true,
		Payload:   payload,
	}
	records = append(records, rec)

	if err := q.save(ctx, records); err != nil {
		return models.Record[T]{}, err
	}

	q.logger.Info("Record queued offline",
		zap.String("kind", q.kind),
		zap.String("local_id", rec.LocalID),
		zap.Int("queued", len(records)))
	return rec, nil
}

// List returns the queued records in insertion order
func (q *Queue[T]) List(ctx context.Context) ([]models.Record[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Remove deletes the record with localID; it reports false when no such record exists
func (q *Queue[T]) Remove(ctx context.Context, localID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.load(ctx)
	if err != nil {
		return false, err
	}

	idx := -1
	for i := range records {
		if records[i].LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	records = append(records[:idx], records[idx+1:]...)
	if err := q.save(ctx, records); err != nil {
		return false, err
	}
	return true, nil
}

// Len returns the number of queued records
func (q *Queue[T]) Len(ctx context.Context) (int, error) {
	records, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// load reads the persisted list. A blob that does not decode is treated as
// an empty queue so a corrupted entry can never wedge the terminal.
func (q *Queue[T]) load(ctx context.Context) ([]models.Record[T], error) {
	raw, found, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s queue: %w", q.kind, err)
	}
	if !found || strings.TrimSpace(raw) == "" {
		return []models.Record[T]{}, nil
	}

	var records []models.Record[T]
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		util.OfflineQueueCorruptTotal.WithLabelValues(q.kind).Inc()
		q.logger.Warn("Discarding unreadable offline queue",
			zap.String("kind", q.kind),
			zap.Error(err))
		return []models.Record[T]{}, nil
	}
	if records == nil {
		records = []models.Record[T]{}
	}
	return records, nil
}

func (q *Queue[T]) save(ctx context.Context, records []models.Record[T]) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal %s queue: %w", q.kind, err)
	}
	if err := q.store.Set(ctx, q.key, string(data)); err != nil {
		return fmt.Errorf("failed to persist %s queue: %w", q.kind, err)
	}
	util.OfflineQueueDepth.WithLabelValues(q.kind).Set(float64(len(records)))
	return nil
}

// newLocalID combines the capture millisecond with a random suffix so two
// records captured in the same millisecond never share an id.
func newLocalID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("offline_%d_%s", now.UnixMilli(), suffix[:12])
}
