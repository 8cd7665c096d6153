package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"pos-sync/internal/kv"
	"pos-sync/internal/models"
	"pos-sync/internal/util"

	"go.uber.org/zap"
)

// OfflineStore owns everything the terminal persists for offline operation:
// both record queues, the last-sync marker, the offline-mode flag and the
// local inventory override map.
type OfflineStore struct {
	store  kv.Store
	mu     sync.Mutex
	logger *zap.Logger

	Transactions     *Queue[models.Sale]
	InventoryUpdates *Queue[models.InventoryDelta]
}

// Option configures an OfflineStore
type Option func(*config)

type config struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp records
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// NewOfflineStore creates the offline store on top of a key-value store
func NewOfflineStore(store kv.Store, opts ...Option) *OfflineStore {
	cfg := &config{now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := util.ComponentLogger("queue")
	s := &OfflineStore{
		store:  store,
		logger: logger,
	}
	s.Transactions = newQueue[models.Sale](models.KindTransactions, KeyTransactions, store, &s.mu, cfg.now, logger)
	s.InventoryUpdates = newQueue[models.InventoryDelta](models.KindInventoryUpdates, KeyInventoryUpdates, store, &s.mu, cfg.now, logger)
	return s
}

// QueueTransaction appends a sale captured while offline
func (s *OfflineStore) QueueTransaction(ctx context.Context, sale models.Sale) (models.QueuedTransaction, error) {
	return s.Transactions.Append(ctx, sale)
}

// QueueInventoryUpdate appends a stock delta and reflects it in the local
// inventory override map so the UI can show adjusted stock while offline.
func (s *OfflineStore) QueueInventoryUpdate(ctx context.Context, delta models.InventoryDelta) (models.QueuedInventoryUpdate, error) {
	rec, err := s.InventoryUpdates.Append(ctx, delta)
	if err != nil {
		return rec, err
	}

	if err := s.applyOverride(ctx, delta); err != nil {
		s.logger.Warn("Failed to update local inventory override",
			zap.String("product_id", delta.ProductID),
			zap.Error(err))
	}
	return rec, nil
}

// PendingCount aggregates the queued records of both kinds
func (s *OfflineStore) PendingCount(ctx context.Context) (models.PendingCount, error) {
	txs, err := s.Transactions.Len(ctx)
	if err != nil {
		return models.PendingCount{}, err
	}
	inv, err := s.InventoryUpdates.Len(ctx)
	if err != nil {
		return models.PendingCount{}, err
	}
	return models.PendingCount{
		Transactions:     txs,
		InventoryUpdates: inv,
		Total:            txs + inv,
	}, nil
}

// ClearAll drops every queued record, the last-sync marker, the offline flag
// and the local overrides. It is only used for explicit resets.
func (s *OfflineStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Delete(ctx,
		KeyTransactions,
		KeyInventoryUpdates,
		KeyLastSyncTime,
		KeyOfflineMode,
		KeyLocalInventory,
	)
	if err != nil {
		return fmt.Errorf("failed to clear offline data: %w", err)
	}

	util.OfflineQueueDepth.WithLabelValues(models.KindTransactions).Set(0)
	util.OfflineQueueDepth.WithLabelValues(models.KindInventoryUpdates).Set(0)
	s.logger.Info("Offline data cleared")
	return nil
}

// LastSyncTime returns the time of the last completed drain, nil if none
func (s *OfflineStore) LastSyncTime(ctx context.Context) (*time.Time, error) {
	raw, found, err := s.store.Get(ctx, KeyLastSyncTime)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if !found {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn("Ignoring unreadable last sync time", zap.String("value", raw))
		return nil, nil
	}
	return &t, nil
}

// SetLastSyncTime records the completion time of a drain
func (s *OfflineStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.store.Set(ctx, KeyLastSyncTime, t.UTC().Format(time.RFC3339Nano))
}

// OfflineMode returns the persisted effective offline flag
func (s *OfflineStore) OfflineMode(ctx context.Context) (bool, error) {
	raw, found, err := s.store.Get(ctx, KeyOfflineMode)
	if err != nil {
		return false, fmt.Errorf("failed to read offline mode: %w", err)
	}
	if !found {
		return false, nil
	}
	return raw == "true", nil
}

// SetOfflineMode persists the effective offline flag
func (s *OfflineStore) SetOfflineMode(ctx context.Context, offline bool) error {
	return s.store.Set(ctx, KeyOfflineMode, strconv.FormatBool(offline))
}

// InventoryOverrides returns the accumulated offline stock deltas by product id
func (s *OfflineStore) InventoryOverrides(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOverrides(ctx)
}

// ClearInventoryOverrides drops the local overrides once the server is authoritative again
func (s *OfflineStore) ClearInventoryOverrides(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, KeyLocalInventory)
}

// Ping checks the underlying store
func (s *OfflineStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *OfflineStore) applyOverride(ctx context.Context, delta models.InventoryDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overrides, err := s.loadOverrides(ctx)
	if err != nil {
		return err
	}
	overrides[delta.ProductID] += delta.Quantity

	data, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, KeyLocalInventory, string(data))
}

func (s *OfflineStore) loadOverrides(ctx context.Context) (map[string]int, error) {
	overrides := map[string]int{}

	raw, found, err := s.store.Get(ctx, KeyLocalInventory)
	if err != nil {
		return nil, fmt.Errorf("failed to read local inventory: %w", err)
	}
	if !found {
		return overrides, nil
	}

	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		s.logger.Warn("Discarding unreadable local inventory", zap.Error(err))
		return map[string]int{}, nil
	}
	return overrides, nil
}
