package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"pos-sync/internal/connectivity"
	"pos-sync/internal/models"
	"pos-sync/internal/notify"
	"pos-sync/internal/queue"
	"pos-sync/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrOffline is returned by ForceSync when the interface signal reports offline
	ErrOffline = errors.New("cannot sync while offline")
	// ErrSyncInProgress is returned by ForceSync when another drain is running
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Result messages
const (
	MsgSyncInProgress = "Sync already in progress"
	MsgNoData         = "No data to sync"
	MsgSyncCompleted  = "Sync completed"
)

// SyncEventPublisher mirrors drain outcomes to the back office
type SyncEventPublisher interface {
	PublishSyncCompleted(ctx context.Context, results models.SyncResults) error
	PublishSyncFailed(ctx context.Context, reason string) error
}

// SyncOrchestrator drains the offline queue into the back office.
// At most one drain runs at a time.
type SyncOrchestrator struct {
	queue     *queue.OfflineStore
	submitter Submitter
	signal    connectivity.Signal
	notifier  notify.Sink
	events    SyncEventPublisher
	now       func() time.Time
	logger    *zap.Logger

	syncing  atomic.Bool
	progress atomic.Int32

	mu     sync.RWMutex
	subs   []statusSubscriber
	nextID int
}

type statusSubscriber struct {
	id int
	fn func(models.StatusEvent)
}

// NewSyncOrchestrator creates a new sync orchestrator. events may be nil.
func NewSyncOrchestrator(
	q *queue.OfflineStore,
	submitter Submitter,
	signal connectivity.Signal,
	notifier notify.Sink,
	events SyncEventPublisher,
) *SyncOrchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &SyncOrchestrator{
		queue:     q,
		submitter: submitter,
		signal:    signal,
		notifier:  notifier,
		events:    events,
		now:       time.Now,
		logger:    util.ComponentLogger("sync"),
	}
}

// Subscribe registers fn for status events; subscribers run synchronously in
// registration order
func (o *SyncOrchestrator) Subscribe(fn func(models.StatusEvent)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, statusSubscriber{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i := range o.subs {
			if o.subs[i].id == id {
				o.subs = append(o.subs[:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

// IsSyncing reports whether a drain is running
func (o *SyncOrchestrator) IsSyncing() bool {
	return o.syncing.Load()
}

// Status assembles a snapshot from the queue and the in-memory drain state
func (o *SyncOrchestrator) Status(ctx context.Context) (*models.SyncStatus, error) {
	pending, err := o.queue.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	offline, err := o.queue.OfflineMode(ctx)
	if err != nil {
		return nil, err
	}
	lastSync, err := o.queue.LastSyncTime(ctx)
	if err != nil {
		return nil, err
	}

	return &models.SyncStatus{
		IsSyncing:    o.syncing.Load(),
		IsOffline:    offline,
		PendingCount: pending,
		LastSyncTime: lastSync,
		Progress:     int(o.progress.Load()),
	}, nil
}

// ForceSync is the user-triggered drain
func (o *SyncOrchestrator) ForceSync(ctx context.Context) (*models.SyncResult, error) {
	if !o.signal.Online() {
		o.notifier.Error("Cannot sync while offline")
		return nil, ErrOffline
	}

	result := o.SyncOfflineData(ctx)
	if !result.Success && result.Message == MsgSyncInProgress {
		return result, ErrSyncInProgress
	}
	return result, nil
}

// AutoSync is the unattended drain run after connectivity is restored.
// Failures are logged and never surfaced.
func (o *SyncOrchestrator) AutoSync(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Auto sync panicked", zap.Any("panic", r))
		}
	}()

	if !o.signal.Online() {
		return
	}

	pending, err := o.queue.PendingCount(ctx)
	if err != nil {
		o.logger.Warn("Auto sync could not read the offline queue", zap.Error(err))
		return
	}
	if pending.Total == 0 {
		o.logger.Debug("Auto sync skipped, queue empty")
		return
	}

	o.logger.Info("Auto sync starting", zap.Int("pending", pending.Total))
	result := o.SyncOfflineData(ctx)
	if !result.Success {
		o.logger.Warn("Auto sync did not complete", zap.String("message", result.Message))
	}
}

// SyncOfflineData drains a snapshot of both queues in insertion order.
// A failed item stays queued and does not stop the items after it. Once
// started the drain runs over its whole snapshot even if ctx is cancelled;
// each submission is still bounded by the client timeout.
func (o *SyncOrchestrator) SyncOfflineData(ctx context.Context) *models.SyncResult {
	ctx = context.WithoutCancel(ctx)
	if !o.syncing.CompareAndSwap(false, true) {
		util.SyncDrainsTotal.WithLabelValues("in_progress").Inc()
		return &models.SyncResult{Success: false, Message: MsgSyncInProgress}
	}
	defer func() {
		o.progress.Store(0)
		o.syncing.Store(false)
	}()

	ctx, span := util.StartSpan(ctx, "SyncOrchestrator.SyncOfflineData")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SyncDrainDuration.Observe(time.Since(start).Seconds())
	}()

	txs, err := o.queue.Transactions.List(ctx)
	if err != nil {
		util.RecordError(span, err)
		return o.abort(err)
	}
	updates, err := o.queue.InventoryUpdates.List(ctx)
	if err != nil {
		util.RecordError(span, err)
		return o.abort(err)
	}

	total := len(txs) + len(updates)
	span.SetAttributes(attribute.Int("sync.items", total))
	if total == 0 {
		util.SyncDrainsTotal.WithLabelValues("empty").Inc()
		return &models.SyncResult{Success: true, Message: MsgNoData}
	}

	o.logger.Info("Sync started",
		zap.Int("transactions", len(txs)),
		zap.Int("inventory_updates", len(updates)))
	o.publish(models.StatusEvent{Syncing: true, Progress: 0})

	results := &models.SyncResults{
		Transactions:     models.ItemResults{Errors: []models.ItemError{}},
		InventoryUpdates: models.ItemResults{Errors: []models.ItemError{}},
	}
	processed := 0

	for _, rec := range txs {
		err := o.submitter.SubmitTransaction(ctx, rec)
		o.settle(ctx, o.queue.Transactions.Remove, models.KindTransactions, rec.LocalID, err, &results.Transactions)
		processed++
		o.reportProgress(processed, total)
	}

	for _, rec := range updates {
		err := o.submitter.SubmitInventoryUpdate(ctx, rec)
		o.settle(ctx, o.queue.InventoryUpdates.Remove, models.KindInventoryUpdates, rec.LocalID, err, &results.InventoryUpdates)
		processed++
		o.reportProgress(processed, total)
	}

	if err := o.queue.SetLastSyncTime(ctx, o.now()); err != nil {
		o.logger.Warn("Failed to record last sync time", zap.Error(err))
	}
	if err := o.queue.ClearInventoryOverrides(ctx); err != nil {
		o.logger.Warn("Failed to clear local inventory overrides", zap.Error(err))
	}

	o.publish(models.StatusEvent{Syncing: false, Progress: 100, Completed: true, Results: results})

	succeeded := results.Transactions.Success + results.InventoryUpdates.Success
	failed := results.Transactions.Failed + results.InventoryUpdates.Failed

	o.logger.Info("Sync completed",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))

	message := MsgSyncCompleted
	if failed == 0 {
		util.SyncDrainsTotal.WithLabelValues("completed").Inc()
		o.notifier.Success(fmt.Sprintf("Synced %d offline items", succeeded))
	} else {
		util.SyncDrainsTotal.WithLabelValues("partial").Inc()
		message = fmt.Sprintf("Sync completed with %d failed items", failed)
		o.notifier.Warning(fmt.Sprintf("Synced %d of %d offline items, %d failed and remain queued", succeeded, total, failed))
	}

	if o.events != nil {
		snapshot := *results
		o.emit(func(ctx context.Context) error { return o.events.PublishSyncCompleted(ctx, snapshot) })
	}

	return &models.SyncResult{Success: true, Message: message, Results: results}
}

// settle removes a delivered record or records why it stays queued
func (o *SyncOrchestrator) settle(
	ctx context.Context,
	remove func(context.Context, string) (bool, error),
	kind, localID string,
	submitErr error,
	into *models.ItemResults,
) {
	if submitErr == nil {
		if _, err := remove(ctx, localID); err != nil {
			// Delivered but still queued; the idempotency key makes the replay harmless.
			submitErr = fmt.Errorf("delivered but could not be dequeued: %w", err)
		}
	}

	if submitErr != nil {
		into.Failed++
		into.Errors = append(into.Errors, models.ItemError{LocalID: localID, Error: submitErr.Error()})
		util.SyncItemsTotal.WithLabelValues(kind, "failed").Inc()
		o.logger.Warn("Item sync failed",
			zap.String("kind", kind),
			zap.String("local_id", localID),
			zap.Error(submitErr))
		return
	}

	into.Success++
	util.SyncItemsTotal.WithLabelValues(kind, "success").Inc()
}

func (o *SyncOrchestrator) reportProgress(processed, total int) {
	progress := int(math.Round(float64(processed) / float64(total) * 100))
	o.progress.Store(int32(progress))
	o.publish(models.StatusEvent{Syncing: true, Progress: progress})
}

func (o *SyncOrchestrator) abort(err error) *models.SyncResult {
	util.SyncDrainsTotal.WithLabelValues("error").Inc()
	o.logger.Error("Sync aborted", zap.Error(err))

	o.publish(models.StatusEvent{Syncing: false, Progress: 0, Error: err.Error()})
	o.notifier.Error("Sync failed: " + err.Error())

	if o.events != nil {
		reason := err.Error()
		o.emit(func(ctx context.Context) error { return o.events.PublishSyncFailed(ctx, reason) })
	}

	return &models.SyncResult{Success: false, Message: err.Error()}
}

func (o *SyncOrchestrator) publish(event models.StatusEvent) {
	o.mu.RLock()
	subs := make([]statusSubscriber, len(o.subs))
	copy(subs, o.subs)
	o.mu.RUnlock()

	for _, s := range subs {
		s.fn(event)
	}
}

// emit publishes to the back office without holding up the drain
func (o *SyncOrchestrator) emit(publish func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := publish(ctx); err != nil {
			o.logger.Warn("Failed to publish sync event", zap.Error(err))
		}
	}()
}
