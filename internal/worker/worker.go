package worker

import (
	"context"
	"errors"

	"pos-sync/internal/broker"
	"pos-sync/internal/models"
	"pos-sync/internal/service"
	"pos-sync/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Syncer is the part of the orchestrator the worker drives
type Syncer interface {
	ForceSync(ctx context.Context) (*models.SyncResult, error)
}

// QueueResetter drops every queued record
type QueueResetter interface {
	ClearAll(ctx context.Context) error
}

// MessageSource feeds the worker; broker.Consumer in production
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// CommandWorker executes back office commands addressed to this terminal
type CommandWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	syncer       Syncer
	resetter     QueueResetter
	logger       *zap.Logger
}

// NewCommandWorker creates a new command worker
func NewCommandWorker(source MessageSource, terminalID string, syncer Syncer, resetter QueueResetter) *CommandWorker {
	w := &CommandWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(terminalID),
		syncer:       syncer,
		resetter:     resetter,
		logger:       util.ComponentLogger("worker"),
	}

	w.eventHandler.OnSyncRequested(w.handleSyncRequested)
	w.eventHandler.OnQueueResetRequested(w.handleQueueResetRequested)
	return w
}

// Start starts the worker
func (w *CommandWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting command worker")
	return w.source.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *CommandWorker) Stop() error {
	w.logger.Info("Stopping command worker")
	return w.source.Close()
}

// HandleMessage routes one command message
func (w *CommandWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

func (w *CommandWorker) handleSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	util.CommandsHandledTotal.WithLabelValues(event.EventType).Inc()

	result, err := w.syncer.ForceSync(ctx)
	if errors.Is(err, service.ErrOffline) || errors.Is(err, service.ErrSyncInProgress) {
		w.logger.Info("Remote sync request skipped",
			zap.String("requested_by", event.RequestedBy),
			zap.String("reason", err.Error()))
		return nil
	}
	if err != nil {
		return err
	}

	w.logger.Info("Remote sync request handled",
		zap.String("requested_by", event.RequestedBy),
		zap.Bool("success", result.Success),
		zap.String("message", result.Message))
	return nil
}

func (w *CommandWorker) handleQueueResetRequested(ctx context.Context, event *models.QueueResetRequestedEvent) error {
	util.CommandsHandledTotal.WithLabelValues(event.EventType).Inc()

	if err := w.resetter.ClearAll(ctx); err != nil {
		return err
	}

	w.logger.Warn("Offline queue reset by back office", zap.String("requested_by", event.RequestedBy))
	return nil
}
