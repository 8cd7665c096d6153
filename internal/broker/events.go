package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-sync/internal/models"
	"pos-sync/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the transport EventPublisher writes to
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event any) error
}

// EventPublisher publishes terminal events keyed by terminal, so one
// terminal's events stay ordered on a single partition.
type EventPublisher struct {
	writer     EventWriter
	terminalID string
	now        func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter, terminalID string) *EventPublisher {
	return &EventPublisher{writer: writer, terminalID: terminalID, now: time.Now}
}

func (ep *EventPublisher) key() string {
	return "terminal-" + ep.terminalID
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		TerminalID: ep.terminalID,
		Timestamp:  ep.now().UTC(),
	}
}

// PublishModeChanged publishes OfflineModeChanged event
func (ep *EventPublisher) PublishModeChanged(ctx context.Context, change models.ModeChange) error {
	return ep.writer.PublishEvent(ctx, ep.key(), &models.ModeChangedEvent{
		BaseEvent:    ep.base(models.EventTypeOfflineModeChanged),
		IsOffline:    change.IsOffline,
		PreviousMode: change.PreviousMode,
	})
}

// PublishSyncCompleted publishes SyncCompleted event
func (ep *EventPublisher) PublishSyncCompleted(ctx context.Context, results models.SyncResults) error {
	return ep.writer.PublishEvent(ctx, ep.key(), &models.SyncCompletedEvent{
		BaseEvent: ep.base(models.EventTypeSyncCompleted),
		Results:   results,
	})
}

// PublishSyncFailed publishes SyncFailed event
func (ep *EventPublisher) PublishSyncFailed(ctx context.Context, reason string) error {
	return ep.writer.PublishEvent(ctx, ep.key(), &models.SyncFailedEvent{
		BaseEvent: ep.base(models.EventTypeSyncFailed),
		Reason:    reason,
	})
}

// PublishNotification publishes Notification event
func (ep *EventPublisher) PublishNotification(ctx context.Context, level, message string) error {
	return ep.writer.PublishEvent(ctx, ep.key(), &models.NotificationEvent{
		BaseEvent: ep.base(models.EventTypeNotification),
		Level:     level,
		Message:   message,
	})
}

// EventHandler routes back office commands addressed to this terminal
type EventHandler struct {
	terminalID            string
	onSyncRequested       func(context.Context, *models.SyncRequestedEvent) error
	onQueueResetRequested func(context.Context, *models.QueueResetRequestedEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(terminalID string) *EventHandler {
	return &EventHandler{terminalID: terminalID, logger: util.ComponentLogger("broker")}
}

// OnSyncRequested registers a handler for SyncRequested commands
func (eh *EventHandler) OnSyncRequested(handler func(context.Context, *models.SyncRequestedEvent) error) {
	eh.onSyncRequested = handler
}

// OnQueueResetRequested registers a handler for QueueResetRequested commands
func (eh *EventHandler) OnQueueResetRequested(handler func(context.Context, *models.QueueResetRequestedEvent) error) {
	eh.onQueueResetRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	if baseEvent.TerminalID != "" && baseEvent.TerminalID != eh.terminalID {
		return nil
	}

	eh.logger.Info("Handling command",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeSyncRequested:
		if eh.onSyncRequested != nil {
			var event models.SyncRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SyncRequested event: %w", err)
			}
			return eh.onSyncRequested(ctx, &event)
		}

	case models.EventTypeQueueResetRequested:
		if eh.onQueueResetRequested != nil {
			var event models.QueueResetRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal QueueResetRequested event: %w", err)
			}
			return eh.onQueueResetRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
