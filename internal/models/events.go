package models

import "time"

// Event types
const (
	EventTypeOfflineModeChanged  = "OFFLINE_MODE_CHANGED"
	EventTypeSyncCompleted       = "SYNC_COMPLETED"
	EventTypeSyncFailed          = "SYNC_FAILED"
	EventTypeNotification        = "NOTIFICATION"
	EventTypeSyncRequested       = "SYNC_REQUESTED"
	EventTypeQueueResetRequested = "QUEUE_RESET_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	TerminalID string    `json:"terminal_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ModeChangedEvent published when effective offline mode flips
type ModeChangedEvent struct {
	BaseEvent
	IsOffline    bool `json:"is_offline"`
	PreviousMode bool `json:"previous_mode"`
}

// SyncCompletedEvent published when a drain finishes
type SyncCompletedEvent struct {
	BaseEvent
	Results SyncResults `json:"results"`
}

// SyncFailedEvent published when a drain aborts before processing items
type SyncFailedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NotificationEvent mirrors a UI toast to the back office
type NotificationEvent struct {
	BaseEvent
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SyncRequestedEvent is a back office command asking a terminal to sync
type SyncRequestedEvent struct {
	BaseEvent
	RequestedBy string `json:"requested_by,omitempty"`
}

// QueueResetRequestedEvent is a back office command asking a terminal to drop its queue
type QueueResetRequestedEvent struct {
	BaseEvent
	RequestedBy string `json:"requested_by,omitempty"`
}
