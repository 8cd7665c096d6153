package models

import (
	"encoding/json"
	"time"
)

// Record is one item captured while the terminal could not reach the back office.
// LocalID, Timestamp and Offline are client bookkeeping; only Payload is ever submitted.
type Record[T any] struct {
	LocalID   string    `json:"localId"`
	Timestamp time.Time `json:"timestamp"`
	Offline   bool      `json:"isOffline"`
	Payload   T         `json:"payload"`
}

// Sale is the opaque POS sale body (line items, customer, totals, payment method)
type Sale = json.RawMessage

// InventoryDelta is a pending adjustment to a locally tracked stock count
type InventoryDelta struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

// QueuedTransaction represents a POS sale waiting to be synced
type QueuedTransaction = Record[Sale]

// QueuedInventoryUpdate represents a stock delta waiting to be synced
type QueuedInventoryUpdate = Record[InventoryDelta]

// Queue kinds
const (
	KindTransactions     = "transactions"
	KindInventoryUpdates = "inventory_updates"
)

// PendingCount aggregates the queued records per kind
type PendingCount struct {
	Transactions     int `json:"transactions"`
	InventoryUpdates int `json:"inventoryUpdates"`
	Total            int `json:"total"`
}

// SyncStatus is a derived snapshot; it is never persisted
type SyncStatus struct {
	IsSyncing    bool         `json:"isSyncing"`
	IsOffline    bool         `json:"isOffline"`
	PendingCount PendingCount `json:"pendingCount"`
	LastSyncTime *time.Time   `json:"lastSyncTime"`
	Progress     int          `json:"progress"`
}

// ItemError records why one queued record could not be synced
type ItemError struct {
	LocalID string `json:"localId"`
	Error   string `json:"error"`
}

// ItemResults breaks down the outcome of one queue kind in a drain
type ItemResults struct {
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Errors  []ItemError `json:"errors"`
}

// SyncResults breaks down the outcome of a drain
type SyncResults struct {
	Transactions     ItemResults `json:"transactions"`
	InventoryUpdates ItemResults `json:"inventoryUpdates"`
}

// SyncResult is returned by every drain attempt
type SyncResult struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Results *SyncResults `json:"results,omitempty"`
}

// StatusEvent is delivered to sync status subscribers
type StatusEvent struct {
	Syncing   bool         `json:"syncing"`
	Progress  int          `json:"progress"`
	Completed bool         `json:"completed,omitempty"`
	Results   *SyncResults `json:"results,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// ModeChange is the payload of the offlineModeChanged broadcast
type ModeChange struct {
	IsOffline    bool      `json:"isOffline"`
	PreviousMode bool      `json:"previousMode"`
	Timestamp    time.Time `json:"timestamp"`
}

// BroadcastOfflineModeChanged is the broadcast name used for mode changes
const BroadcastOfflineModeChanged = "offlineModeChanged"
