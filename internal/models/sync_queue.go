// Package models provides data model definitions for the FixSync engine.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation a queue item carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Priority orders queue processing. High drains before medium, medium
// before low; within a priority, oldest first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank of a priority (lower drains first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCompleted  QueueStatus = "completed"
)

// DefaultMaxRetries is the retry ceiling before a queue item is dropped
// and counted as permanently failed.
const DefaultMaxRetries = 3

// SyncQueueItem is one pending mutation awaiting replay against the
// remote. Data is a point-in-time snapshot of the record document at
// enqueue time, not a live reference.
type SyncQueueItem struct {
	ID         string          `db:"id" json:"id"`
	Type       Operation       `db:"op_type" json:"type"`
	Table      string          `db:"tbl" json:"table"`
	RecordID   string          `db:"record_id" json:"record_id"`
	Data       json.RawMessage `db:"data" json:"data"`
	Timestamp  int64           `db:"timestamp" json:"timestamp"` // enqueue time, unix ms
	RetryCount int             `db:"retry_count" json:"retry_count"`
	MaxRetries int             `db:"max_retries" json:"max_retries"`
	Priority   Priority        `db:"priority" json:"priority"`
	Status     QueueStatus     `db:"status" json:"status"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// QueueItemID derives a unique queue item id from the operation, table,
// record and enqueue instant.
func QueueItemID(op Operation, table, recordID string, enqueuedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", op, table, recordID, enqueuedAt.UnixNano())
}

// EnqueuedAtTime returns the enqueue timestamp as time.Time.
func (i *SyncQueueItem) EnqueuedAtTime() time.Time {
	return time.UnixMilli(i.Timestamp)
}
