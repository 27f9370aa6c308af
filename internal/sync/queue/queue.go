// Package queue provides sync queue management for offline operations.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsdeck/fixsync/internal/db"
	"github.com/opsdeck/fixsync/internal/logging"
	"github.com/opsdeck/fixsync/internal/models"
)

// DefaultBatchSize bounds how many items one sync pass drains.
const DefaultBatchSize = 100

// Manager is a stateless operator over the persisted sync queue. The
// queue lives in the Repository's sync_queue table and survives process
// restarts; the Manager never caches a parallel copy.
type Manager struct {
	repo      *db.Repository
	batchSize int
}

// NewManager creates a queue Manager.
func NewManager(repo *db.Repository) *Manager {
	return &Manager{repo: repo, batchSize: DefaultBatchSize}
}

// Enqueue persists a new queue item carrying a snapshot of the record
// document. Two offline edits to the same record produce two items; the
// later one supersedes the earlier at apply time via version comparison,
// not by queue compaction.
func (m *Manager) Enqueue(op models.Operation, table string, rec *models.Record, priority models.Priority) (*models.SyncQueueItem, error) {
	doc, err := rec.Document()
	if err != nil {
		return nil, err
	}
	snapshot, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot record: %w", err)
	}

	now := time.Now()
	item := &models.SyncQueueItem{
		ID:         models.QueueItemID(op, table, rec.ID, now),
		Type:       op,
		Table:      table,
		RecordID:   rec.ID,
		Data:       snapshot,
		Timestamp:  now.UnixMilli(),
		MaxRetries: models.DefaultMaxRetries,
		Priority:   priority,
		Status:     models.QueueStatusPending,
	}

	if err := m.repo.EnqueueSyncItem(item); err != nil {
		return nil, err
	}

	logging.Debug("Enqueued sync operation",
		map[string]interface{}{
			"item_id":  item.ID,
			"type":     item.Type,
			"table":    item.Table,
			"priority": item.Priority,
		})

	return item, nil
}

// DequeueBatch returns pending items ordered by priority desc,
// timestamp asc. Restricting priorities defers the rest to a later full
// pass; nothing is skipped permanently.
func (m *Manager) DequeueBatch(priorities ...models.Priority) ([]*models.SyncQueueItem, error) {
	return m.repo.DequeueBatch(m.batchSize, priorities...)
}

// MarkCompleted removes an item after a confirmed terminal outcome.
func (m *Manager) MarkCompleted(id string) error {
	if err := m.repo.CompleteQueueItem(id); err != nil {
		return err
	}
	logging.Debug("Completed sync operation", map[string]interface{}{"item_id": id})
	return nil
}

// MarkFailed records a failed attempt. Returns true when the retry
// ceiling was reached and the item was dropped as permanently failed.
func (m *Manager) MarkFailed(id string, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	permanent, err := m.repo.FailQueueItem(id, msg)
	if err != nil {
		return false, err
	}

	if permanent {
		logging.Warn("Sync operation failed permanently, dropping from queue",
			map[string]interface{}{"item_id": id, "error": msg})
	} else {
		logging.Debug("Sync operation failed, will retry on next cycle",
			map[string]interface{}{"item_id": id, "error": msg})
	}

	return permanent, nil
}

// PendingCount returns the number of pending items.
func (m *Manager) PendingCount() (int, error) {
	return m.repo.PendingSyncCount()
}
