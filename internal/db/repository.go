// Package db provides CRUD repository operations for FixSync data models.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opsdeck/fixsync/internal/models"
	"github.com/opsdeck/fixsync/internal/uuid"
)

// Repository provides CRUD operations for all models. It is the single
// owner of the records, sync_queue, sync_metadata and conflict_log
// tables; the queue manager and conflict resolver operate through it
// and never cache a parallel copy of truth.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Store in cache (if already stored by another goroutine, use existing)
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Record Operations
// =====================================================

// StoreRecord persists a local write. Inside one transaction it
// increments the record version, stamps lastModified, upserts the
// record and its sync metadata, and (when enqueue is true) inserts a
// sync queue item carrying a snapshot of the record document.
// The written version and timestamps are reflected back into rec.
func (r *Repository) StoreRecord(rec *models.Record, enqueue bool, op models.Operation, priority models.Priority) (*models.SyncQueueItem, error) {
	now := time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Version is a per-client write counter: non-decreasing per id.
	var current int
	var createdAt int64
	err = tx.QueryRow("SELECT version, created_at FROM records WHERE tbl = ? AND id = ?", rec.Table, rec.ID).
		Scan(&current, &createdAt)
	if err == sql.ErrNoRows {
		current = 0
		createdAt = now.UnixMilli()
	} else if err != nil {
		return nil, err
	}

	rec.Version = current + 1
	rec.LastModified = now.UnixMilli()
	rec.CreatedAt = createdAt
	rec.NeedsSync = rec.NeedsSync || enqueue

	query := `
	INSERT INTO records (tbl, id, payload, last_modified, version, client_id, needs_sync, is_deleted, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tbl, id) DO UPDATE SET
		payload = excluded.payload,
		last_modified = excluded.last_modified,
		version = excluded.version,
		client_id = excluded.client_id,
		needs_sync = excluded.needs_sync,
		is_deleted = excluded.is_deleted
	`
	if _, err := tx.Exec(query, rec.Table, rec.ID, string(rec.Payload), rec.LastModified,
		rec.Version, rec.ClientID, rec.NeedsSync, rec.Deleted, rec.CreatedAt); err != nil {
		return nil, err
	}

	metaQuery := `
	INSERT INTO sync_metadata (tbl, record_id, last_synced, local_version, server_version)
	VALUES (?, ?, 0, ?, 0)
	ON CONFLICT(tbl, record_id) DO UPDATE SET local_version = excluded.local_version
	`
	if _, err := tx.Exec(metaQuery, rec.Table, rec.ID, rec.Version); err != nil {
		return nil, err
	}

	var item *models.SyncQueueItem
	if enqueue {
		doc, err := rec.Document()
		if err != nil {
			return nil, err
		}
		snapshot, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot record: %w", err)
		}

		item = &models.SyncQueueItem{
			ID:         models.QueueItemID(op, rec.Table, rec.ID, now),
			Type:       op,
			Table:      rec.Table,
			RecordID:   rec.ID,
			Data:       snapshot,
			Timestamp:  now.UnixMilli(),
			MaxRetries: models.DefaultMaxRetries,
			Priority:   priority,
			Status:     models.QueueStatusPending,
		}
		if err := insertQueueItem(tx, item); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

// recordColumns is the SELECT list shared by record queries.
const recordColumns = `r.tbl, r.id, r.payload, r.last_modified, r.version, r.client_id, r.needs_sync, r.is_deleted, r.created_at`

func scanRecord(scan func(dest ...interface{}) error) (*models.Record, int64, error) {
	var rec models.Record
	var payload string
	var lastSynced int64
	if err := scan(&rec.Table, &rec.ID, &payload, &rec.LastModified, &rec.Version,
		&rec.ClientID, &rec.NeedsSync, &rec.Deleted, &rec.CreatedAt, &lastSynced); err != nil {
		return nil, 0, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, lastSynced, nil
}

// GetRecord retrieves a record with its sync view. Returns sql.ErrNoRows
// when the record does not exist or is deleted.
func (r *Repository) GetRecord(table, id string) (*models.RecordWithMeta, error) {
	query := `
	SELECT ` + recordColumns + `, COALESCE(m.last_synced, 0)
	FROM records r
	LEFT JOIN sync_metadata m ON m.tbl = r.tbl AND m.record_id = r.id
	WHERE r.tbl = ? AND r.id = ? AND r.is_deleted = 0
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rec, lastSynced, err := scanRecord(stmt.QueryRow(table, id).Scan)
	if err != nil {
		return nil, err
	}

	return withMeta(rec, lastSynced, time.Now()), nil
}

// ListRecords retrieves all live records in a logical table with their
// sync views.
func (r *Repository) ListRecords(table string) ([]*models.RecordWithMeta, error) {
	query := `
	SELECT ` + recordColumns + `, COALESCE(m.last_synced, 0)
	FROM records r
	LEFT JOIN sync_metadata m ON m.tbl = r.tbl AND m.record_id = r.id
	WHERE r.tbl = ? AND r.is_deleted = 0
	ORDER BY r.last_modified DESC
	`
	rows, err := r.db.Query(query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	var out []*models.RecordWithMeta
	for rows.Next() {
		rec, lastSynced, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, withMeta(rec, lastSynced, now))
	}
	return out, rows.Err()
}

func withMeta(rec *models.Record, lastSynced int64, now time.Time) *models.RecordWithMeta {
	return &models.RecordWithMeta{
		Record: rec,
		Meta: models.RecordMeta{
			NeedsSync:  rec.NeedsSync,
			LastSynced: lastSynced,
			Freshness:  models.FreshnessOf(lastSynced, now),
		},
	}
}

// ApplyServerRecord applies a confirmed server-side record state. The
// record, its metadata (lastSynced, serverVersion) and the needs_sync
// flag move together in one transaction. Applying the same server state
// twice yields the same stored version and metadata.
//
// excludeQueueItem names the in-flight queue item (about to be removed
// by the caller) so it does not keep needs_sync raised.
func (r *Repository) ApplyServerRecord(rec *models.Record, serverVersion int, syncedAt time.Time, excludeQueueItem string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// needs_sync stays raised while other queue entries still reference
	// this record (two offline edits produce two queue items).
	var remaining int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM sync_queue
		WHERE tbl = ? AND record_id = ? AND status IN ('pending', 'in_progress') AND id != ?`,
		rec.Table, rec.ID, excludeQueueItem).Scan(&remaining)
	if err != nil {
		return err
	}

	var createdAt int64
	err = tx.QueryRow("SELECT created_at FROM records WHERE tbl = ? AND id = ?", rec.Table, rec.ID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		createdAt = syncedAt.UnixMilli()
	} else if err != nil {
		return err
	}

	query := `
	INSERT INTO records (tbl, id, payload, last_modified, version, client_id, needs_sync, is_deleted, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tbl, id) DO UPDATE SET
		payload = excluded.payload,
		last_modified = excluded.last_modified,
		version = excluded.version,
		client_id = excluded.client_id,
		needs_sync = excluded.needs_sync,
		is_deleted = excluded.is_deleted
	`
	if _, err := tx.Exec(query, rec.Table, rec.ID, string(rec.Payload), rec.LastModified,
		rec.Version, rec.ClientID, remaining > 0, rec.Deleted, createdAt); err != nil {
		return err
	}

	metaQuery := `
	INSERT INTO sync_metadata (tbl, record_id, last_synced, local_version, server_version)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(tbl, record_id) DO UPDATE SET
		last_synced = excluded.last_synced,
		local_version = excluded.local_version,
		server_version = excluded.server_version
	`
	if _, err := tx.Exec(metaQuery, rec.Table, rec.ID, syncedAt.UnixMilli(), rec.Version, serverVersion); err != nil {
		return err
	}

	return tx.Commit()
}

// Tables returns the distinct logical table names present in the store.
func (r *Repository) Tables() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT tbl FROM records ORDER BY tbl")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// =====================================================
// Sync Queue Operations
// =====================================================

func insertQueueItem(tx *sql.Tx, item *models.SyncQueueItem) error {
	query := `
	INSERT INTO sync_queue (id, op_type, tbl, record_id, data, timestamp, retry_count, max_retries, priority, status, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query, item.ID, item.Type, item.Table, item.RecordID, string(item.Data),
		item.Timestamp, item.RetryCount, item.MaxRetries, item.Priority, item.Status, item.LastError)
	return err
}

// EnqueueSyncItem persists a new queue item.
func (r *Repository) EnqueueSyncItem(item *models.SyncQueueItem) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertQueueItem(tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

// DequeueBatch returns pending queue items ordered by priority desc,
// timestamp asc. An empty priorities list means all priorities.
func (r *Repository) DequeueBatch(limit int, priorities ...models.Priority) ([]*models.SyncQueueItem, error) {
	query := `
	SELECT id, op_type, tbl, record_id, data, timestamp, retry_count, max_retries, priority, status, last_error
	FROM sync_queue
	WHERE status = 'pending'
	`
	args := []interface{}{}
	if len(priorities) > 0 {
		placeholders := make([]string, len(priorities))
		for i, p := range priorities {
			placeholders[i] = "?"
			args = append(args, string(p))
		}
		query += " AND priority IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += `
	ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, timestamp ASC
	LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		var item models.SyncQueueItem
		var data string
		if err := rows.Scan(&item.ID, &item.Type, &item.Table, &item.RecordID, &data,
			&item.Timestamp, &item.RetryCount, &item.MaxRetries, &item.Priority,
			&item.Status, &item.LastError); err != nil {
			return nil, err
		}
		item.Data = json.RawMessage(data)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// CompleteQueueItem removes a queue item after a confirmed terminal
// outcome and lowers needs_sync on its record when no other queue
// entries reference it.
func (r *Repository) CompleteQueueItem(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var table, recordID string
	err = tx.QueryRow("SELECT tbl, record_id FROM sync_queue WHERE id = ?", id).Scan(&table, &recordID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("queue item %s not found", id)
	} else if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return err
	}

	clear := `
	UPDATE records SET needs_sync = 0
	WHERE tbl = ? AND id = ?
	  AND NOT EXISTS (
		SELECT 1 FROM sync_queue
		WHERE tbl = ? AND record_id = ? AND status IN ('pending', 'in_progress')
	  )`
	if _, err := tx.Exec(clear, table, recordID, table, recordID); err != nil {
		return err
	}

	return tx.Commit()
}

// FailQueueItem records a failed sync attempt. The retry count is
// incremented; once it reaches the item's retry ceiling the item is
// removed and reported as permanently failed. The record itself keeps
// needs_sync raised so a later explicit store can retry.
func (r *Repository) FailQueueItem(id string, lastError string) (permanent bool, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	err = tx.QueryRow("SELECT retry_count, max_retries FROM sync_queue WHERE id = ?", id).
		Scan(&retryCount, &maxRetries)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("queue item %s not found", id)
	} else if err != nil {
		return false, err
	}

	retryCount++
	if retryCount >= maxRetries {
		if _, err := tx.Exec("DELETE FROM sync_queue WHERE id = ?", id); err != nil {
			return false, err
		}
		if err := tx.Commit(); err != nil {
			return false, err
		}
		return true, nil
	}

	query := `UPDATE sync_queue SET retry_count = ?, last_error = ?, status = 'pending' WHERE id = ?`
	if _, err := tx.Exec(query, retryCount, lastError, id); err != nil {
		return false, err
	}
	return false, tx.Commit()
}

// PendingSyncCount returns the number of pending queue items.
func (r *Repository) PendingSyncCount() (int, error) {
	stmt, err := r.PrepareStmt("SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'")
	if err != nil {
		return 0, err
	}
	var count int
	err = stmt.QueryRow().Scan(&count)
	return count, err
}

// PendingCountForRecord returns the number of uncompleted queue entries
// referencing one record.
func (r *Repository) PendingCountForRecord(table, recordID string) (int, error) {
	stmt, err := r.PrepareStmt(`
		SELECT COUNT(*) FROM sync_queue
		WHERE tbl = ? AND record_id = ? AND status IN ('pending', 'in_progress')`)
	if err != nil {
		return 0, err
	}
	var count int
	err = stmt.QueryRow(table, recordID).Scan(&count)
	return count, err
}

// =====================================================
// Sync Metadata Operations
// =====================================================

// GetSyncMetadata retrieves the sync metadata for one record.
// Returns sql.ErrNoRows when the record was never stored.
func (r *Repository) GetSyncMetadata(table, recordID string) (*models.SyncMetadata, error) {
	query := `
	SELECT tbl, record_id, last_synced, local_version, server_version
	FROM sync_metadata WHERE tbl = ? AND record_id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var meta models.SyncMetadata
	err = stmt.QueryRow(table, recordID).Scan(&meta.Table, &meta.RecordID,
		&meta.LastSynced, &meta.LocalVersion, &meta.ServerVersion)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// UpsertSyncMetadata writes the full metadata row.
func (r *Repository) UpsertSyncMetadata(meta *models.SyncMetadata) error {
	query := `
	INSERT INTO sync_metadata (tbl, record_id, last_synced, local_version, server_version)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(tbl, record_id) DO UPDATE SET
		last_synced = excluded.last_synced,
		local_version = excluded.local_version,
		server_version = excluded.server_version
	`
	_, err := r.db.Exec(query, meta.Table, meta.RecordID, meta.LastSynced,
		meta.LocalVersion, meta.ServerVersion)
	return err
}

// TableSyncWatermark returns the latest confirmed sync time (unix ms)
// across a table, used as the "changed since" cursor for the download
// phase.
func (r *Repository) TableSyncWatermark(table string) (int64, error) {
	stmt, err := r.PrepareStmt("SELECT COALESCE(MAX(last_synced), 0) FROM sync_metadata WHERE tbl = ?")
	if err != nil {
		return 0, err
	}
	var watermark int64
	err = stmt.QueryRow(table).Scan(&watermark)
	return watermark, err
}

// =====================================================
// Conflict Log Operations
// =====================================================

// CreateConflictRecord persists a detected conflict.
func (r *Repository) CreateConflictRecord(c *models.ConflictRecord) error {
	if c.ID == "" {
		c.ID = models.UUID(uuid.New())
	}
	if c.DetectedAt == 0 {
		c.DetectedAt = time.Now().UnixMilli()
	}

	query := `
	INSERT INTO conflict_log (id, tbl, record_id, strategy, client_data, server_data, resolved_data, resolved, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var resolvedData interface{}
	if len(c.ResolvedData) > 0 {
		resolvedData = string(c.ResolvedData)
	}
	_, err := r.db.Exec(query, c.ID, c.Table, c.RecordID, c.Strategy,
		string(c.ClientData), string(c.ServerData), resolvedData, c.Resolved, c.DetectedAt)
	return err
}

// ListUnresolvedConflicts returns conflicts awaiting manual resolution,
// oldest first.
func (r *Repository) ListUnresolvedConflicts() ([]*models.ConflictRecord, error) {
	query := `
	SELECT id, tbl, record_id, strategy, client_data, server_data, resolved_data, resolved, detected_at
	FROM conflict_log WHERE resolved = 0 ORDER BY detected_at ASC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// GetConflictRecord retrieves one conflict by id.
func (r *Repository) GetConflictRecord(id models.UUID) (*models.ConflictRecord, error) {
	query := `
	SELECT id, tbl, record_id, strategy, client_data, server_data, resolved_data, resolved, detected_at
	FROM conflict_log WHERE id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanConflict(stmt.QueryRow(id).Scan)
}

func scanConflict(scan func(dest ...interface{}) error) (*models.ConflictRecord, error) {
	var c models.ConflictRecord
	var clientData, serverData string
	var resolvedData sql.NullString
	if err := scan(&c.ID, &c.Table, &c.RecordID, &c.Strategy, &clientData, &serverData,
		&resolvedData, &c.Resolved, &c.DetectedAt); err != nil {
		return nil, err
	}
	c.ClientData = json.RawMessage(clientData)
	c.ServerData = json.RawMessage(serverData)
	if resolvedData.Valid {
		c.ResolvedData = json.RawMessage(resolvedData.String)
	}
	return &c, nil
}

// ResolveConflictRecord marks a conflict resolved with its outcome.
func (r *Repository) ResolveConflictRecord(id models.UUID, strategy models.Strategy, resolvedData json.RawMessage) error {
	query := `UPDATE conflict_log SET resolved = 1, strategy = ?, resolved_data = ? WHERE id = ?`
	res, err := r.db.Exec(query, strategy, string(resolvedData), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("conflict %s not found", id)
	}
	return nil
}
