// Package sync provides the offline-first synchronization engine.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/opsdeck/fixsync/internal/connectivity"
	"github.com/opsdeck/fixsync/internal/db"
	"github.com/opsdeck/fixsync/internal/errors"
	"github.com/opsdeck/fixsync/internal/events"
	"github.com/opsdeck/fixsync/internal/logging"
	"github.com/opsdeck/fixsync/internal/models"
	"github.com/opsdeck/fixsync/internal/sync/conflict"
	"github.com/opsdeck/fixsync/internal/sync/queue"
	"github.com/opsdeck/fixsync/internal/sync/remote"
)

// SyncStatus is the user-visible state of the engine.
type SyncStatus string

const (
	SyncStatusSyncing      SyncStatus = "syncing"
	SyncStatusOffline      SyncStatus = "offline"
	SyncStatusPending      SyncStatus = "pending"
	SyncStatusSynchronized SyncStatus = "synchronized"
)

// SyncResult is the outcome of one synchronize cycle.
type SyncResult struct {
	Success      bool                     `json:"success"`
	Synchronized int                      `json:"synchronized"`
	Failed       int                      `json:"failed"`
	Conflicts    []*models.ConflictRecord `json:"conflicts"`
}

// Engine coordinates local writes, the persisted sync queue, the
// conflict resolver and the remote endpoints. It is constructed once
// per application/session and passed by reference; there is no package
// singleton, so tests can run isolated instances.
type Engine struct {
	repo     *db.Repository
	queue    *queue.Manager
	resolver *conflict.Resolver
	remote   remote.Client
	monitor  *connectivity.Monitor
	bus      *events.Bus
	clientID string

	mu       sync.Mutex
	syncing  bool
	lastSync *time.Time
}

// NewEngine creates an Engine. clientID identifies this installation and
// is stamped onto every local write.
func NewEngine(repo *db.Repository, q *queue.Manager, resolver *conflict.Resolver,
	remoteClient remote.Client, monitor *connectivity.Monitor, bus *events.Bus, clientID string) *Engine {
	return &Engine{
		repo:     repo,
		queue:    q,
		resolver: resolver,
		remote:   remoteClient,
		monitor:  monitor,
		bus:      bus,
		clientID: clientID,
	}
}

// Events returns the engine's event bus for subscription.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// =====================================================
// Local store surface
// =====================================================

// Store persists a local write. The record version is incremented,
// lastModified and clientId are stamped, and when the client is offline
// (or syncImmediate is set) an update operation is queued at medium
// priority. Storage failures are returned to the caller; local data is
// never silently dropped.
func (e *Engine) Store(table string, data map[string]interface{}, syncImmediate bool) (*models.Record, error) {
	id, _ := data["id"].(string)
	if id == "" {
		return nil, errors.New(errors.ErrMissingID, "record data must carry an id")
	}

	rec, err := models.RecordFromDocument(table, data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRecordInvalid, "failed to build record", err)
	}
	rec.ClientID = e.clientID

	needsSync := !e.monitor.Online() || syncImmediate
	rec.NeedsSync = needsSync

	if _, err := e.repo.StoreRecord(rec, needsSync, models.OperationUpdate, models.PriorityMedium); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to store record", err)
	}

	e.bus.Emit(events.Event{
		Type: events.TypeDataStored,
		Data: map[string]interface{}{
			"table":     table,
			"id":        id,
			"needsSync": needsSync,
		},
	})

	return rec, nil
}

// Delete soft-deletes a record and queues a delete operation for the
// remote.
func (e *Engine) Delete(table, id string) error {
	existing, err := e.repo.GetRecord(table, id)
	if err == sql.ErrNoRows {
		return errors.New(errors.ErrRecordNotFound, "record not found")
	} else if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to load record", err)
	}

	rec := existing.Record
	rec.Deleted = true
	rec.ClientID = e.clientID
	rec.NeedsSync = true

	if _, err := e.repo.StoreRecord(rec, true, models.OperationDelete, models.PriorityMedium); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to delete record", err)
	}

	e.bus.Emit(events.Event{
		Type: events.TypeDataStored,
		Data: map[string]interface{}{
			"table":     table,
			"id":        id,
			"needsSync": true,
		},
	})
	return nil
}

// Retrieve returns one record with its sync view. It never blocks on
// the network.
func (e *Engine) Retrieve(table, id string) (*models.RecordWithMeta, error) {
	rec, err := e.repo.GetRecord(table, id)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrRecordNotFound, "record not found")
	} else if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to retrieve record", err)
	}
	return rec, nil
}

// RetrieveAll returns all live records of a table with their sync views.
func (e *Engine) RetrieveAll(table string) ([]*models.RecordWithMeta, error) {
	recs, err := e.repo.ListRecords(table)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list records", err)
	}
	return recs, nil
}

// =====================================================
// Synchronize cycle
// =====================================================

// Synchronize runs the full cycle: drain the queue in priority order,
// push each item, route conflicts through the resolver, then pull
// outstanding server-side changes. A second call while one is in flight
// returns immediately with a no-op result instead of racing the first.
func (e *Engine) Synchronize(ctx context.Context) *SyncResult {
	return e.synchronize(ctx, nil)
}

// SmartSync consults the network quality before syncing: on a poor link
// only high priority items are pushed, on a moderate link high and
// medium. Deferred items wait for the next full cycle; nothing is
// skipped permanently.
func (e *Engine) SmartSync(ctx context.Context) *SyncResult {
	switch e.monitor.Quality() {
	case connectivity.QualityPoor:
		logging.Info("Smart sync: poor connection, high priority only", nil)
		return e.synchronize(ctx, []models.Priority{models.PriorityHigh})
	case connectivity.QualityModerate:
		logging.Info("Smart sync: moderate connection, deferring low priority", nil)
		return e.synchronize(ctx, []models.Priority{models.PriorityHigh, models.PriorityMedium})
	default:
		return e.Synchronize(ctx)
	}
}

func noopResult() *SyncResult {
	return &SyncResult{Success: false, Conflicts: []*models.ConflictRecord{}}
}

// synchronize is the shared cycle. A nil priorities slice means a full
// pass including the download phase.
func (e *Engine) synchronize(ctx context.Context, priorities []models.Priority) *SyncResult {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		logging.Debug("Sync already in progress, skipping", nil)
		return noopResult()
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	result := &SyncResult{Conflicts: []*models.ConflictRecord{}}

	items, err := e.queue.DequeueBatch(priorities...)
	if err != nil {
		logging.ErrorWithCode("Failed to read sync queue", string(errors.ErrDatabase), err)
		return result
	}

	// Items are processed sequentially so that a later item never
	// overwrites metadata written by an earlier item for the same record.
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		// Going offline mid-run stops new dispatches; in-flight calls
		// are not aborted.
		if !e.monitor.Online() {
			logging.Info("Went offline mid-sync, deferring remaining items", nil)
			break
		}
		e.processItem(ctx, item, result)
	}

	// Download phase: pull server-side changes not yet reflected locally.
	if priorities == nil && e.monitor.Online() && ctx.Err() == nil {
		e.downloadChanges(ctx, result)
	}

	result.Success = true
	now := time.Now()
	e.mu.Lock()
	e.lastSync = &now
	e.mu.Unlock()

	e.bus.Emit(events.Event{
		Type: events.TypeSyncComplete,
		Data: map[string]interface{}{
			"synchronized": result.Synchronized,
			"failed":       result.Failed,
			"conflicts":    len(result.Conflicts),
		},
	})

	logging.Info("Sync cycle completed",
		map[string]interface{}{
			"synchronized": result.Synchronized,
			"failed":       result.Failed,
			"conflicts":    len(result.Conflicts),
		})

	return result
}

// processItem replays one queued mutation against the remote.
func (e *Engine) processItem(ctx context.Context, item *models.SyncQueueItem, result *SyncResult) {
	outcome, err := e.remote.Push(ctx, item.Type, item.Table, item.Data)
	if err != nil {
		// Transient remote failure: retry on a later cycle until the
		// ceiling, then drop and count.
		permanent, ferr := e.queue.MarkFailed(item.ID, err)
		if ferr != nil {
			logging.ErrorWithCode("Failed to record queue failure", string(errors.ErrDatabase), ferr,
				map[string]interface{}{"item_id": item.ID})
		}
		if permanent {
			result.Failed++
		}
		return
	}

	if outcome.Accepted {
		e.applyAccepted(item, outcome, result)
		return
	}

	if outcome.Conflict {
		e.handlePushConflict(item, outcome, result)
		return
	}

	// Remote answered but committed to neither outcome.
	permanent, ferr := e.queue.MarkFailed(item.ID, errors.New(errors.ErrRemoteFailed, "remote returned no outcome"))
	if ferr == nil && permanent {
		result.Failed++
	}
}

// applyAccepted applies a server-accepted record and retires the item.
func (e *Engine) applyAccepted(item *models.SyncQueueItem, outcome *remote.PushOutcome, result *SyncResult) {
	rec, err := models.RecordFromDocument(item.Table, outcome.Data)
	if err != nil {
		logging.ErrorWithCode("Server returned malformed record", string(errors.ErrRemoteFailed), err,
			map[string]interface{}{"item_id": item.ID})
		if permanent, _ := e.queue.MarkFailed(item.ID, err); permanent {
			result.Failed++
		}
		return
	}

	if err := e.repo.ApplyServerRecord(rec, outcome.ServerVersion, time.Now(), item.ID); err != nil {
		logging.ErrorWithCode("Failed to apply server record", string(errors.ErrDatabase), err,
			map[string]interface{}{"item_id": item.ID})
		if permanent, _ := e.queue.MarkFailed(item.ID, err); permanent {
			result.Failed++
		}
		return
	}

	if err := e.queue.MarkCompleted(item.ID); err != nil {
		logging.Error("Failed to retire queue item", err,
			map[string]interface{}{"item_id": item.ID})
	}
	result.Synchronized++
}

// handlePushConflict routes a remote-reported conflict through the
// resolver. Manual conflicts persist and leave the queue item pending;
// anything else applies the resolved data and retires the item.
func (e *Engine) handlePushConflict(item *models.SyncQueueItem, outcome *remote.PushOutcome, result *SyncResult) {
	var clientDoc map[string]interface{}
	if err := json.Unmarshal(item.Data, &clientDoc); err != nil {
		logging.ErrorWithCode("Queued snapshot is malformed", string(errors.ErrConflictInvalid), err,
			map[string]interface{}{"item_id": item.ID})
		if permanent, _ := e.queue.MarkFailed(item.ID, err); permanent {
			result.Failed++
		}
		return
	}

	record, err := conflict.NewConflictRecord(item.Table, item.RecordID, e.resolver.DefaultStrategy(), clientDoc, outcome.ServerData)
	if err != nil {
		logging.ErrorWithCode("Failed to build conflict record", string(errors.ErrConflictInvalid), err, nil)
		return
	}

	e.resolveAndApply(record, outcome.ConflictVersion, item.ID, result)
}

// resolveAndApply runs one conflict through the resolver and applies the
// outcome. excludeQueueItem is empty for download-phase conflicts.
func (e *Engine) resolveAndApply(record *models.ConflictRecord, serverVersion int, excludeQueueItem string, result *SyncResult) {
	resolution, err := e.resolver.Resolve(record)
	if err != nil {
		logging.ErrorWithCode("Conflict resolution failed", string(errors.ErrSyncConflict), err,
			map[string]interface{}{"table": record.Table, "record_id": record.RecordID})
		return
	}

	if resolution.Strategy == models.StrategyManual {
		record.Strategy = models.StrategyManual
		if err := e.repo.CreateConflictRecord(record); err != nil {
			logging.ErrorWithCode("Failed to persist manual conflict", string(errors.ErrDatabase), err, nil)
			return
		}
		result.Conflicts = append(result.Conflicts, record)
		return
	}

	resolved, err := models.RecordFromDocument(record.Table, resolution.ResolvedData)
	if err != nil {
		logging.ErrorWithCode("Resolved data is malformed", string(errors.ErrConflictInvalid), err, nil)
		return
	}
	resolved.ClientID = e.clientID

	if err := e.repo.ApplyServerRecord(resolved, serverVersion, time.Now(), excludeQueueItem); err != nil {
		logging.ErrorWithCode("Failed to apply resolved record", string(errors.ErrDatabase), err, nil)
		return
	}

	record.Strategy = resolution.Strategy
	record.Resolved = true
	record.ResolvedData, _ = json.Marshal(resolution.ResolvedData)
	if err := e.repo.CreateConflictRecord(record); err != nil {
		logging.Error("Failed to archive resolved conflict", err, nil)
	}

	if excludeQueueItem != "" {
		if err := e.queue.MarkCompleted(excludeQueueItem); err != nil {
			logging.Error("Failed to retire queue item", err,
				map[string]interface{}{"item_id": excludeQueueItem})
		}
	}

	result.Synchronized++
	result.Conflicts = append(result.Conflicts, record)
}

// downloadChanges pulls server-side changes since each table's sync
// watermark and applies them through the same conflict path as pushes.
func (e *Engine) downloadChanges(ctx context.Context, result *SyncResult) {
	tables, err := e.repo.Tables()
	if err != nil {
		logging.ErrorWithCode("Failed to enumerate tables", string(errors.ErrDatabase), err)
		return
	}

	for _, table := range tables {
		if ctx.Err() != nil || !e.monitor.Online() {
			return
		}

		since, err := e.repo.TableSyncWatermark(table)
		if err != nil {
			logging.ErrorWithCode("Failed to read sync watermark", string(errors.ErrDatabase), err,
				map[string]interface{}{"table": table})
			continue
		}

		changes, err := e.remote.Pull(ctx, table, since)
		if err != nil {
			logging.ErrorWithCode("Pull failed", string(errors.ErrRemoteFailed), err,
				map[string]interface{}{"table": table})
			continue
		}

		for _, change := range changes {
			e.applyRemoteChange(table, change, result)
		}
	}
}

// applyRemoteChange reconciles one pulled record with local state.
func (e *Engine) applyRemoteChange(table string, change remote.Change, result *SyncResult) {
	serverRec, err := models.RecordFromDocument(table, change.Data)
	if err != nil {
		logging.ErrorWithCode("Pulled record is malformed", string(errors.ErrRemoteFailed), err,
			map[string]interface{}{"table": table, "record_id": change.ID})
		return
	}

	local, err := e.repo.GetRecord(table, change.ID)
	if err == sql.ErrNoRows {
		// New on the server: create locally.
		if err := e.repo.ApplyServerRecord(serverRec, change.ServerVersion, time.Now(), ""); err != nil {
			logging.ErrorWithCode("Failed to apply pulled record", string(errors.ErrDatabase), err, nil)
			return
		}
		result.Synchronized++
		return
	} else if err != nil {
		logging.ErrorWithCode("Failed to load local record", string(errors.ErrDatabase), err, nil)
		return
	}

	if local.NeedsSync {
		// Both sides changed since the last confirmed sync.
		clientDoc, err := local.Record.Document()
		if err != nil {
			logging.ErrorWithCode("Local record is malformed", string(errors.ErrConflictInvalid), err, nil)
			return
		}
		record, err := conflict.NewConflictRecord(table, change.ID, e.resolver.DefaultStrategy(), clientDoc, change.Data)
		if err != nil {
			logging.ErrorWithCode("Failed to build conflict record", string(errors.ErrConflictInvalid), err, nil)
			return
		}
		e.resolveAndApply(record, change.ServerVersion, "", result)
		return
	}

	meta, err := e.repo.GetSyncMetadata(table, change.ID)
	if err != nil && err != sql.ErrNoRows {
		logging.ErrorWithCode("Failed to load sync metadata", string(errors.ErrDatabase), err, nil)
		return
	}
	if meta != nil && change.ServerVersion <= meta.ServerVersion {
		// Already reflected locally; applying again would be a no-op.
		return
	}

	if err := e.repo.ApplyServerRecord(serverRec, change.ServerVersion, time.Now(), ""); err != nil {
		logging.ErrorWithCode("Failed to apply pulled record", string(errors.ErrDatabase), err, nil)
		return
	}
	result.Synchronized++
}

// =====================================================
// Status surface
// =====================================================

// IsOffline reports whether the engine considers itself offline.
func (e *Engine) IsOffline() bool {
	return !e.monitor.Online()
}

// PendingSyncCount returns the number of queued mutations.
func (e *Engine) PendingSyncCount() int {
	count, err := e.repo.PendingSyncCount()
	if err != nil {
		logging.Error("Failed to count pending items", err)
		return 0
	}
	return count
}

// LastSync returns the time of the last completed cycle, or nil.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// Status derives the user-visible sync state.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	syncing := e.syncing
	e.mu.Unlock()

	switch {
	case syncing:
		return SyncStatusSyncing
	case !e.monitor.Online():
		return SyncStatusOffline
	case e.PendingSyncCount() > 0:
		return SyncStatusPending
	default:
		return SyncStatusSynchronized
	}
}

// Requeue re-enqueues a record whose queue entry was dropped after
// exhausting retries. The record itself was never lost; this creates a
// fresh queue entry from its current state.
func (e *Engine) Requeue(table, id string, priority models.Priority) (*models.SyncQueueItem, error) {
	rec, err := e.repo.GetRecord(table, id)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrRecordNotFound, "record not found")
	} else if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load record", err)
	}

	item, err := e.queue.Enqueue(models.OperationUpdate, table, rec.Record, priority)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to enqueue record", err)
	}
	return item, nil
}

// =====================================================
// Manual conflict surface
// =====================================================

// ManualConflicts lists conflicts awaiting operator resolution.
func (e *Engine) ManualConflicts() ([]*models.ConflictRecord, error) {
	return e.repo.ListUnresolvedConflicts()
}

// ResolveManualConflict settles a persisted manual conflict with an
// operator-chosen strategy. The resolved data is stored as a fresh
// local write so it flows to the remote through the normal queue path.
func (e *Engine) ResolveManualConflict(id models.UUID, strategy models.Strategy) error {
	if strategy == models.StrategyManual {
		return errors.New(errors.ErrInvalid, "manual is not a resolution")
	}

	record, err := e.repo.GetConflictRecord(id)
	if err == sql.ErrNoRows {
		return errors.New(errors.ErrNotFound, "conflict not found")
	} else if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to load conflict", err)
	}

	record.Strategy = strategy
	resolution, err := e.resolver.Resolve(record)
	if err != nil {
		return errors.Wrap(errors.ErrSyncConflict, "failed to resolve conflict", err)
	}

	if _, err := e.Store(record.Table, resolution.ResolvedData, true); err != nil {
		return err
	}

	resolvedData, _ := json.Marshal(resolution.ResolvedData)
	if err := e.repo.ResolveConflictRecord(id, strategy, resolvedData); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to mark conflict resolved", err)
	}
	return nil
}
