package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsdeck/fixsync/internal/connectivity"
	"github.com/opsdeck/fixsync/internal/errors"
	"github.com/opsdeck/fixsync/internal/models"
	syncpkg "github.com/opsdeck/fixsync/internal/sync"
	"github.com/opsdeck/fixsync/internal/sync/scheduler"
)

// apiServer exposes the engine over the local HTTP API.
type apiServer struct {
	engine    *syncpkg.Engine
	monitor   *connectivity.Monitor
	scheduler *scheduler.Scheduler
}

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an application error onto an HTTP response.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.ErrInternal

	if appErr, ok := err.(*errors.AppError); ok {
		code = appErr.Code
		switch appErr.Code {
		case errors.ErrRecordNotFound, errors.ErrNotFound, errors.ErrQueueItemNotFound:
			status = http.StatusNotFound
		case errors.ErrMissingID, errors.ErrRecordInvalid, errors.ErrInvalid, errors.ErrValidation:
			status = http.StatusBadRequest
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	})
}

// handleStatus reports engine, connectivity and scheduler state.
func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	netStatus := s.monitor.Status()
	schedStatus := s.scheduler.GetStatus()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       s.engine.Status(),
		"online":       netStatus.Online,
		"quality":      netStatus.Quality().String(),
		"pendingItems": s.engine.PendingSyncCount(),
		"lastSync":     s.engine.LastSync(),
		"scheduler": map[string]interface{}{
			"running":  schedStatus.IsRunning,
			"lastSync": schedStatus.LastSyncTime,
		},
	})
}

// handleSync triggers a sync cycle. ?smart=true runs a quality-aware
// pass instead of a full one.
func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	var result *syncpkg.SyncResult
	if r.URL.Query().Get("smart") == "true" {
		result = s.engine.SmartSync(r.Context())
	} else {
		result = s.engine.Synchronize(r.Context())
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePending reports the queued mutation count.
func (s *apiServer) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": s.engine.PendingSyncCount(),
	})
}

// handleStoreRecord persists a local write.
func (s *apiServer) handleStoreRecord(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	doc["id"] = id

	syncImmediate := r.URL.Query().Get("syncImmediate") == "true"

	rec, err := s.engine.Store(table, doc, syncImmediate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetRecord returns one record with its sync view.
func (s *apiServer) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	rec, err := s.engine.Retrieve(table, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListRecords returns all live records of a table.
func (s *apiServer) handleListRecords(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	recs, err := s.engine.RetrieveAll(table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": recs,
		"count":   len(recs),
	})
}

// handleDeleteRecord soft-deletes a record and queues the delete.
func (s *apiServer) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	if err := s.engine.Delete(table, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// handleRequeue re-enqueues a record whose queue entry was dropped.
func (s *apiServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	var body struct {
		Priority models.Priority `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Priority == "" {
		body.Priority = models.PriorityMedium
	}

	item, err := s.engine.Requeue(table, id, body.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleListConflicts lists conflicts awaiting operator resolution.
func (s *apiServer) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.engine.ManualConflicts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// handleResolveConflict settles a persisted manual conflict.
func (s *apiServer) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Strategy models.Strategy `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}

	if err := s.engine.ResolveManualConflict(models.UUID(id), body.Strategy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": true})
}
