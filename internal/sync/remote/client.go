// Package remote implements the push/pull collaborators of the sync
// engine: a single-operation sync endpoint and an incremental changes
// endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opsdeck/fixsync/internal/errors"
	"github.com/opsdeck/fixsync/internal/models"
)

// PushOutcome is the remote's answer to one replayed mutation. Exactly
// one of Accepted or Conflict is set on a non-error response.
type PushOutcome struct {
	// Accepted: the server took the write. Data is the server-accepted
	// (possibly transformed) record document.
	Accepted      bool
	Data          map[string]interface{}
	ServerVersion int

	// Conflict: the server holds a newer version of the record.
	// ServerData carries the current server-side document.
	Conflict        bool
	ServerData      map[string]interface{}
	ConflictVersion int
}

// Change is one server-side record changed since a pull cursor.
type Change struct {
	ID            string
	Data          map[string]interface{}
	ServerVersion int
}

// Client is the engine's view of the remote source of truth. Retry and
// conflict semantics live entirely on the engine side; the remote is an
// opaque request/response collaborator.
type Client interface {
	// Push replays one queued mutation.
	Push(ctx context.Context, op models.Operation, table string, data json.RawMessage) (*PushOutcome, error)

	// Pull returns records changed server-side since the cursor (unix ms)
	// for one table.
	Pull(ctx context.Context, table string, since int64) ([]Change, error)
}

// HTTPClient talks JSON over HTTP to the remote sync API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an HTTPClient for a base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// pushRequest is the wire shape of one sync operation.
type pushRequest struct {
	Type  models.Operation `json:"type"`
	Table string           `json:"table"`
	Data  json.RawMessage  `json:"data"`
}

// pushResponse is the wire shape of the sync endpoint's answer. On 200
// Data carries the accepted record; on 409 it carries the current
// server-side record.
type pushResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Version int                    `json:"version"`
}

// Push posts a single {type, table, data} operation.
func (c *HTTPClient) Push(ctx context.Context, op models.Operation, table string, data json.RawMessage) (*PushOutcome, error) {
	body, err := json.Marshal(pushRequest{Type: op, Table: table, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRemoteFailed, "push request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var pr pushResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return nil, errors.Wrap(errors.ErrRemoteFailed, "failed to decode push response", err)
		}
		return &PushOutcome{Accepted: true, Data: pr.Data, ServerVersion: pr.Version}, nil

	case http.StatusConflict:
		var pr pushResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return nil, errors.Wrap(errors.ErrRemoteFailed, "failed to decode conflict response", err)
		}
		return &PushOutcome{Conflict: true, ServerData: pr.Data, ConflictVersion: pr.Version}, nil

	default:
		return nil, errors.New(errors.ErrRemoteBadStatus,
			fmt.Sprintf("remote returned status %d", resp.StatusCode))
	}
}

// pullResponse is the wire shape of the changes endpoint.
type pullResponse struct {
	Records []struct {
		ID      string                 `json:"id"`
		Data    map[string]interface{} `json:"data"`
		Version int                    `json:"version"`
	} `json:"records"`
}

// Pull fetches records changed since the cursor for one table.
func (c *HTTPClient) Pull(ctx context.Context, table string, since int64) ([]Change, error) {
	u := fmt.Sprintf("%s/changes?table=%s&since=%s",
		c.baseURL, url.QueryEscape(table), strconv.FormatInt(since, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRemoteFailed, "pull request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrRemoteBadStatus,
			fmt.Sprintf("remote returned status %d", resp.StatusCode))
	}

	var pr pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, errors.Wrap(errors.ErrRemoteFailed, "failed to decode pull response", err)
	}

	changes := make([]Change, 0, len(pr.Records))
	for _, rec := range pr.Records {
		changes = append(changes, Change{ID: rec.ID, Data: rec.Data, ServerVersion: rec.Version})
	}
	return changes, nil
}
