// Package conflict provides conflict resolution for multi-writer
// synchronization.
package conflict

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsdeck/fixsync/internal/logging"
	"github.com/opsdeck/fixsync/internal/models"
)

// timestampKeys are the fields merged by taking the newer value.
var timestampKeys = map[string]bool{
	"lastModified": true,
	"updatedAt":    true,
}

// Resolver resolves conflicts between a client and a server version of
// the same record. The strategy is chosen per call site, not fixed
// globally.
type Resolver struct {
	defaultStrategy models.Strategy
}

// NewResolver creates a Resolver with a default strategy for call sites
// that do not specify one.
func NewResolver(defaultStrategy models.Strategy) *Resolver {
	return &Resolver{defaultStrategy: defaultStrategy}
}

// DefaultStrategy returns the resolver's fallback strategy.
func (r *Resolver) DefaultStrategy() models.Strategy {
	return r.defaultStrategy
}

// Resolution is the outcome of resolving one conflict. ResolvedData is
// nil for manual conflicts, which await operator action.
type Resolution struct {
	Strategy     models.Strategy
	ResolvedData map[string]interface{}
}

// NewConflictRecord builds an unresolved ConflictRecord from the two
// competing documents.
func NewConflictRecord(table, recordID string, strategy models.Strategy, clientData, serverData map[string]interface{}) (*models.ConflictRecord, error) {
	client, err := json.Marshal(clientData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client data: %w", err)
	}
	server, err := json.Marshal(serverData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode server data: %w", err)
	}

	return &models.ConflictRecord{
		Table:      table,
		RecordID:   recordID,
		Strategy:   strategy,
		ClientData: client,
		ServerData: server,
		DetectedAt: time.Now().UnixMilli(),
	}, nil
}

// Resolve applies the conflict's strategy to its competing versions.
// Manual conflicts return no resolved data; everything else resolves
// deterministically.
func (r *Resolver) Resolve(c *models.ConflictRecord) (*Resolution, error) {
	if len(c.ClientData) == 0 || len(c.ServerData) == 0 {
		return nil, ErrInvalidConflict
	}

	var clientData, serverData map[string]interface{}
	if err := json.Unmarshal(c.ClientData, &clientData); err != nil {
		return nil, fmt.Errorf("failed to decode client data: %w", err)
	}
	if err := json.Unmarshal(c.ServerData, &serverData); err != nil {
		return nil, fmt.Errorf("failed to decode server data: %w", err)
	}

	strategy := c.Strategy
	if strategy == "" {
		strategy = r.defaultStrategy
	}

	logging.Info("Resolving conflict",
		map[string]interface{}{
			"table":     c.Table,
			"record_id": c.RecordID,
			"strategy":  strategy,
		})

	switch strategy {
	case models.StrategyClientWins:
		return &Resolution{Strategy: strategy, ResolvedData: clientData}, nil

	case models.StrategyServerWins:
		return &Resolution{Strategy: strategy, ResolvedData: serverData}, nil

	case models.StrategyMerge:
		merged := Merge(clientData, serverData)
		return &Resolution{Strategy: strategy, ResolvedData: merged}, nil

	case models.StrategyManual:
		logging.Warn("Conflict queued for manual resolution",
			map[string]interface{}{
				"table":     c.Table,
				"record_id": c.RecordID,
			})
		return &Resolution{Strategy: models.StrategyManual}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// Merge reconciles two documents field by field, starting from a copy of
// the server document:
//   - timestamp fields (lastModified, updatedAt) take the newer value
//   - arrays union, de-duplicated, order not significant
//   - nested objects recurse
//   - other scalars take the client value iff the client document's
//     lastModified is newer than the server's
//
// The merge is deterministic for a fixed pair of inputs. It is pairwise
// only; three-way merges are out of scope.
func Merge(clientData, serverData map[string]interface{}) map[string]interface{} {
	clientNewer := docTimestamp(clientData) > docTimestamp(serverData)
	return mergeMaps(clientData, serverData, clientNewer)
}

func mergeMaps(client, server map[string]interface{}, clientNewer bool) map[string]interface{} {
	merged := make(map[string]interface{}, len(server)+len(client))
	for k, v := range server {
		merged[k] = v
	}

	for key, clientVal := range client {
		serverVal, exists := merged[key]
		if !exists {
			merged[key] = clientVal
			continue
		}

		if timestampKeys[key] {
			merged[key] = maxNumber(clientVal, serverVal)
			continue
		}

		switch cv := clientVal.(type) {
		case []interface{}:
			if sv, ok := serverVal.([]interface{}); ok {
				merged[key] = unionArrays(sv, cv)
				continue
			}
		case map[string]interface{}:
			if sv, ok := serverVal.(map[string]interface{}); ok {
				merged[key] = mergeMaps(cv, sv, clientNewer)
				continue
			}
		}

		// Conflicting scalar: the newer writer wins. The server value is
		// already in place from the base copy.
		if clientNewer {
			merged[key] = clientVal
		}
	}

	return merged
}

// unionArrays concatenates server then unseen client elements,
// de-duplicating by JSON encoding.
func unionArrays(server, client []interface{}) []interface{} {
	seen := make(map[string]bool, len(server)+len(client))
	out := make([]interface{}, 0, len(server)+len(client))

	appendUnique := func(vals []interface{}) {
		for _, v := range vals {
			key, err := json.Marshal(v)
			if err != nil {
				out = append(out, v)
				continue
			}
			if !seen[string(key)] {
				seen[string(key)] = true
				out = append(out, v)
			}
		}
	}

	appendUnique(server)
	appendUnique(client)
	return out
}

// docTimestamp reads the document's modification timestamp, preferring
// lastModified over updatedAt.
func docTimestamp(doc map[string]interface{}) float64 {
	if v, ok := doc["lastModified"].(float64); ok {
		return v
	}
	if v, ok := doc["updatedAt"].(float64); ok {
		return v
	}
	return 0
}

func maxNumber(a, b interface{}) interface{} {
	av, aok := a.(float64)
	bv, bok := b.(float64)
	if aok && bok {
		if av > bv {
			return a
		}
		return b
	}
	if aok {
		return a
	}
	return b
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: both versions must be present"}
	ErrUnknownStrategy = &ConflictError{Message: "unknown resolution strategy"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
