// Package models provides data model definitions for the FixSync engine.
package models

import (
	"encoding/json"
	"time"
)

// Strategy selects how a conflict between a client and a server version
// of the same record is resolved.
type Strategy string

const (
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

// ConflictRecord captures a concurrent edit: both sides changed the same
// record since the last confirmed sync. Non-manual conflicts are resolved
// and archived in place; manual conflicts persist until an operator
// resolves them out-of-band.
type ConflictRecord struct {
	ID           UUID            `db:"id" json:"id"`
	Table        string          `db:"tbl" json:"table"`
	RecordID     string          `db:"record_id" json:"record_id"`
	Strategy     Strategy        `db:"strategy" json:"strategy"`
	ClientData   json.RawMessage `db:"client_data" json:"client_data"`
	ServerData   json.RawMessage `db:"server_data" json:"server_data"`
	ResolvedData json.RawMessage `db:"resolved_data" json:"resolved_data,omitempty"`
	Resolved     bool            `db:"resolved" json:"resolved"`
	DetectedAt   int64           `db:"detected_at" json:"detected_at"` // unix ms
}

// TableName returns the table name for ConflictRecord.
func (ConflictRecord) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictRecord) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
