// Package models provides data model definitions for the FixSync engine.
package models

import "time"

// Freshness is a qualitative age bucket derived from time since the last
// confirmed sync.
type Freshness string

const (
	FreshnessFresh    Freshness = "fresh"    // synced < 5 minutes ago
	FreshnessStale    Freshness = "stale"    // synced < 60 minutes ago
	FreshnessOutdated Freshness = "outdated" // older, or never synced
)

// SyncMetadata is the per-(table, record) bookkeeping of the last
// confirmed round-trip with the remote.
type SyncMetadata struct {
	Table         string `db:"tbl" json:"table"`
	RecordID      string `db:"record_id" json:"record_id"`
	LastSynced    int64  `db:"last_synced" json:"last_synced"` // unix ms, 0 = never
	LocalVersion  int    `db:"local_version" json:"local_version"`
	ServerVersion int    `db:"server_version" json:"server_version"`
}

// TableName returns the table name for SyncMetadata.
func (SyncMetadata) TableName() string {
	return "sync_metadata"
}

// LastSyncedTime returns LastSynced as time.Time.
func (m *SyncMetadata) LastSyncedTime() time.Time {
	return time.UnixMilli(m.LastSynced)
}

// FreshnessAt computes the freshness bucket at the given instant.
func (m *SyncMetadata) FreshnessAt(now time.Time) Freshness {
	return FreshnessOf(m.LastSynced, now)
}

// FreshnessOf computes the freshness bucket for a last-synced timestamp
// (unix ms) at the given instant.
func FreshnessOf(lastSynced int64, now time.Time) Freshness {
	if lastSynced <= 0 {
		return FreshnessOutdated
	}
	age := now.Sub(time.UnixMilli(lastSynced))
	switch {
	case age < 5*time.Minute:
		return FreshnessFresh
	case age < 60*time.Minute:
		return FreshnessStale
	default:
		return FreshnessOutdated
	}
}

// RecordMeta is the read-side view attached to retrieved records.
type RecordMeta struct {
	NeedsSync  bool      `json:"needsSync"`
	LastSynced int64     `json:"lastSynced"`
	Freshness  Freshness `json:"freshness"`
}

// RecordWithMeta is a retrieved record augmented with its sync view.
// Retrieval never blocks on the network; the view reflects local state.
type RecordWithMeta struct {
	*Record
	Meta RecordMeta `json:"_meta"`
}
