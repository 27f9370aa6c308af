// Package models provides data model definitions for the FixSync engine.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Record is the versioned envelope around one domain entity (booking,
// customer, device, repair) stored in a logical table. The domain fields
// live in Payload and are opaque to the engine.
type Record struct {
	ID           string          `db:"id" json:"id"`
	Table        string          `db:"tbl" json:"table"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	LastModified int64           `db:"last_modified" json:"lastModified"` // unix ms
	Version      int             `db:"version" json:"version"`
	ClientID     string          `db:"client_id" json:"clientId"`
	NeedsSync    bool            `db:"needs_sync" json:"needsSync"`
	Deleted      bool            `db:"is_deleted" json:"isDeleted"`
	CreatedAt    int64           `db:"created_at" json:"createdAt"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// LastModifiedTime returns LastModified as time.Time.
func (r *Record) LastModifiedTime() time.Time {
	return time.UnixMilli(r.LastModified)
}

// Document flattens the record into a single JSON document: the domain
// payload plus the envelope fields the remote endpoint expects. This is
// the wire shape for push, pull and conflict resolution.
func (r *Record) Document() (map[string]interface{}, error) {
	doc := make(map[string]interface{})
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode record payload: %w", err)
		}
	}
	doc["id"] = r.ID
	doc["lastModified"] = float64(r.LastModified)
	doc["version"] = float64(r.Version)
	doc["clientId"] = r.ClientID
	return doc, nil
}

// RecordFromDocument rebuilds a Record from a flattened document.
// Envelope keys are lifted out; everything else stays in Payload.
func RecordFromDocument(table string, doc map[string]interface{}) (*Record, error) {
	id, _ := doc["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("document has no id")
	}

	rec := &Record{ID: id, Table: table}
	payload := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		switch k {
		case "id", "clientId":
			// envelope only
		case "lastModified":
			rec.LastModified = toInt64(v)
		case "version":
			rec.Version = int(toInt64(v))
		default:
			payload[k] = v
		}
	}
	if cid, ok := doc["clientId"].(string); ok {
		rec.ClientID = cid
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record payload: %w", err)
	}
	rec.Payload = data
	return rec, nil
}

// toInt64 converts JSON numbers (float64 after unmarshal) to int64.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
