// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// =====================================================
// UUID Type Tests
// =====================================================

// TestUUID_Value verifies the Value() method returns correct string.
func TestUUID_Value(t *testing.T) {
	uuid := UUID("123e4567-e89b-12d3-a456-426614174000")

	val, err := uuid.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	if val != "123e4567-e89b-12d3-a456-426614174000" {
		t.Errorf("Value() = %v, want '123e4567-e89b-12d3-a456-426614174000'", val)
	}
}

// TestUUID_Scan_nil verifies nil value handling.
func TestUUID_Scan_nil(t *testing.T) {
	var uuid UUID
	err := uuid.Scan(nil)

	if err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}

	if uuid != "" {
		t.Errorf("Scan(nil) = %q, want empty string", uuid)
	}
}

// TestUUID_Scan_bytes verifies []byte handling.
func TestUUID_Scan_bytes(t *testing.T) {
	var uuid UUID
	input := []byte("123e4567-e89b-12d3-a456-426614174000")

	err := uuid.Scan(input)
	if err != nil {
		t.Fatalf("Scan([]byte) error = %v", err)
	}

	if uuid != "123e4567-e89b-12d3-a456-426614174000" {
		t.Errorf("Scan([]byte) = %q, want '123e4567-e89b-12d3-a456-426614174000'", uuid)
	}
}

// =====================================================
// Record Tests
// =====================================================

// TestRecord_Document verifies envelope fields are merged into the
// flattened document.
func TestRecord_Document(t *testing.T) {
	rec := &Record{
		ID:           "booking-1",
		Table:        "bookings",
		Payload:      json.RawMessage(`{"customer":"ada","slots":["9am"]}`),
		LastModified: 1700000000000,
		Version:      3,
		ClientID:     "client-a",
	}

	doc, err := rec.Document()
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}

	if doc["id"] != "booking-1" {
		t.Errorf("doc id = %v, want booking-1", doc["id"])
	}
	if doc["customer"] != "ada" {
		t.Errorf("doc customer = %v, want ada", doc["customer"])
	}
	if doc["lastModified"] != float64(1700000000000) {
		t.Errorf("doc lastModified = %v, want 1700000000000", doc["lastModified"])
	}
	if doc["version"] != float64(3) {
		t.Errorf("doc version = %v, want 3", doc["version"])
	}
}

// TestRecordFromDocument verifies round-tripping a document back into a
// record lifts envelope keys out of the payload.
func TestRecordFromDocument(t *testing.T) {
	doc := map[string]interface{}{
		"id":           "device-7",
		"model":        "PX-200",
		"lastModified": float64(1700000000500),
		"version":      float64(2),
		"clientId":     "client-b",
	}

	rec, err := RecordFromDocument("devices", doc)
	if err != nil {
		t.Fatalf("RecordFromDocument() error = %v", err)
	}

	if rec.ID != "device-7" || rec.Table != "devices" {
		t.Errorf("record identity = %s/%s, want devices/device-7", rec.Table, rec.ID)
	}
	if rec.Version != 2 || rec.LastModified != 1700000000500 {
		t.Errorf("record version/lastModified = %d/%d", rec.Version, rec.LastModified)
	}
	if rec.ClientID != "client-b" {
		t.Errorf("record clientId = %q, want client-b", rec.ClientID)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal error = %v", err)
	}
	if payload["model"] != "PX-200" {
		t.Errorf("payload model = %v, want PX-200", payload["model"])
	}
	if _, ok := payload["id"]; ok {
		t.Error("payload should not contain envelope key 'id'")
	}
}

// TestRecordFromDocument_missingID verifies documents without an id are
// rejected.
func TestRecordFromDocument_missingID(t *testing.T) {
	_, err := RecordFromDocument("devices", map[string]interface{}{"model": "PX-200"})
	if err == nil {
		t.Fatal("expected error for document without id")
	}
}

// =====================================================
// Freshness Tests
// =====================================================

// TestFreshnessOf verifies the freshness thresholds.
func TestFreshnessOf(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name       string
		lastSynced int64
		want       Freshness
	}{
		{"four minutes ago", now.Add(-4 * time.Minute).UnixMilli(), FreshnessFresh},
		{"thirty minutes ago", now.Add(-30 * time.Minute).UnixMilli(), FreshnessStale},
		{"two hours ago", now.Add(-2 * time.Hour).UnixMilli(), FreshnessOutdated},
		{"never synced", 0, FreshnessOutdated},
	}

	for _, tc := range cases {
		if got := FreshnessOf(tc.lastSynced, now); got != tc.want {
			t.Errorf("%s: FreshnessOf() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

// =====================================================
// SyncQueueItem Tests
// =====================================================

// TestPriorityRank verifies drain ordering of priorities.
func TestPriorityRank(t *testing.T) {
	if PriorityHigh.Rank() >= PriorityMedium.Rank() {
		t.Error("high should rank before medium")
	}
	if PriorityMedium.Rank() >= PriorityLow.Rank() {
		t.Error("medium should rank before low")
	}
}

// TestQueueItemID verifies ids are unique across enqueue instants.
func TestQueueItemID(t *testing.T) {
	t1 := time.Unix(0, 1000)
	t2 := time.Unix(0, 2000)

	a := QueueItemID(OperationUpdate, "bookings", "booking-1", t1)
	b := QueueItemID(OperationUpdate, "bookings", "booking-1", t2)

	if a == b {
		t.Errorf("expected distinct ids for distinct enqueue times, both = %s", a)
	}
}
