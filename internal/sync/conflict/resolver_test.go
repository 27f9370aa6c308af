// Package conflict provides unit tests for conflict resolution.
package conflict

import (
	"encoding/json"
	"reflect"
	"sort"
	"testing"

	"github.com/opsdeck/fixsync/internal/models"
)

func mustConflict(t *testing.T, strategy models.Strategy, client, server map[string]interface{}) *models.ConflictRecord {
	t.Helper()
	c, err := NewConflictRecord("bookings", "booking-1", strategy, client, server)
	if err != nil {
		t.Fatalf("NewConflictRecord failed: %v", err)
	}
	return c
}

// roundTrip pushes a map through JSON so numbers become float64, the
// same shape the resolver sees in production.
func roundTrip(t *testing.T, in map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return out
}

// TestResolveClientWins verifies client_wins returns the client version
// unconditionally.
func TestResolveClientWins(t *testing.T) {
	r := NewResolver(models.StrategyServerWins)

	client := map[string]interface{}{"id": "booking-1", "status": "confirmed"}
	server := map[string]interface{}{"id": "booking-1", "status": "cancelled"}

	res, err := r.Resolve(mustConflict(t, models.StrategyClientWins, client, server))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Strategy != models.StrategyClientWins {
		t.Errorf("strategy = %s, want client_wins", res.Strategy)
	}
	if res.ResolvedData["status"] != "confirmed" {
		t.Errorf("status = %v, want confirmed", res.ResolvedData["status"])
	}
}

// TestResolveServerWins verifies server_wins returns the server version
// unconditionally.
func TestResolveServerWins(t *testing.T) {
	r := NewResolver(models.StrategyClientWins)

	client := map[string]interface{}{"id": "booking-1", "status": "confirmed"}
	server := map[string]interface{}{"id": "booking-1", "status": "cancelled"}

	res, err := r.Resolve(mustConflict(t, models.StrategyServerWins, client, server))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.ResolvedData["status"] != "cancelled" {
		t.Errorf("status = %v, want cancelled", res.ResolvedData["status"])
	}
}

// TestResolveManual verifies manual conflicts return no resolved data.
func TestResolveManual(t *testing.T) {
	r := NewResolver(models.StrategyMerge)

	client := map[string]interface{}{"id": "booking-1", "status": "confirmed"}
	server := map[string]interface{}{"id": "booking-1", "status": "cancelled"}

	res, err := r.Resolve(mustConflict(t, models.StrategyManual, client, server))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Strategy != models.StrategyManual {
		t.Errorf("strategy = %s, want manual", res.Strategy)
	}
	if res.ResolvedData != nil {
		t.Errorf("resolved data = %v, want nil", res.ResolvedData)
	}
}

// TestResolveEmptyVersions verifies conflicts with missing sides are
// rejected.
func TestResolveEmptyVersions(t *testing.T) {
	r := NewResolver(models.StrategyMerge)

	_, err := r.Resolve(&models.ConflictRecord{})
	if err != ErrInvalidConflict {
		t.Errorf("error = %v, want ErrInvalidConflict", err)
	}
}

// TestResolveUnknownStrategy verifies unknown strategies are rejected.
func TestResolveUnknownStrategy(t *testing.T) {
	r := NewResolver(models.Strategy("vote"))

	client := map[string]interface{}{"id": "booking-1"}
	server := map[string]interface{}{"id": "booking-1"}

	_, err := r.Resolve(mustConflict(t, "", client, server))
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

// TestMergeDeterminism verifies the documented merge example: the client
// wins on the conflicting scalar because its timestamp is newer, arrays
// union, the timestamp takes max.
func TestMergeDeterminism(t *testing.T) {
	client := roundTrip(t, map[string]interface{}{
		"a":            1,
		"tags":         []string{"x"},
		"lastModified": 10,
	})
	server := roundTrip(t, map[string]interface{}{
		"a":            2,
		"tags":         []string{"y"},
		"lastModified": 5,
	})

	merged := Merge(client, server)

	if merged["a"] != float64(1) {
		t.Errorf("a = %v, want 1 (client is newer)", merged["a"])
	}
	if merged["lastModified"] != float64(10) {
		t.Errorf("lastModified = %v, want 10", merged["lastModified"])
	}

	tags, ok := merged["tags"].([]interface{})
	if !ok {
		t.Fatalf("tags = %T, want array", merged["tags"])
	}
	var names []string
	for _, v := range tags {
		names = append(names, v.(string))
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"x", "y"}) {
		t.Errorf("tags = %v, want union of x and y", names)
	}

	// Same inputs resolve to the same output.
	again := Merge(client, server)
	if !reflect.DeepEqual(merged, again) {
		t.Error("merge is not deterministic for fixed inputs")
	}
}

// TestMergeServerWinsWhenNewer verifies scalars keep the server value
// when the server document is newer.
func TestMergeServerWinsWhenNewer(t *testing.T) {
	client := roundTrip(t, map[string]interface{}{
		"a":            1,
		"lastModified": 5,
	})
	server := roundTrip(t, map[string]interface{}{
		"a":            2,
		"lastModified": 10,
	})

	merged := Merge(client, server)

	if merged["a"] != float64(2) {
		t.Errorf("a = %v, want 2 (server is newer)", merged["a"])
	}
	if merged["lastModified"] != float64(10) {
		t.Errorf("lastModified = %v, want 10", merged["lastModified"])
	}
}

// TestMergeNestedObjects verifies nested objects recurse into the same
// merge rule.
func TestMergeNestedObjects(t *testing.T) {
	client := roundTrip(t, map[string]interface{}{
		"lastModified": 10,
		"device": map[string]interface{}{
			"model":  "PX-200",
			"faults": []string{"screen"},
		},
	})
	server := roundTrip(t, map[string]interface{}{
		"lastModified": 5,
		"device": map[string]interface{}{
			"model":  "PX-100",
			"faults": []string{"battery"},
			"serial": "SN-1",
		},
	})

	merged := Merge(client, server)

	device, ok := merged["device"].(map[string]interface{})
	if !ok {
		t.Fatalf("device = %T, want object", merged["device"])
	}
	if device["model"] != "PX-200" {
		t.Errorf("nested model = %v, want client value PX-200", device["model"])
	}
	if device["serial"] != "SN-1" {
		t.Errorf("nested serial = %v, want server-only value preserved", device["serial"])
	}
	faults := device["faults"].([]interface{})
	if len(faults) != 2 {
		t.Errorf("faults = %v, want union of both", faults)
	}
}

// TestMergeArrayDeduplication verifies common elements appear once.
func TestMergeArrayDeduplication(t *testing.T) {
	client := roundTrip(t, map[string]interface{}{
		"tags":         []string{"x", "shared"},
		"lastModified": 10,
	})
	server := roundTrip(t, map[string]interface{}{
		"tags":         []string{"shared", "y"},
		"lastModified": 5,
	})

	merged := Merge(client, server)

	tags := merged["tags"].([]interface{})
	if len(tags) != 3 {
		t.Errorf("tags = %v, want 3 unique elements", tags)
	}
}

// TestMergeClientOnlyFields verifies fields present only on the client
// side survive.
func TestMergeClientOnlyFields(t *testing.T) {
	client := roundTrip(t, map[string]interface{}{"note": "call first", "lastModified": 1})
	server := roundTrip(t, map[string]interface{}{"lastModified": 2})

	merged := Merge(client, server)
	if merged["note"] != "call first" {
		t.Errorf("note = %v, want client-only field preserved", merged["note"])
	}
}
