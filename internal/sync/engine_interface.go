// Package sync provides synchronization interfaces and implementations.
package sync

import "context"

// Synchronizer defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative
// implementations.
type Synchronizer interface {
	// Synchronize runs a full sync cycle: drain queue, push, pull,
	// resolve conflicts, apply results.
	Synchronize(ctx context.Context) *SyncResult

	// SmartSync restricts the cycle by current network quality.
	SmartSync(ctx context.Context) *SyncResult

	// Status returns the current user-visible sync status.
	Status() SyncStatus

	// PendingSyncCount returns the number of queued mutations.
	PendingSyncCount() int

	// IsOffline reports whether the engine currently considers itself
	// offline.
	IsOffline() bool
}
