// Package scheduler drives sync cycles from connectivity transitions
// and a periodic timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/opsdeck/fixsync/internal/events"
	"github.com/opsdeck/fixsync/internal/logging"
	syncpkg "github.com/opsdeck/fixsync/internal/sync"
)

// Scheduler owns the background sync loops. It reacts to network
// events from the connectivity monitor and runs periodic smart syncs
// while online. The engine's own guard makes overlapping triggers
// harmless.
type Scheduler struct {
	engine       syncpkg.Synchronizer
	bus          *events.Bus
	syncInterval time.Duration
	stopCh       chan struct{}
	unsubscribe  func()
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	lastSyncTime time.Time
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval time.Duration // How often to smart-sync while online (default: 15 minutes)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 15 * time.Minute,
	}
}

// New creates a Scheduler.
func New(engine syncpkg.Synchronizer, bus *events.Bus, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}

	return &Scheduler{
		engine:       engine,
		bus:          bus,
		syncInterval: config.SyncInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the background loops: a subscription that fires
// ProcessSyncQueue when connectivity returns, and a periodic smart-sync
// ticker.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.unsubscribe = s.bus.Subscribe(events.TypeNetwork, func(e events.Event) {
		if online, _ := e.Data["online"].(bool); online {
			logging.Info("Back online, processing sync queue", nil)
			go s.ProcessSyncQueue(ctx)
		}
	})

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx)

	logging.Info("Sync scheduler started", nil)
}

// Stop stops the background loops gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// periodicSyncLoop runs smart sync on a timer while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.engine.IsOffline() {
				continue
			}
			s.runSmartSync(ctx)
		}
	}
}

// runSmartSync executes one quality-aware sync pass.
func (s *Scheduler) runSmartSync(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result := s.engine.SmartSync(syncCtx)
	if !result.Success {
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Periodic sync completed",
		map[string]interface{}{
			"synchronized": result.Synchronized,
			"failed":       result.Failed,
			"conflicts":    len(result.Conflicts),
		})
}

// ProcessSyncQueue runs a full synchronize cycle now. Called on
// offline-to-online transitions and by explicit triggers.
func (s *Scheduler) ProcessSyncQueue(ctx context.Context) *syncpkg.SyncResult {
	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result := s.engine.Synchronize(syncCtx)
	if result.Success {
		s.mu.Lock()
		s.lastSyncTime = time.Now()
		s.mu.Unlock()
	}
	return result
}

// Status is a snapshot of the scheduler's state.
type Status struct {
	IsRunning    bool
	LastSyncTime *time.Time
	SyncStatus   syncpkg.SyncStatus
	PendingItems int
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning:    s.isRunning,
		SyncStatus:   s.engine.Status(),
		PendingItems: s.engine.PendingSyncCount(),
	}

	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}

	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
