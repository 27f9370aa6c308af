// Package background cooperates with a host-managed background
// execution facility so a sync can be requested while the application
// is not in the foreground.
package background

import (
	"github.com/opsdeck/fixsync/internal/errors"
	"github.com/opsdeck/fixsync/internal/logging"
)

// DefaultTag is the registration tag used when none is configured.
const DefaultTag = "fixsync-background-sync"

// Registrar is the optional platform capability. Hosts without one run
// foreground-triggered sync only.
type Registrar interface {
	// Register asks the platform to wake the application for the named
	// tag. Best effort, non-blocking.
	Register(tag string) error
}

// Trigger wraps an optional Registrar. Registration failure is logged
// and never fatal; foreground sync remains the primary path.
type Trigger struct {
	registrar Registrar
}

// New creates a Trigger. registrar may be nil.
func New(registrar Registrar) *Trigger {
	return &Trigger{registrar: registrar}
}

// Available reports whether the host provides background execution.
func (t *Trigger) Available() bool {
	return t.registrar != nil
}

// Register registers the tag with the platform when possible.
// Returns true when registration succeeded.
func (t *Trigger) Register(tag string) bool {
	if tag == "" {
		tag = DefaultTag
	}

	if t.registrar == nil {
		logging.Debug("No background execution facility, foreground sync only",
			map[string]interface{}{"tag": tag})
		return false
	}

	if err := t.registrar.Register(tag); err != nil {
		logging.ErrorWithCode("Background sync registration failed",
			string(errors.ErrBackgroundDenied), err,
			map[string]interface{}{"tag": tag})
		return false
	}

	logging.Info("Background sync registered", map[string]interface{}{"tag": tag})
	return true
}
