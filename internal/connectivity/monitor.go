// Package connectivity tracks online/offline transitions and network
// quality for the sync engine.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/opsdeck/fixsync/internal/events"
	"github.com/opsdeck/fixsync/internal/logging"
)

// Quality buckets consumed by smart sync.
type Quality int

const (
	QualityGood     Quality = iota // 4G-equivalent or better
	QualityModerate                // 3G-equivalent
	QualityPoor                    // 2G-equivalent
)

// String returns the quality name.
func (q Quality) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityModerate:
		return "moderate"
	default:
		return "good"
	}
}

// Status is the platform connectivity signal. EffectiveType and
// DownlinkMbps are optional; RTT is zero when unknown.
type Status struct {
	Online        bool
	EffectiveType string // "slow-2g", "2g", "3g", "4g" when the platform exposes it
	DownlinkMbps  float64
	RTT           time.Duration
}

// Quality classifies the status into a smart-sync bucket.
func (s Status) Quality() Quality {
	switch s.EffectiveType {
	case "slow-2g", "2g":
		return QualityPoor
	case "3g":
		return QualityModerate
	case "4g":
		return QualityGood
	}
	// No effective type from the platform: fall back to round-trip time.
	switch {
	case s.RTT >= 1400*time.Millisecond:
		return QualityPoor
	case s.RTT >= 400*time.Millisecond:
		return QualityModerate
	default:
		return QualityGood
	}
}

// Prober is the platform-specific connectivity check. Implementations
// must not retry or block beyond their own timeout.
type Prober interface {
	Probe(ctx context.Context) Status
}

// Monitor maintains the current connectivity status and emits network
// and connection events on transitions. It is a thin event source: no
// retries, no blocking.
type Monitor struct {
	mu     sync.RWMutex
	status Status
	bus    *events.Bus
}

// NewMonitor creates a Monitor with an initial status.
func NewMonitor(bus *events.Bus, initial Status) *Monitor {
	return &Monitor{status: initial, bus: bus}
}

// Online reports whether the client is currently online.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online
}

// Status returns the current connectivity status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Quality returns the current smart-sync quality bucket.
func (m *Monitor) Quality() Quality {
	return m.Status().Quality()
}

// SetStatus ingests a new platform signal. An online/offline flip emits
// a network event; a quality change emits a connection event.
func (m *Monitor) SetStatus(s Status) {
	m.mu.Lock()
	prev := m.status
	m.status = s
	m.mu.Unlock()

	if prev.Online != s.Online {
		logging.Info("Connectivity transition",
			map[string]interface{}{"online": s.Online})
		m.bus.Emit(events.Event{
			Type: events.TypeNetwork,
			Data: map[string]interface{}{"online": s.Online},
		})
	}

	if prev.Quality() != s.Quality() || prev.EffectiveType != s.EffectiveType {
		m.bus.Emit(events.Event{
			Type: events.TypeConnection,
			Data: map[string]interface{}{
				"effectiveType": s.EffectiveType,
				"downlink":      s.DownlinkMbps,
				"rtt_ms":        s.RTT.Milliseconds(),
				"quality":       s.Quality().String(),
			},
		})
	}
}

// Run polls the prober until the context is cancelled, feeding results
// into SetStatus.
func (m *Monitor) Run(ctx context.Context, prober Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetStatus(prober.Probe(ctx))
		}
	}
}

// HTTPProber checks reachability of a probe URL and classifies quality
// by measured round-trip time.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber creates an HTTPProber with a short request timeout.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Probe issues a HEAD request and reports online status plus RTT.
func (p *HTTPProber) Probe(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return Status{Online: false}
	}

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return Status{Online: false}
	}
	resp.Body.Close()

	return Status{Online: true, RTT: time.Since(start)}
}
