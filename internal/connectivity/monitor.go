// Package connectivity tracks whether the remote store is reachable
// and notifies subscribers on transitions. The repository consults it
// to pick the online or offline path; the sync loop uses the
// offline-to-online transition as a trigger.
package connectivity

import (
	"context"
	"sync"
	"time"

	"stitchsync/internal/logging"
)

// Source reports the current connectivity state.
type Source interface {
	Online() bool
}

// Monitor probes the remote store on an interval and flips its state
// on probe success/failure.
type Monitor struct {
	probe    func(ctx context.Context) error
	interval time.Duration
	log      logging.Logger

	mu     sync.RWMutex
	online bool
	subs   []func(online bool)
}

// NewMonitor builds a monitor around a probe function (typically the
// remote store's Ping). The monitor starts offline until the first
// successful probe.
func NewMonitor(probe func(ctx context.Context) error, interval time.Duration, log logging.Logger) *Monitor {
	return &Monitor{probe: probe, interval: interval, log: log}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn to be called on every state transition. The
// callback runs on the monitor goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Run probes until ctx is cancelled. It probes once immediately so the
// state is meaningful before the first tick.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeOnce(ctx)
	for {
		select {
		case <-ticker.C:
			m.probeOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := m.probe(probeCtx)
	cancel()

	m.set(ctx, err == nil)
}

// SetOnline forces the state, used by tests and by callers that learn
// about connectivity out of band.
func (m *Monitor) SetOnline(online bool) {
	m.set(context.Background(), online)
}

func (m *Monitor) set(ctx context.Context, online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.log.Info(ctx, "connectivity: online")
	} else {
		m.log.Info(ctx, "connectivity: offline")
	}
	for _, fn := range subs {
		fn(online)
	}
}
