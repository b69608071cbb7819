package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/health"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

// Monitor sweeps the registry on an interval and downgrades the observed
// status of servers that stopped heartbeating: one missed deadline makes a
// server observed-unknown ("no recent data"), repeated misses make it
// observed-unhealthy. The self-reported status record is never touched;
// only the server's own heartbeat stream writes that.
type Monitor struct {
	registry *Registry
	log      zerolog.Logger

	interval  time.Duration
	deadline  time.Duration
	maxMisses int

	onUnhealthy func(id server.ServerID)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewMonitor builds a monitor sweeping every interval, treating a server
// silent for longer than deadline as missing, and declaring it unhealthy
// after maxMisses consecutive missed sweeps.
func NewMonitor(reg *Registry, log zerolog.Logger, interval, deadline time.Duration, maxMisses int) *Monitor {
	if maxMisses <= 0 {
		maxMisses = 3
	}
	return &Monitor{
		registry:  reg,
		log:       log,
		interval:  interval,
		deadline:  deadline,
		maxMisses: maxMisses,
	}
}

// SetOnUnhealthy installs a callback fired once when a server crosses into
// observed-unhealthy, typically to ask maestro for a replacement.
func (m *Monitor) SetOnUnhealthy(fn func(id server.ServerID)) {
	m.onUnhealthy = fn
}

// Start runs the sweep loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.log.Info().Dur("interval", m.interval).Dur("deadline", m.deadline).Msg("liveness monitor started")
		for {
			select {
			case <-ticker.C:
				m.Sweep(time.Now().UTC())
			case <-ctx.Done():
				m.log.Info().Msg("liveness monitor stopped")
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Sweep runs one pass over the registry at the given instant. Exported so
// callers (and tests) can drive it without the ticker.
func (m *Monitor) Sweep(now time.Time) {
	var becameUnhealthy []server.ServerID

	m.registry.mu.Lock()
	for id, entry := range m.registry.servers {
		if entry.Status.Terminal() {
			continue // stopped or errored servers are not expected to heartbeat
		}
		if now.Sub(entry.LastSeen) <= m.deadline {
			continue // fresh; ApplyHeartbeat already marked it observed-healthy
		}
		entry.MissedSweeps++
		prev := entry.Observed
		if entry.MissedSweeps >= m.maxMisses {
			entry.Observed = health.StatusUnhealthy
		} else {
			entry.Observed = health.StatusUnknown
		}
		if entry.Observed == health.StatusUnhealthy && prev != health.StatusUnhealthy {
			becameUnhealthy = append(becameUnhealthy, id)
		}
	}
	m.registry.mu.Unlock()

	// Callbacks run outside the lock.
	for _, id := range becameUnhealthy {
		m.log.Warn().Stringer("server", id).Msg("server observed unhealthy, no heartbeat within deadline")
		if m.onUnhealthy != nil {
			m.onUnhealthy(id)
		}
	}
}
