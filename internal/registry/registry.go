// Package registry is the atlas proxy's view of the mesh: which server owns
// which region, each server's self-reported lifecycle status, and the
// latest health snapshot per server.
//
// Status has two distinct update paths that must never race: the server's
// own heartbeat stream writes the self-reported record, and the liveness
// monitor writes only the observed state. Neither overwrites the other.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/health"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

var (
	ErrUnknownServer   = errors.New("registry: unknown server")
	ErrContestedBounds = errors.New("registry: bounds share volume with another region")
	ErrBadTransition   = errors.New("registry: invalid status transition")
)

// Entry is one registered server plus everything the proxy has learned
// about it since.
type Entry struct {
	Info          server.ServerInfo
	Status        server.ServerStatus
	RegisteredAt  time.Time
	LastHeartbeat server.ServerHeartbeat
	LastSeen      time.Time

	// Observed liveness, written only by the monitor. Distinct from the
	// self-reported Status above: a wedged server still says "running",
	// the observed state says nobody has heard from it.
	Observed       health.HealthStatus
	MissedSweeps   int
}

type Registry struct {
	mu       sync.RWMutex
	servers  map[server.ServerID]*Entry
	byRegion map[spatial.RegionCoordinate]server.ServerID
	checks   map[server.ServerID]health.HealthCheck
}

func New() *Registry {
	return &Registry{
		servers:  make(map[server.ServerID]*Entry),
		byRegion: make(map[spatial.RegionCoordinate]server.ServerID),
		checks:   make(map[server.ServerID]health.HealthCheck),
	}
}

// Register admits a server into the mesh. A re-registration for the same
// region coordinate replaces the previous owner (that is how a restarted
// server comes back); a claim whose bounds share volume with any other
// region's territory is a consistency error and is rejected outright.
// Bounds that merely touch on a plane, edge, or corner are how a tiled
// grid looks and are always legal.
func (r *Registry) Register(reg server.ServerRegistration) error {
	if err := reg.Server.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, other := range r.servers {
		if other.Info.ID == reg.Server.ID || other.Info.RegionCoord == reg.Server.RegionCoord {
			continue // replaced below
		}
		if interiorOverlap(other.Info.Bounds, reg.Server.Bounds) {
			return fmt.Errorf("%w: %s vs %s", ErrContestedBounds, reg.Server.RegionCoord, other.Info.RegionCoord)
		}
	}

	if prevID, ok := r.byRegion[reg.Server.RegionCoord]; ok && prevID != reg.Server.ID {
		delete(r.servers, prevID)
		delete(r.checks, prevID)
	}
	// Re-registration under a new coordinate releases the old claim.
	if prev, ok := r.servers[reg.Server.ID]; ok && r.byRegion[prev.Info.RegionCoord] == reg.Server.ID {
		delete(r.byRegion, prev.Info.RegionCoord)
	}

	status := reg.Status
	if !status.Valid() {
		status = server.StatusStarting
	}
	r.servers[reg.Server.ID] = &Entry{
		Info:         reg.Server,
		Status:       status,
		RegisteredAt: reg.RegisteredAt,
		LastSeen:     reg.RegisteredAt,
		Observed:     health.StatusUnknown,
	}
	r.byRegion[reg.Server.RegionCoord] = reg.Server.ID
	return nil
}

// interiorOverlap reports whether the boxes share volume rather than just
// a boundary plane. Regions may touch, never interpenetrate.
func interiorOverlap(a, b spatial.RegionBounds) bool {
	return a.MinX < b.MaxX && a.MaxX > b.MinX &&
		a.MinY < b.MaxY && a.MaxY > b.MinY &&
		a.MinZ < b.MaxZ && a.MaxZ > b.MinZ
}

// Deregister removes a server and its health record.
func (r *Registry) Deregister(id server.ServerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.servers[id]
	if !ok {
		return
	}
	if r.byRegion[entry.Info.RegionCoord] == id {
		delete(r.byRegion, entry.Info.RegionCoord)
	}
	delete(r.servers, id)
	delete(r.checks, id)
}

// ApplyHeartbeat records a heartbeat from the server's own stream. The
// carried status may hold steady or take one legal lifecycle step; any
// other jump is a protocol error.
func (r *Registry) ApplyHeartbeat(hb server.ServerHeartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.servers[hb.ServerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, hb.ServerID)
	}
	if hb.Status != entry.Status {
		if !entry.Status.CanTransitionTo(hb.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrBadTransition, entry.Status, hb.Status)
		}
		entry.Status = hb.Status
	}
	entry.LastHeartbeat = hb
	entry.LastSeen = hb.Timestamp
	entry.Observed = health.StatusHealthy
	entry.MissedSweeps = 0
	return nil
}

// ApplyHealth stores the latest health snapshot for a server, replacing
// any previous one.
func (r *Registry) ApplyHealth(hc health.HealthCheck) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[hc.ServerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, hc.ServerID)
	}
	r.checks[hc.ServerID] = hc
	return nil
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id server.ServerID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.servers[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// ResolveRegion returns the server owning the given grid cell.
func (r *Registry) ResolveRegion(coord spatial.RegionCoordinate) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRegion[coord]
	if !ok {
		return Entry{}, false
	}
	entry, ok := r.servers[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// AdjacentServers returns the registered owners of the six neighboring
// cells, for the adjacency list in registration responses.
func (r *Registry) AdjacentServers(coord spatial.RegionCoordinate) []server.ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []server.ServerInfo
	for _, n := range coord.AdjacentRegions() {
		if id, ok := r.byRegion[n]; ok {
			if entry, ok := r.servers[id]; ok {
				out = append(out, entry.Info)
			}
		}
	}
	return out
}

// Snapshot returns copies of all entries.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.servers))
	for _, entry := range r.servers {
		out = append(out, *entry)
	}
	return out
}

// HealthSnapshot returns an immutable copy of the latest health check per
// server, for aggregation without holding the registry lock.
func (r *Registry) HealthSnapshot() []health.HealthCheck {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]health.HealthCheck, 0, len(r.checks))
	for _, hc := range r.checks {
		out = append(out, hc)
	}
	return out
}

// ClusterHealth aggregates the current snapshot set. The fold runs on the
// copy, never under the registry lock.
func (r *Registry) ClusterHealth() health.ClusterHealth {
	return health.AggregateCluster(r.HealthSnapshot())
}

// Len returns the number of registered servers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}
