// Package server holds the registry-entry types a region server presents to
// the mesh: identity, region ownership, capacity, lifecycle status, and the
// registration/heartbeat shapes exchanged with the atlas proxy.
package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

// ServerInfo describes one region server. Immutable once registered; a
// changed address or region requires explicit re-registration.
type ServerInfo struct {
	ID          ServerID                `json:"id"`
	Name        string                  `json:"name"`
	Address     string                  `json:"address"`
	RegionCoord spatial.RegionCoordinate `json:"region_coord"`
	Bounds      spatial.RegionBounds    `json:"bounds"`
	Center      spatial.WorldCoordinate `json:"center"`
	Capacity    int                     `json:"capacity"`
	Version     string                  `json:"version"`
}

// NewServerInfo assigns a fresh id and derives the center from bounds.
func NewServerInfo(name, address string, coord spatial.RegionCoordinate, bounds spatial.RegionBounds, capacity int) ServerInfo {
	return ServerInfo{
		ID:          NewServerID(),
		Name:        name,
		Address:     address,
		RegionCoord: coord,
		Bounds:      bounds,
		Center:      bounds.Center(),
		Capacity:    capacity,
	}
}

func (s ServerInfo) Validate() error {
	if s.ID.IsZero() {
		return fmt.Errorf("server %q: missing id", s.Name)
	}
	if s.Address == "" {
		return fmt.Errorf("server %s: missing address", s.ID)
	}
	if s.Capacity < 0 {
		return fmt.Errorf("server %s: negative capacity %d", s.ID, s.Capacity)
	}
	if err := s.Bounds.Validate(); err != nil {
		return fmt.Errorf("server %s: %w", s.ID, err)
	}
	return nil
}

// ServerRegistration is what a region server sends to the proxy on start.
type ServerRegistration struct {
	Server       ServerInfo                 `json:"server"`
	Status       ServerStatus               `json:"status"`
	RegisteredAt time.Time                  `json:"registered_at"`
	Metadata     map[string]json.RawMessage `json:"metadata,omitempty"`
}

func NewServerRegistration(info ServerInfo) ServerRegistration {
	return ServerRegistration{
		Server:       info,
		Status:       StatusStarting,
		RegisteredAt: time.Now().UTC(),
	}
}

// ServerHeartbeat is a point-in-time snapshot. Each heartbeat supersedes
// the previous one; the proxy keeps only the latest.
type ServerHeartbeat struct {
	ServerID           ServerID     `json:"server_id"`
	Status             ServerStatus `json:"status"`
	CurrentConnections int          `json:"current_connections"`
	Load               float64      `json:"load"`
	Timestamp          time.Time    `json:"timestamp"`
	AvgTickMs          float64      `json:"avg_tick_ms,omitempty"`
	MemoryBytes        uint64       `json:"memory_bytes,omitempty"`
}

// NewServerHeartbeat computes load from connections over capacity. Zero
// capacity reports zero load rather than dividing.
func NewServerHeartbeat(id ServerID, status ServerStatus, connections, capacity int) ServerHeartbeat {
	var load float64
	if capacity > 0 {
		load = float64(connections) / float64(capacity)
	}
	return ServerHeartbeat{
		ServerID:           id,
		Status:             status,
		CurrentConnections: connections,
		Load:               load,
		Timestamp:          time.Now().UTC(),
	}
}

// RegistrationResponse is the proxy's answer to a registration.
type RegistrationResponse struct {
	Success               bool         `json:"success"`
	ServerID              ServerID     `json:"server_id"`
	Message               string       `json:"message"`
	HeartbeatIntervalSecs int          `json:"heartbeat_interval_secs"`
	AdjacentServers       []ServerInfo `json:"adjacent_servers,omitempty"`
}

// SpawnServerRequest asks maestro to bring up a region server for a grid
// cell. The per-player transfer path never goes through maestro; spawn and
// stop are the only operations keyed this way.
type SpawnServerRequest struct {
	RegionCoord spatial.RegionCoordinate `json:"region_coord"`
	Bounds      spatial.RegionBounds     `json:"bounds"`
	Name        string                   `json:"name,omitempty"`
	Environment map[string]string        `json:"environment,omitempty"`
}

// SpawnServerResponse reports the container maestro started, or why not.
type SpawnServerResponse struct {
	Success    bool   `json:"success"`
	InstanceID string `json:"instance_id"`
	Address    string `json:"address,omitempty"`
	Error      string `json:"error,omitempty"`
}
