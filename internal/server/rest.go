package server

import (
	"encoding/json"
	"fmt"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

// Flat DTOs for the REST surface. They mirror the structured types
// field-for-field but flatten bounds to a single half-extent scalar, which
// assumes a cubic region: the projection is lossy for non-cubic bounds and
// the structured RegionBounds stays the source of truth. Identifiers travel
// as plain strings and are validated as UUIDs at this boundary.

// ApiServerRegistration is the flat registration body a region server POSTs
// to the proxy.
type ApiServerRegistration struct {
	Name        string                     `json:"name"`
	Address     string                     `json:"address"`
	RegionCoord spatial.RegionCoordinate   `json:"region_coord"`
	Center      spatial.WorldCoordinate    `json:"center"`
	Bounds      float64                    `json:"bounds"`
	Capacity    int                        `json:"capacity"`
	Version     string                     `json:"version,omitempty"`
	Metadata    map[string]json.RawMessage `json:"metadata,omitempty"`
}

// ApiRegistrationFromInfo projects a ServerInfo onto the flat shape.
// Non-cubic bounds cannot survive the projection; callers that use them
// must stay on the structured protocol.
func ApiRegistrationFromInfo(info ServerInfo) ApiServerRegistration {
	return ApiServerRegistration{
		Name:        info.Name,
		Address:     info.Address,
		RegionCoord: info.RegionCoord,
		Center:      info.Bounds.Center(),
		Bounds:      info.Bounds.HalfExtent(),
		Capacity:    info.Capacity,
		Version:     info.Version,
	}
}

// ToServerInfo rebuilds the structured form, assigning a fresh server id.
// The rebuilt bounds are the cube implied by center and half-extent.
func (r ApiServerRegistration) ToServerInfo() (ServerInfo, error) {
	if r.Address == "" {
		return ServerInfo{}, fmt.Errorf("registration %q: missing address", r.Name)
	}
	if r.Bounds < 0 {
		return ServerInfo{}, fmt.Errorf("registration %q: negative half-extent %v", r.Name, r.Bounds)
	}
	info := NewServerInfo(r.Name, r.Address, r.RegionCoord, spatial.BoundsFromCenter(r.Center, r.Bounds), r.Capacity)
	info.Version = r.Version
	return info, nil
}

// AdjacentServerInfo is the flat neighbor entry in a registration response.
type AdjacentServerInfo struct {
	ServerID    string                   `json:"server_id"`
	Address     string                   `json:"address"`
	RegionCoord spatial.RegionCoordinate `json:"region_coord"`
}

// ApiRegistrationResponse is the flat registration reply.
type ApiRegistrationResponse struct {
	Success               bool                 `json:"success"`
	ServerID              string               `json:"server_id"`
	Message               string               `json:"message"`
	HeartbeatIntervalSecs int                  `json:"heartbeat_interval_secs"`
	AdjacentServers       []AdjacentServerInfo `json:"adjacent_servers,omitempty"`
}

// ApiResponseFromRegistration projects the structured response.
func ApiResponseFromRegistration(resp RegistrationResponse) ApiRegistrationResponse {
	out := ApiRegistrationResponse{
		Success:               resp.Success,
		ServerID:              resp.ServerID.String(),
		Message:               resp.Message,
		HeartbeatIntervalSecs: resp.HeartbeatIntervalSecs,
	}
	for _, adj := range resp.AdjacentServers {
		out.AdjacentServers = append(out.AdjacentServers, AdjacentServerInfo{
			ServerID:    adj.ID.String(),
			Address:     adj.Address,
			RegionCoord: adj.RegionCoord,
		})
	}
	return out
}

// ToRegistrationResponse validates the string ids back into typed form.
func (r ApiRegistrationResponse) ToRegistrationResponse() (RegistrationResponse, error) {
	id, err := ParseServerID(r.ServerID)
	if err != nil {
		return RegistrationResponse{}, err
	}
	return RegistrationResponse{
		Success:               r.Success,
		ServerID:              id,
		Message:               r.Message,
		HeartbeatIntervalSecs: r.HeartbeatIntervalSecs,
	}, nil
}

// ApiServerHeartbeat is the flat heartbeat body. AcceptingConnections
// stands in for the full status enum: true maps to running, false to
// draining. The other lifecycle states never heartbeat through REST.
type ApiServerHeartbeat struct {
	ServerID             string  `json:"server_id"`
	CurrentConnections   int     `json:"current_connections"`
	Load                 float64 `json:"load"`
	AcceptingConnections bool    `json:"accepting_connections"`
	AvgTickMs            float64 `json:"avg_tick_ms,omitempty"`
	MemoryBytes          uint64  `json:"memory_bytes,omitempty"`
}

// ApiHeartbeatFromHeartbeat projects a structured heartbeat.
func ApiHeartbeatFromHeartbeat(hb ServerHeartbeat) ApiServerHeartbeat {
	return ApiServerHeartbeat{
		ServerID:             hb.ServerID.String(),
		CurrentConnections:   hb.CurrentConnections,
		Load:                 hb.Load,
		AcceptingConnections: hb.Status.AcceptsNewPlayers(),
		AvgTickMs:            hb.AvgTickMs,
		MemoryBytes:          hb.MemoryBytes,
	}
}

// ToServerHeartbeat validates the id and rebuilds the structured form.
func (h ApiServerHeartbeat) ToServerHeartbeat() (ServerHeartbeat, error) {
	id, err := ParseServerID(h.ServerID)
	if err != nil {
		return ServerHeartbeat{}, err
	}
	status := StatusDraining
	if h.AcceptingConnections {
		status = StatusRunning
	}
	hb := NewServerHeartbeat(id, status, h.CurrentConnections, 0)
	hb.Load = h.Load
	hb.AvgTickMs = h.AvgTickMs
	hb.MemoryBytes = h.MemoryBytes
	return hb, nil
}

// ApiHeartbeatResponse is the flat heartbeat reply, optionally carrying
// commands for the server to execute.
type ApiHeartbeatResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Commands []ServerCommand `json:"commands,omitempty"`
}
