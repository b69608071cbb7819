// Package player holds the player identity and the serializable state that
// travels with a player when it is handed off between region servers.
package player

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

// PlayerID is UUID-typed. On the wire it is UUID text, so it converts to
// and from the string-keyed REST form losslessly.
type PlayerID struct {
	uuid.UUID
}

func NewPlayerID() PlayerID {
	return PlayerID{uuid.New()}
}

// ParsePlayerID validates UUID text, for REST ingress.
func ParsePlayerID(s string) (PlayerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PlayerID{}, err
	}
	return PlayerID{u}, nil
}

func (id PlayerID) IsZero() bool { return id.UUID == uuid.Nil }

// AuthStatus is the authentication sub-state of a player session.
type AuthStatus string

const (
	AuthUnauthenticated AuthStatus = "unauthenticated"
	AuthAuthenticating  AuthStatus = "authenticating"
	AuthAuthenticated   AuthStatus = "authenticated"
	AuthFailed          AuthStatus = "authentication_failed"
)

// ConnectionState is the connection sub-state of a player session.
type ConnectionState string

const (
	ConnConnecting    ConnectionState = "connecting"
	ConnConnected     ConnectionState = "connected"
	ConnTransferring  ConnectionState = "transferring"
	ConnDisconnecting ConnectionState = "disconnecting"
	ConnDisconnected  ConnectionState = "disconnected"
)

// PlayerInfo is what the proxy tracks per player.
type PlayerInfo struct {
	ID              PlayerID                `json:"id"`
	Name            string                  `json:"name"`
	AuthStatus      AuthStatus              `json:"auth_status"`
	ConnectionState ConnectionState         `json:"connection_state"`
	CurrentServer   server.ServerID         `json:"current_server,omitempty"`
	LastPosition    spatial.WorldCoordinate `json:"last_position"`
	LastUpdated     time.Time               `json:"last_updated"`
}

func NewPlayerInfo(id PlayerID, name string) PlayerInfo {
	return PlayerInfo{
		ID:              id,
		Name:            name,
		AuthStatus:      AuthUnauthenticated,
		ConnectionState: ConnConnecting,
		LastPosition:    spatial.Zero(),
		LastUpdated:     time.Now().UTC(),
	}
}

// UpdatePosition records a new last-known position.
func (p *PlayerInfo) UpdatePosition(pos spatial.WorldCoordinate) {
	p.LastPosition = pos
	p.LastUpdated = time.Now().UTC()
}

// PlayerState is the full serialized snapshot shipped to the destination
// server during a transfer. CustomData is game-specific payload carried
// opaquely; the mesh never interprets it.
type PlayerState struct {
	Info           PlayerInfo                 `json:"info"`
	Velocity       spatial.WorldCoordinate    `json:"velocity"`
	Health         float64                    `json:"health"`
	CustomData     map[string]json.RawMessage `json:"custom_data,omitempty"`
	PersistentData json.RawMessage            `json:"persistent_data,omitempty"`
}

func NewPlayerState(info PlayerInfo) PlayerState {
	return PlayerState{
		Info:     info,
		Velocity: spatial.Zero(),
		Health:   1.0,
	}
}

// MarshalSnapshot serializes the state for the transfer payload.
func (s PlayerState) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot restores a transfer payload.
func UnmarshalSnapshot(b []byte) (PlayerState, error) {
	var s PlayerState
	err := json.Unmarshal(b, &s)
	return s, err
}

// MovementData supports position prediction between updates.
type MovementData struct {
	Velocity     spatial.WorldCoordinate `json:"velocity"`
	Acceleration spatial.WorldCoordinate `json:"acceleration"`
	TimestampMs  uint64                  `json:"timestamp_ms"`
}

// PredictPosition extrapolates pos after deltaMs using p = p0 + v*t + a*t^2/2.
func (m MovementData) PredictPosition(pos spatial.WorldCoordinate, deltaMs uint64) spatial.WorldCoordinate {
	t := float64(deltaMs) / 1000
	return pos.Add(m.Velocity.Scale(t)).Add(m.Acceleration.Scale(0.5 * t * t))
}
