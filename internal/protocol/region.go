package protocol

import (
	"fmt"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/health"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
)

// Region server -> atlas proxy message tags.
const (
	TypeRegister             = "Register"
	TypeHeartbeat            = "Heartbeat"
	TypeHealthResponse       = "HealthResponse"
	TypePlayerConnected      = "PlayerConnected"
	TypePlayerDisconnected   = "PlayerDisconnected"
	TypePlayerPositionUpdate = "PlayerPositionUpdate"
	TypeTransferRequest      = "TransferRequest"
	TypeTransferComplete     = "TransferComplete"
	TypeTransferAccepted     = "TransferAccepted"
	TypeShutdown             = "Shutdown"
)

// RegionMessage is any message a region server sends to the proxy.
type RegionMessage interface {
	regionType() string
}

type RegisterMsg struct {
	server.ServerRegistration
}

type HeartbeatMsg struct {
	server.ServerHeartbeat
}

type HealthResponseMsg struct {
	health.HealthCheck
}

type PlayerConnectedMsg struct {
	PlayerID player.PlayerID         `json:"player_id"`
	Position spatial.WorldCoordinate `json:"position"`
}

type PlayerDisconnectedMsg struct {
	PlayerID player.PlayerID         `json:"player_id"`
	Reason   player.DisconnectReason `json:"reason"`
}

type PlayerPositionUpdateMsg struct {
	PlayerID player.PlayerID         `json:"player_id"`
	Position spatial.WorldCoordinate `json:"position"`
	Velocity spatial.WorldCoordinate `json:"velocity"`
}

// TransferRequestMsg asks the proxy to move a player toward the target
// region. The snapshot rides along so the proxy can ship it to whichever
// destination it resolves.
type TransferRequestMsg struct {
	transfer.TransferRequest
	PlayerState player.PlayerState `json:"player_state"`
}

type TransferCompleteMsg struct {
	PlayerID player.PlayerID `json:"player_id"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
}

type TransferAcceptedMsg struct {
	PlayerID player.PlayerID `json:"player_id"`
	TokenID  string          `json:"token_id"`
}

type ShutdownMsg struct {
	ServerID    server.ServerID `json:"server_id"`
	PlayerCount int             `json:"player_count"`
}

func (RegisterMsg) regionType() string             { return TypeRegister }
func (HeartbeatMsg) regionType() string            { return TypeHeartbeat }
func (HealthResponseMsg) regionType() string       { return TypeHealthResponse }
func (PlayerConnectedMsg) regionType() string      { return TypePlayerConnected }
func (PlayerDisconnectedMsg) regionType() string   { return TypePlayerDisconnected }
func (PlayerPositionUpdateMsg) regionType() string { return TypePlayerPositionUpdate }
func (TransferRequestMsg) regionType() string      { return TypeTransferRequest }
func (TransferCompleteMsg) regionType() string     { return TypeTransferComplete }
func (TransferAcceptedMsg) regionType() string     { return TypeTransferAccepted }
func (ShutdownMsg) regionType() string             { return TypeShutdown }

// EncodeRegionMessage frames m as `{"type", "payload"}`.
func EncodeRegionMessage(m RegionMessage) ([]byte, error) {
	return encodeTagged(m.regionType(), m)
}

// DecodeRegionMessage parses one region-server message. Unknown tags fail.
func DecodeRegionMessage(b []byte) (RegionMessage, error) {
	w, err := decodeTagged(b)
	if err != nil {
		return nil, err
	}
	switch w.Type {
	case TypeRegister:
		var m RegisterMsg
		return m, decodePayload(w, &m)
	case TypeHeartbeat:
		var m HeartbeatMsg
		return m, decodePayload(w, &m)
	case TypeHealthResponse:
		var m HealthResponseMsg
		return m, decodePayload(w, &m)
	case TypePlayerConnected:
		var m PlayerConnectedMsg
		return m, decodePayload(w, &m)
	case TypePlayerDisconnected:
		var m PlayerDisconnectedMsg
		return m, decodePayload(w, &m)
	case TypePlayerPositionUpdate:
		var m PlayerPositionUpdateMsg
		return m, decodePayload(w, &m)
	case TypeTransferRequest:
		var m TransferRequestMsg
		return m, decodePayload(w, &m)
	case TypeTransferComplete:
		var m TransferCompleteMsg
		return m, decodePayload(w, &m)
	case TypeTransferAccepted:
		var m TransferAcceptedMsg
		return m, decodePayload(w, &m)
	case TypeShutdown:
		var m ShutdownMsg
		return m, decodePayload(w, &m)
	}
	return nil, fmt.Errorf("region message: unknown type %q", w.Type)
}
