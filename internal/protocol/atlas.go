package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/health"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
)

// Atlas proxy -> region server message tags.
const (
	TypeRegistrationResponse  = "RegistrationResponse"
	TypeHealthCheckRequest    = "HealthCheckRequest"
	TypeInitiateTransfer      = "InitiateTransfer"
	TypeAcceptTransfer        = "AcceptTransfer"
	TypeCancelTransfer        = "CancelTransfer"
	TypeTransferNotification  = "TransferNotification"
	TypePrepareShutdown       = "PrepareShutdown"
	TypeAdjacentServersUpdate = "AdjacentServersUpdate"
	TypeConfigUpdate          = "ConfigUpdate"
)

// AtlasMessage is any message the proxy sends to a region server.
type AtlasMessage interface {
	atlasType() string
}

type RegistrationResponseMsg struct {
	server.RegistrationResponse
}

type HealthCheckRequestMsg struct {
	health.HealthCheckRequest
}

// InitiateTransferMsg tells the source server to hand its player off to
// the named target, presenting the issued token.
type InitiateTransferMsg struct {
	PlayerID     player.PlayerID        `json:"player_id"`
	TargetServer server.ServerInfo      `json:"target_server"`
	Token        transfer.TransferToken `json:"token"`
}

// AcceptTransferMsg delivers the token and the serialized player state to
// the destination server for admission.
type AcceptTransferMsg struct {
	Token       transfer.TransferToken `json:"token"`
	PlayerState player.PlayerState     `json:"player_state"`
}

type CancelTransferMsg struct {
	PlayerID player.PlayerID `json:"player_id"`
	Reason   string          `json:"reason"`
}

// TransferNotificationMsg tells the source server the destination now holds
// the player, so the source can release it with a transfer disconnect.
type TransferNotificationMsg struct {
	transfer.TransferNotification
}

type PrepareShutdownMsg struct {
	DeadlineSecs int `json:"deadline_secs"`
}

type AdjacentServersUpdateMsg struct {
	Servers []server.ServerInfo `json:"servers"`
}

type ConfigUpdateMsg struct {
	Config json.RawMessage `json:"config"`
}

func (RegistrationResponseMsg) atlasType() string  { return TypeRegistrationResponse }
func (HealthCheckRequestMsg) atlasType() string    { return TypeHealthCheckRequest }
func (InitiateTransferMsg) atlasType() string      { return TypeInitiateTransfer }
func (AcceptTransferMsg) atlasType() string        { return TypeAcceptTransfer }
func (CancelTransferMsg) atlasType() string        { return TypeCancelTransfer }
func (TransferNotificationMsg) atlasType() string  { return TypeTransferNotification }
func (PrepareShutdownMsg) atlasType() string       { return TypePrepareShutdown }
func (AdjacentServersUpdateMsg) atlasType() string { return TypeAdjacentServersUpdate }
func (ConfigUpdateMsg) atlasType() string          { return TypeConfigUpdate }

// EncodeAtlasMessage frames m as `{"type", "payload"}`.
func EncodeAtlasMessage(m AtlasMessage) ([]byte, error) {
	return encodeTagged(m.atlasType(), m)
}

// DecodeAtlasMessage parses one proxy message. Unknown tags fail.
func DecodeAtlasMessage(b []byte) (AtlasMessage, error) {
	w, err := decodeTagged(b)
	if err != nil {
		return nil, err
	}
	switch w.Type {
	case TypeRegistrationResponse:
		var m RegistrationResponseMsg
		return m, decodePayload(w, &m)
	case TypeHealthCheckRequest:
		var m HealthCheckRequestMsg
		return m, decodePayload(w, &m)
	case TypeInitiateTransfer:
		var m InitiateTransferMsg
		return m, decodePayload(w, &m)
	case TypeAcceptTransfer:
		var m AcceptTransferMsg
		return m, decodePayload(w, &m)
	case TypeCancelTransfer:
		var m CancelTransferMsg
		return m, decodePayload(w, &m)
	case TypeTransferNotification:
		var m TransferNotificationMsg
		return m, decodePayload(w, &m)
	case TypePrepareShutdown:
		var m PrepareShutdownMsg
		return m, decodePayload(w, &m)
	case TypeAdjacentServersUpdate:
		var m AdjacentServersUpdateMsg
		return m, decodePayload(w, &m)
	case TypeConfigUpdate:
		var m ConfigUpdateMsg
		return m, decodePayload(w, &m)
	}
	return nil, fmt.Errorf("atlas message: unknown type %q", w.Type)
}
