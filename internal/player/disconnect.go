package player

import (
	"encoding/json"
	"fmt"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

// DisconnectKind tags a DisconnectReason. Closed set; unknown tags fail to
// decode.
type DisconnectKind string

const (
	DisconnectClient         DisconnectKind = "client_disconnect"
	DisconnectTimeout        DisconnectKind = "timeout"
	DisconnectServerShutdown DisconnectKind = "server_shutdown"
	DisconnectKicked         DisconnectKind = "kicked"
	DisconnectTransfer       DisconnectKind = "transfer"
	DisconnectError          DisconnectKind = "error"
)

// DisconnectReason explains why a server released a player. A completed
// transfer always releases with kind "transfer" naming the destination, so
// the proxy can tell a handoff from a real disconnect.
type DisconnectReason struct {
	Kind DisconnectKind

	// Kicked: human-readable cause.
	Reason string
	// Transfer: the server now holding the player.
	TargetServer server.ServerID
	// Error: fault description.
	Message string
}

func TransferReason(target server.ServerID) DisconnectReason {
	return DisconnectReason{Kind: DisconnectTransfer, TargetServer: target}
}

func KickedReason(reason string) DisconnectReason {
	return DisconnectReason{Kind: DisconnectKicked, Reason: reason}
}

func ErrorReason(message string) DisconnectReason {
	return DisconnectReason{Kind: DisconnectError, Message: message}
}

type disconnectWire struct {
	Type         DisconnectKind  `json:"type"`
	Reason       string          `json:"reason,omitempty"`
	TargetServer server.ServerID `json:"target_server,omitempty"`
	Message      string          `json:"message,omitempty"`
}

func validDisconnectKind(k DisconnectKind) bool {
	switch k {
	case DisconnectClient, DisconnectTimeout, DisconnectServerShutdown,
		DisconnectKicked, DisconnectTransfer, DisconnectError:
		return true
	}
	return false
}

func (r DisconnectReason) MarshalJSON() ([]byte, error) {
	if !validDisconnectKind(r.Kind) {
		return nil, fmt.Errorf("disconnect reason: unknown kind %q", r.Kind)
	}
	return json.Marshal(disconnectWire{
		Type:         r.Kind,
		Reason:       r.Reason,
		TargetServer: r.TargetServer,
		Message:      r.Message,
	})
}

func (r *DisconnectReason) UnmarshalJSON(b []byte) error {
	var w disconnectWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !validDisconnectKind(w.Type) {
		return fmt.Errorf("disconnect reason: unknown kind %q", w.Type)
	}
	if w.Type == DisconnectTransfer && w.TargetServer.IsZero() {
		return fmt.Errorf("disconnect reason: transfer without target server")
	}
	r.Kind = w.Type
	r.Reason = w.Reason
	r.TargetServer = w.TargetServer
	r.Message = w.Message
	return nil
}
