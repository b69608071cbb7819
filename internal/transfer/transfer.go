// Package transfer implements the token-based player handoff between two
// region servers. A token is a single-use capability: the proxy issues it
// bound to one player and one destination server, and the destination
// redeems it exactly once before expiry.
package transfer

import (
	"time"

	"github.com/google/uuid"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

// TransferToken authorizes one player to be admitted by one specific
// destination server. After redemption or expiry it is permanently invalid.
type TransferToken struct {
	TokenID      string          `json:"token_id"`
	PlayerID     player.PlayerID `json:"player_id"`
	TargetServer server.ServerID `json:"target_server"`
	IssuedAt     time.Time       `json:"issued_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// NewTransferToken mints a token valid for ttl from now.
func NewTransferToken(playerID player.PlayerID, target server.ServerID, ttl time.Duration) TransferToken {
	now := time.Now().UTC()
	return TransferToken{
		TokenID:      uuid.NewString(),
		PlayerID:     playerID,
		TargetServer: target,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
}

// Expired is a wall-clock check; redemption after the deadline must be
// rejected no matter how late the check runs.
func (t TransferToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TransferReason explains why a transfer was requested.
type TransferReason string

const (
	ReasonBoundaryCrossing TransferReason = "boundary_crossing"
	ReasonLoadBalancing    TransferReason = "load_balancing"
	ReasonServerShutdown   TransferReason = "server_shutdown"
	ReasonPlayerRequest    TransferReason = "player_request"
)

// TransferRequest is emitted by the source server when a player nears its
// region boundary. TargetRegion is a suggestion; the proxy resolves the
// actual destination server.
type TransferRequest struct {
	PlayerID     player.PlayerID          `json:"player_id"`
	SourceServer server.ServerID          `json:"source_server"`
	Position     spatial.WorldCoordinate  `json:"position"`
	Velocity     spatial.WorldCoordinate  `json:"velocity"`
	TargetRegion spatial.RegionCoordinate `json:"target_region"`
	Reason       TransferReason           `json:"reason"`
	RequestedAt  time.Time                `json:"requested_at"`
}

// TransferResult reports the terminal outcome of one transfer attempt.
type TransferResult struct {
	PlayerID     player.PlayerID `json:"player_id"`
	TokenID      string          `json:"token_id"`
	Success      bool            `json:"success"`
	TargetServer server.ServerID `json:"target_server,omitempty"`
	ErrorCode    TransferErrorCode `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// TransferNotification tells the source server its player is now in the
// destination's custody and can be released with a transfer disconnect.
type TransferNotification struct {
	PlayerID     player.PlayerID `json:"player_id"`
	TokenID      string          `json:"token_id"`
	SourceServer server.ServerID `json:"source_server"`
	TargetServer server.ServerID `json:"target_server"`
	CompletedAt  time.Time       `json:"completed_at"`
}
