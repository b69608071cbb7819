// Package broker coordinates player transfers between region servers from
// the atlas proxy side. It owns the custody map: at every instant each
// tracked player is in exactly one server's custody, and custody moves from
// source to destination only at transfer completion. Every failure path
// leaves custody with the source.
package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/registry"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
)

var (
	ErrUnknownPlayer    = errors.New("broker: player not in any server's custody")
	ErrWrongCustody     = errors.New("broker: request source does not hold the player")
	ErrTransferInFlight = errors.New("broker: a transfer is already pending for this player")
	ErrNotAdjacent      = errors.New("broker: target region is not adjacent to the source region")
	ErrNoPending        = errors.New("broker: no pending transfer for this player")
	ErrTokenMismatch    = errors.New("broker: token does not match the pending transfer")
)

// PendingTransfer is one in-flight handoff. The player stays in the source
// server's custody for its whole lifetime.
type PendingTransfer struct {
	Token     transfer.TransferToken
	Source    server.ServerID
	Target    server.ServerInfo
	Reason    transfer.TransferReason
	StartedAt time.Time
}

// Broker tracks custody and pending transfers over the server registry.
type Broker struct {
	registry *registry.Registry
	tokens   *transfer.TokenStore
	log      zerolog.Logger
	tokenTTL time.Duration

	mu      sync.Mutex
	custody map[player.PlayerID]server.ServerID
	pending map[player.PlayerID]*PendingTransfer
}

func New(reg *registry.Registry, log zerolog.Logger, tokenTTL time.Duration) *Broker {
	return &Broker{
		registry: reg,
		tokens:   transfer.NewTokenStore(),
		log:      log,
		tokenTTL: tokenTTL,
		custody:  make(map[player.PlayerID]server.ServerID),
		pending:  make(map[player.PlayerID]*PendingTransfer),
	}
}

// PlayerConnected records that sid now holds the player. Reconnection to a
// different server while a transfer is pending is resolved by the transfer
// outcome, not here; a connect for a pending player is rejected.
func (b *Broker) PlayerConnected(pid player.PlayerID, sid server.ServerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[pid]; ok {
		return fmt.Errorf("%w: %s", ErrTransferInFlight, pid)
	}
	b.custody[pid] = sid
	return nil
}

// PlayerDisconnected drops the player from custody tracking and reports
// whether a custody entry existed. A pending transfer for the player is
// cancelled first; the token becomes worthless.
func (b *Broker) PlayerDisconnected(pid player.PlayerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[pid]; ok {
		b.tokens.Cancel(p.Token.TokenID)
		delete(b.pending, pid)
	}
	_, held := b.custody[pid]
	delete(b.custody, pid)
	return held
}

// CustodyOf returns the server currently holding the player.
func (b *Broker) CustodyOf(pid player.PlayerID) (server.ServerID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sid, ok := b.custody[pid]
	return sid, ok
}

// Pending returns a copy of the pending transfer for the player, if any.
func (b *Broker) Pending(pid player.PlayerID) (PendingTransfer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[pid]
	if !ok {
		return PendingTransfer{}, false
	}
	return *p, true
}

// Initiate validates a transfer request, issues a token, and records the
// pending transfer. The destination is resolved from the requested region:
// it must be registered, adjacent to the source's region, accepting new
// players, and under capacity. Custody does not move here.
func (b *Broker) Initiate(req transfer.TransferRequest) (PendingTransfer, error) {
	src, ok := b.registry.Get(req.SourceServer)
	if !ok {
		return PendingTransfer{}, fmt.Errorf("%w: source %s", transfer.ErrTargetUnavailable, req.SourceServer)
	}
	if !src.Info.RegionCoord.IsAdjacent(req.TargetRegion) {
		return PendingTransfer{}, fmt.Errorf("%w: %s -> %s", ErrNotAdjacent, src.Info.RegionCoord, req.TargetRegion)
	}

	dst, ok := b.registry.ResolveRegion(req.TargetRegion)
	if !ok {
		return PendingTransfer{}, fmt.Errorf("%w: region %s has no server", transfer.ErrTargetUnavailable, req.TargetRegion)
	}
	if !dst.Status.AcceptsNewPlayers() {
		return PendingTransfer{}, fmt.Errorf("%w: %s is %s", transfer.ErrTargetUnavailable, dst.Info.ID, dst.Status)
	}
	if dst.Info.Capacity > 0 && dst.LastHeartbeat.CurrentConnections >= dst.Info.Capacity {
		return PendingTransfer{}, fmt.Errorf("%w: %s at %d/%d", transfer.ErrTargetOverCapacity,
			dst.Info.ID, dst.LastHeartbeat.CurrentConnections, dst.Info.Capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	holder, ok := b.custody[req.PlayerID]
	if !ok {
		return PendingTransfer{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, req.PlayerID)
	}
	if holder != req.SourceServer {
		return PendingTransfer{}, fmt.Errorf("%w: held by %s, requested by %s", ErrWrongCustody, holder, req.SourceServer)
	}
	if _, ok := b.pending[req.PlayerID]; ok {
		return PendingTransfer{}, fmt.Errorf("%w: %s", ErrTransferInFlight, req.PlayerID)
	}

	tok := b.tokens.Issue(req.PlayerID, dst.Info.ID, b.tokenTTL)
	p := &PendingTransfer{
		Token:     tok,
		Source:    req.SourceServer,
		Target:    dst.Info,
		Reason:    req.Reason,
		StartedAt: time.Now().UTC(),
	}
	b.pending[req.PlayerID] = p

	b.log.Info().
		Stringer("player", req.PlayerID).
		Stringer("source", req.SourceServer).
		Stringer("target", dst.Info.ID).
		Str("reason", string(req.Reason)).
		Msg("transfer initiated")
	return *p, nil
}

// Redeem consumes the token on behalf of the destination server. The token
// store enforces single use, expiry, and destination binding; a wrong-server
// attempt leaves the token redeemable by the real destination.
func (b *Broker) Redeem(tokenID string, by server.ServerID) (transfer.TransferToken, error) {
	return b.tokens.Redeem(tokenID, by)
}

// Complete finishes a redeemed transfer: custody moves to the destination
// and the pending record is cleared. Returns the notification the source
// server needs to release the player.
func (b *Broker) Complete(pid player.PlayerID, tokenID string) (transfer.TransferNotification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[pid]
	if !ok {
		return transfer.TransferNotification{}, fmt.Errorf("%w: %s", ErrNoPending, pid)
	}
	if p.Token.TokenID != tokenID {
		return transfer.TransferNotification{}, fmt.Errorf("%w: %s", ErrTokenMismatch, tokenID)
	}

	b.custody[pid] = p.Target.ID
	delete(b.pending, pid)

	b.log.Info().
		Stringer("player", pid).
		Stringer("source", p.Source).
		Stringer("target", p.Target.ID).
		Msg("transfer complete")
	return transfer.TransferNotification{
		PlayerID:     pid,
		TokenID:      tokenID,
		SourceServer: p.Source,
		TargetServer: p.Target.ID,
		CompletedAt:  time.Now().UTC(),
	}, nil
}

// Fail aborts a pending transfer. The token is invalidated and custody
// stays with the source; the result carries the failure for the source
// server's retry decision (the broker itself never retries).
func (b *Broker) Fail(pid player.PlayerID, cause error) (transfer.TransferResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[pid]
	if !ok {
		return transfer.TransferResult{}, fmt.Errorf("%w: %s", ErrNoPending, pid)
	}
	b.tokens.Cancel(p.Token.TokenID)
	delete(b.pending, pid)

	code := transfer.CodeForError(cause)
	if code == "" {
		code = transfer.CodeCancelled
	}
	b.log.Warn().
		Stringer("player", pid).
		Stringer("source", p.Source).
		Str("code", string(code)).
		Msg("transfer failed, custody stays with source")
	return transfer.TransferResult{
		PlayerID:     pid,
		TokenID:      p.Token.TokenID,
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
	}, nil
}

// ExpireStale fails every pending transfer whose token has expired and
// prunes the token store. Returns the results, one per expired transfer.
func (b *Broker) ExpireStale(now time.Time) []transfer.TransferResult {
	b.mu.Lock()
	var expired []player.PlayerID
	for pid, p := range b.pending {
		if p.Token.Expired(now) {
			expired = append(expired, pid)
		}
	}
	b.mu.Unlock()

	var out []transfer.TransferResult
	for _, pid := range expired {
		res, err := b.Fail(pid, transfer.ErrTokenExpired)
		if err != nil {
			continue // completed or cancelled between the scan and now
		}
		out = append(out, res)
	}
	b.tokens.Prune()
	return out
}

// InFlight returns the number of pending transfers.
func (b *Broker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
