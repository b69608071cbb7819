package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/config"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/health"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/protocol"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transport/ws"
)

// node is one region server's view of itself: the players it holds, its
// lifecycle status, and the boundary-watch logic that asks the proxy for
// transfers. The node is the mesh-facing agent; the game simulation feeds
// it position updates and consumes its release notifications.
type node struct {
	cfg    config.Region
	log    zerolog.Logger
	info   server.ServerInfo
	client *ws.Client

	startedAt time.Time

	mu       sync.Mutex
	status   server.ServerStatus
	players  map[player.PlayerID]*player.PlayerState
	outbound map[player.PlayerID]string // players mid-transfer, keyed to token id
}

func newNode(cfg config.Region, log zerolog.Logger) *node {
	coord := spatial.NewRegionCoordinate(cfg.RegionX, cfg.RegionY, cfg.RegionZ)
	bounds := spatial.BoundsFromCenter(coord.ToWorldCenter(cfg.RegionSize), cfg.RegionSize/2)
	info := server.NewServerInfo(cfg.Name, cfg.Address, coord, bounds, cfg.Capacity)
	info.Version = protocol.Version
	return &node{
		cfg:       cfg,
		log:       log,
		info:      info,
		startedAt: time.Now().UTC(),
		status:    server.StatusStarting,
		players:   make(map[player.PlayerID]*player.PlayerState),
		outbound:  make(map[player.PlayerID]string),
	}
}

// connect dials the proxy and registers.
func (n *node) connect(ctx context.Context) error {
	client, resp, err := ws.Dial(ctx, n.cfg.AtlasURL, server.NewServerRegistration(n.info), n.log)
	if err != nil {
		return err
	}
	n.client = client
	n.log.Info().
		Stringer("server", n.info.ID).
		Int("adjacent", len(resp.AdjacentServers)).
		Int("heartbeat_secs", resp.HeartbeatIntervalSecs).
		Msg("registered with atlas")

	n.setStatus(server.StatusRunning)
	return n.client.Send(ctx, protocol.HeartbeatMsg{ServerHeartbeat: n.heartbeat()})
}

func (n *node) setStatus(s server.ServerStatus) {
	n.mu.Lock()
	if n.status.CanTransitionTo(s) {
		n.status = s
	}
	n.mu.Unlock()
}

func (n *node) currentStatus() server.ServerStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *node) playerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.players)
}

func (n *node) heartbeat() server.ServerHeartbeat {
	n.mu.Lock()
	defer n.mu.Unlock()
	return server.NewServerHeartbeat(n.info.ID, n.status, len(n.players), n.info.Capacity)
}

func (n *node) healthCheck() health.HealthCheck {
	n.mu.Lock()
	defer n.mu.Unlock()
	hc := health.Healthy(n.info.ID, len(n.players), n.info.Capacity)
	hc.UptimeSecs = uint64(time.Since(n.startedAt).Seconds())
	hc.Components = []health.ComponentHealth{
		health.HealthyComponent("mesh_connection"),
		health.HealthyComponent("player_store"),
	}
	if n.status == server.StatusDraining {
		hc.Status = health.StatusDegraded
		hc.Message = "draining"
	}
	return hc
}

// admitPlayer adds a player to this server's custody and reports it to the
// proxy. Draining servers serve existing players but admit nobody new.
func (n *node) admitPlayer(ctx context.Context, pid player.PlayerID, name string, pos spatial.WorldCoordinate) error {
	n.mu.Lock()
	if !n.status.AcceptsNewPlayers() {
		n.mu.Unlock()
		return fmt.Errorf("server %s not accepting players", n.status)
	}
	if n.info.Capacity > 0 && len(n.players) >= n.info.Capacity {
		n.mu.Unlock()
		return fmt.Errorf("server at capacity %d", n.info.Capacity)
	}
	info := player.NewPlayerInfo(pid, name)
	info.CurrentServer = n.info.ID
	info.LastPosition = pos
	state := player.NewPlayerState(info)
	n.players[pid] = &state
	n.mu.Unlock()

	return n.client.Send(ctx, protocol.PlayerConnectedMsg{PlayerID: pid, Position: pos})
}

// dropPlayer removes a player and reports the disconnect.
func (n *node) dropPlayer(ctx context.Context, pid player.PlayerID, reason player.DisconnectReason) error {
	n.mu.Lock()
	_, ok := n.players[pid]
	delete(n.players, pid)
	delete(n.outbound, pid)
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown player %s", pid)
	}
	return n.client.Send(ctx, protocol.PlayerDisconnectedMsg{PlayerID: pid, Reason: reason})
}

// updatePosition records movement and fires a transfer request when the
// player's predicted position nears a boundary toward an adjacent region.
func (n *node) updatePosition(ctx context.Context, pid player.PlayerID, pos, vel spatial.WorldCoordinate) error {
	n.mu.Lock()
	state, ok := n.players[pid]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("unknown player %s", pid)
	}
	state.Info.UpdatePosition(pos)
	state.Velocity = vel
	snapshot := *state
	_, inTransit := n.outbound[pid]
	n.mu.Unlock()

	if err := n.client.Send(ctx, protocol.PlayerPositionUpdateMsg{PlayerID: pid, Position: pos, Velocity: vel}); err != nil {
		return err
	}
	if inTransit {
		return nil // one transfer at a time
	}

	// Look one second ahead so the handoff starts before the player
	// reaches the seam.
	predicted := player.MovementData{Velocity: vel}.PredictPosition(pos, 1000)
	if n.info.Bounds.DistanceToBoundary(predicted) >= n.cfg.BoundaryThreshold {
		return nil
	}
	target := spatial.RegionFromWorld(predicted, n.cfg.RegionSize)
	if target == n.info.RegionCoord || !n.info.RegionCoord.IsAdjacent(target) {
		return nil
	}

	n.log.Info().Stringer("player", pid).Str("target", target.String()).Msg("boundary crossing predicted")
	return n.client.Send(ctx, protocol.TransferRequestMsg{
		TransferRequest: transfer.TransferRequest{
			PlayerID:     pid,
			SourceServer: n.info.ID,
			Position:     pos,
			Velocity:     vel,
			TargetRegion: target,
			Reason:       transfer.ReasonBoundaryCrossing,
			RequestedAt:  time.Now().UTC(),
		},
		PlayerState: snapshot,
	})
}

// admitTransfer is the destination side: the proxy shipped the token and
// the source's serialized player state. Redeem the token, then take
// custody with the state the player left the source holding.
func (n *node) admitTransfer(ctx context.Context, tok transfer.TransferToken, state player.PlayerState) error {
	if tok.TargetServer != n.info.ID {
		return fmt.Errorf("token bound to %s, not us", tok.TargetServer)
	}
	if err := n.client.Send(ctx, protocol.TransferAcceptedMsg{PlayerID: tok.PlayerID, TokenID: tok.TokenID}); err != nil {
		return fmt.Errorf("redeem: %w", err)
	}
	// Redeemed: the proxy moved custody to us. Admission bypasses the
	// draining gate; a transfer already in flight completes.
	n.mu.Lock()
	state.Info.CurrentServer = n.info.ID
	state.Info.ConnectionState = player.ConnConnected
	n.players[tok.PlayerID] = &state
	n.mu.Unlock()
	return nil
}

// handleAtlasMessage reacts to one proxy-initiated message.
func (n *node) handleAtlasMessage(ctx context.Context, msg protocol.AtlasMessage) {
	switch m := msg.(type) {
	case protocol.InitiateTransferMsg:
		// We are the source: remember the token and wait for the
		// completion notification before releasing the player.
		n.mu.Lock()
		if _, ok := n.players[m.PlayerID]; ok {
			n.outbound[m.PlayerID] = m.Token.TokenID
		}
		n.mu.Unlock()
		n.log.Info().
			Stringer("player", m.PlayerID).
			Stringer("target", m.TargetServer.ID).
			Msg("transfer initiated, holding custody until completion")

	case protocol.AcceptTransferMsg:
		// We are the destination: redeem and admit with the shipped state.
		if err := n.admitTransfer(ctx, m.Token, m.PlayerState); err != nil {
			n.log.Warn().Stringer("player", m.Token.PlayerID).Err(err).Msg("inbound transfer admission failed")
		}

	case protocol.TransferNotificationMsg:
		// Destination has the player; release with a transfer disconnect.
		if err := n.dropPlayer(ctx, m.PlayerID, player.TransferReason(m.TargetServer)); err != nil {
			n.log.Warn().Stringer("player", m.PlayerID).Err(err).Msg("release after transfer failed")
		}

	case protocol.CancelTransferMsg:
		// The attempt died; the player stays ours and may retry later.
		n.mu.Lock()
		delete(n.outbound, m.PlayerID)
		n.mu.Unlock()
		n.log.Info().Stringer("player", m.PlayerID).Str("reason", m.Reason).Msg("transfer cancelled, keeping custody")

	case protocol.HealthCheckRequestMsg:
		if err := n.client.Send(ctx, protocol.HealthResponseMsg{HealthCheck: n.healthCheck()}); err != nil {
			n.log.Warn().Err(err).Msg("health response failed")
		}

	case protocol.PrepareShutdownMsg:
		n.log.Info().Int("deadline_secs", m.DeadlineSecs).Msg("shutdown ordered, draining")
		n.setStatus(server.StatusDraining)

	case protocol.AdjacentServersUpdateMsg:
		n.log.Info().Int("neighbors", len(m.Servers)).Msg("adjacency updated")

	case protocol.ConfigUpdateMsg:
		n.log.Info().RawJSON("config", m.Config).Msg("config update received")

	default:
		n.log.Warn().Msgf("unhandled proxy message %T", msg)
	}
}

// drainAndStop evacuates remaining players toward adjacent regions, then
// announces shutdown. Players still here at the deadline are disconnected
// with a shutdown reason; clients reconnect through normal matchmaking.
func (n *node) drainAndStop(ctx context.Context, deadline time.Duration) {
	n.setStatus(server.StatusDraining)
	_ = n.client.Send(ctx, protocol.HeartbeatMsg{ServerHeartbeat: n.heartbeat()})

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for n.playerCount() > 0 {
		select {
		case <-waitCtx.Done():
			n.disconnectRemaining(ctx)
		case <-ticker.C:
		}
		if waitCtx.Err() != nil {
			break
		}
	}

	n.setStatus(server.StatusStopped)
	_ = n.client.Send(ctx, protocol.ShutdownMsg{ServerID: n.info.ID, PlayerCount: n.playerCount()})
	_ = n.client.Close()
}

func (n *node) disconnectRemaining(ctx context.Context) {
	n.mu.Lock()
	remaining := make([]player.PlayerID, 0, len(n.players))
	for pid := range n.players {
		remaining = append(remaining, pid)
	}
	n.mu.Unlock()
	for _, pid := range remaining {
		reason := player.DisconnectReason{Kind: player.DisconnectServerShutdown}
		if err := n.dropPlayer(ctx, pid, reason); err != nil {
			n.log.Warn().Stringer("player", pid).Err(err).Msg("shutdown disconnect failed")
		}
	}
}
