package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/broker"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/config"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/metrics"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/protocol"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/registry"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transport/ws"
)

const regionSize = 2000.0

type atlasFixture struct {
	handler *meshHandler
	url     string
	ctx     context.Context
}

func startAtlas(t *testing.T) *atlasFixture {
	t.Helper()
	cfg := config.Atlas{
		HeartbeatInterval: 10 * time.Second,
		HeartbeatDeadline: 30 * time.Second,
		LivenessSweep:     5 * time.Second,
		TransferTokenTTL:  30 * time.Second,
	}
	reg := registry.New()
	brk := broker.New(reg, zerolog.Nop(), cfg.TransferTokenTTL)
	handler := newMeshHandler(cfg, zerolog.Nop(), reg, brk, nil, nil)
	hub := ws.NewHub(handler, zerolog.Nop())
	handler.hub = hub

	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return &atlasFixture{
		handler: handler,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		ctx:     ctx,
	}
}

func (f *atlasFixture) dialRegion(t *testing.T, coord spatial.RegionCoordinate) (*ws.Client, server.ServerInfo) {
	t.Helper()
	bounds := spatial.BoundsFromCenter(coord.ToWorldCenter(regionSize), regionSize/2)
	info := server.NewServerInfo("region-"+coord.String(), "10.0.0.1:7777", coord, bounds, 100)
	client, resp, err := ws.Dial(f.ctx, f.url, server.NewServerRegistration(info), zerolog.Nop())
	if err != nil {
		t.Fatalf("dial %s: %v", info.Name, err)
	}
	t.Cleanup(func() { client.Close() })
	if !resp.Success || resp.HeartbeatIntervalSecs != 10 {
		t.Fatalf("registration response: %+v", resp)
	}

	hb := protocol.HeartbeatMsg{ServerHeartbeat: server.NewServerHeartbeat(info.ID, server.StatusRunning, 0, 100)}
	if err := client.Send(f.ctx, hb); err != nil {
		t.Fatalf("heartbeat %s: %v", info.Name, err)
	}
	return client, info
}

func waitMessage[T protocol.AtlasMessage](t *testing.T, ctx context.Context, c *ws.Client) T {
	t.Helper()
	for {
		select {
		case msg, ok := <-c.Messages():
			if !ok {
				t.Fatalf("message channel closed")
			}
			if m, match := msg.(T); match {
				return m
			}
		case <-ctx.Done():
			var zero T
			t.Fatalf("no %T before timeout", zero)
			return zero
		}
	}
}

func TestAtlas_TransferEndToEnd(t *testing.T) {
	f := startAtlas(t)
	source, sourceInfo := f.dialRegion(t, spatial.CenterRegion())
	target, targetInfo := f.dialRegion(t, spatial.NewRegionCoordinate(1, 0, 0))

	pid := player.NewPlayerID()
	pos := spatial.NewWorldCoordinate(1995, 500, 500)
	if err := source.Send(f.ctx, protocol.PlayerConnectedMsg{PlayerID: pid, Position: pos}); err != nil {
		t.Fatalf("player connected: %v", err)
	}

	state := player.NewPlayerState(player.NewPlayerInfo(pid, "alice"))
	state.Info.LastPosition = pos
	state.Health = 0.5
	req := protocol.TransferRequestMsg{
		TransferRequest: transfer.TransferRequest{
			PlayerID:     pid,
			SourceServer: sourceInfo.ID,
			Position:     pos,
			Velocity:     spatial.NewWorldCoordinate(5, 0, 0),
			TargetRegion: targetInfo.RegionCoord,
			Reason:       transfer.ReasonBoundaryCrossing,
			RequestedAt:  time.Now().UTC(),
		},
		PlayerState: state,
	}
	if err := source.Send(f.ctx, req); err != nil {
		t.Fatalf("transfer request: %v", err)
	}

	initiate := waitMessage[protocol.InitiateTransferMsg](t, f.ctx, source)
	if initiate.PlayerID != pid || initiate.TargetServer.ID != targetInfo.ID {
		t.Fatalf("initiate: %+v", initiate)
	}
	if initiate.Token.TargetServer != targetInfo.ID {
		t.Fatalf("token bound to %s, want %s", initiate.Token.TargetServer, targetInfo.ID)
	}

	// The destination gets the token and the source's snapshot.
	accept := waitMessage[protocol.AcceptTransferMsg](t, f.ctx, target)
	if accept.Token.TokenID != initiate.Token.TokenID {
		t.Fatalf("accept token %s, want %s", accept.Token.TokenID, initiate.Token.TokenID)
	}
	if accept.PlayerState.Info.ID != pid || accept.PlayerState.Health != 0.5 {
		t.Fatalf("shipped state: %+v", accept.PlayerState)
	}

	// Destination redeems; source gets the completion notification.
	acc := protocol.TransferAcceptedMsg{PlayerID: pid, TokenID: accept.Token.TokenID}
	if err := target.Send(f.ctx, acc); err != nil {
		t.Fatalf("transfer accepted: %v", err)
	}

	note := waitMessage[protocol.TransferNotificationMsg](t, f.ctx, source)
	if note.PlayerID != pid || note.TargetServer != targetInfo.ID || note.SourceServer != sourceInfo.ID {
		t.Fatalf("notification: %+v", note.TransferNotification)
	}
	if got, _ := f.handler.broker.CustodyOf(pid); got != targetInfo.ID {
		t.Fatalf("custody with %s, want target", got)
	}
}

func TestAtlas_TransferToUnregisteredRegionFails(t *testing.T) {
	f := startAtlas(t)
	source, sourceInfo := f.dialRegion(t, spatial.CenterRegion())

	pid := player.NewPlayerID()
	if err := source.Send(f.ctx, protocol.PlayerConnectedMsg{PlayerID: pid, Position: spatial.NewWorldCoordinate(5, 500, 500)}); err != nil {
		t.Fatalf("player connected: %v", err)
	}

	req := protocol.TransferRequestMsg{TransferRequest: transfer.TransferRequest{
		PlayerID:     pid,
		SourceServer: sourceInfo.ID,
		Position:     spatial.NewWorldCoordinate(5, 500, 500),
		Velocity:     spatial.NewWorldCoordinate(-5, 0, 0),
		TargetRegion: spatial.NewRegionCoordinate(-1, 0, 0),
		Reason:       transfer.ReasonBoundaryCrossing,
		RequestedAt:  time.Now().UTC(),
	}}
	err := source.Send(f.ctx, req)
	if err == nil {
		t.Fatalf("transfer toward empty region accepted")
	}
	if got, _ := f.handler.broker.CustodyOf(pid); got != sourceInfo.ID {
		t.Fatalf("custody left the source on failure: %s", got)
	}
}

func TestAtlas_WrongServerCannotRedeem(t *testing.T) {
	f := startAtlas(t)
	source, sourceInfo := f.dialRegion(t, spatial.CenterRegion())
	_, targetInfo := f.dialRegion(t, spatial.NewRegionCoordinate(1, 0, 0))
	intruder, _ := f.dialRegion(t, spatial.NewRegionCoordinate(0, 1, 0))

	pid := player.NewPlayerID()
	pos := spatial.NewWorldCoordinate(1995, 500, 500)
	if err := source.Send(f.ctx, protocol.PlayerConnectedMsg{PlayerID: pid, Position: pos}); err != nil {
		t.Fatalf("player connected: %v", err)
	}
	req := protocol.TransferRequestMsg{TransferRequest: transfer.TransferRequest{
		PlayerID:     pid,
		SourceServer: sourceInfo.ID,
		Position:     pos,
		Velocity:     spatial.NewWorldCoordinate(5, 0, 0),
		TargetRegion: targetInfo.RegionCoord,
		Reason:       transfer.ReasonBoundaryCrossing,
		RequestedAt:  time.Now().UTC(),
	}}
	if err := source.Send(f.ctx, req); err != nil {
		t.Fatalf("transfer request: %v", err)
	}
	initiate := waitMessage[protocol.InitiateTransferMsg](t, f.ctx, source)

	// A server the token was not issued to cannot redeem it, and the
	// failure cancels the transfer back to the source.
	acc := protocol.TransferAcceptedMsg{PlayerID: pid, TokenID: initiate.Token.TokenID}
	if err := intruder.Send(f.ctx, acc); err == nil {
		t.Fatalf("wrong-server redemption accepted")
	}
	cancel := waitMessage[protocol.CancelTransferMsg](t, f.ctx, source)
	if cancel.PlayerID != pid {
		t.Fatalf("cancel: %+v", cancel)
	}
	if got, _ := f.handler.broker.CustodyOf(pid); got != sourceInfo.ID {
		t.Fatalf("custody left the source: %s", got)
	}
}

func TestAtlas_MismatchedAcceptKeepsPendingTransfer(t *testing.T) {
	f := startAtlas(t)
	source, sourceInfo := f.dialRegion(t, spatial.CenterRegion())
	target, targetInfo := f.dialRegion(t, spatial.NewRegionCoordinate(1, 0, 0))

	pid := player.NewPlayerID()
	pos := spatial.NewWorldCoordinate(1995, 500, 500)
	if err := source.Send(f.ctx, protocol.PlayerConnectedMsg{PlayerID: pid, Position: pos}); err != nil {
		t.Fatalf("player connected: %v", err)
	}
	req := protocol.TransferRequestMsg{
		TransferRequest: transfer.TransferRequest{
			PlayerID:     pid,
			SourceServer: sourceInfo.ID,
			Position:     pos,
			Velocity:     spatial.NewWorldCoordinate(5, 0, 0),
			TargetRegion: targetInfo.RegionCoord,
			Reason:       transfer.ReasonBoundaryCrossing,
			RequestedAt:  time.Now().UTC(),
		},
		PlayerState: player.NewPlayerState(player.NewPlayerInfo(pid, "alice")),
	}
	if err := source.Send(f.ctx, req); err != nil {
		t.Fatalf("transfer request: %v", err)
	}
	initiate := waitMessage[protocol.InitiateTransferMsg](t, f.ctx, source)

	// An accept naming a real player but a token from some other exchange
	// must not tear down that player's pending transfer.
	bad := protocol.TransferAcceptedMsg{PlayerID: pid, TokenID: "no-such-token"}
	if err := target.Send(f.ctx, bad); err == nil {
		t.Fatalf("unknown token redeemed")
	}
	if _, ok := f.handler.broker.Pending(pid); !ok {
		t.Fatalf("pending transfer cancelled by a mismatched accept")
	}

	// The real token still completes the handoff.
	acc := protocol.TransferAcceptedMsg{PlayerID: pid, TokenID: initiate.Token.TokenID}
	if err := target.Send(f.ctx, acc); err != nil {
		t.Fatalf("transfer accepted: %v", err)
	}
	note := waitMessage[protocol.TransferNotificationMsg](t, f.ctx, source)
	if note.PlayerID != pid || note.TargetServer != targetInfo.ID {
		t.Fatalf("notification: %+v", note.TransferNotification)
	}
}

func TestAtlas_UntrackedDisconnectLeavesGaugeAlone(t *testing.T) {
	f := startAtlas(t)
	source, _ := f.dialRegion(t, spatial.CenterRegion())

	before := testutil.ToFloat64(metrics.TrackedPlayers)
	ghost := protocol.PlayerDisconnectedMsg{PlayerID: player.NewPlayerID(), Reason: player.KickedReason("ghost")}
	if err := source.Send(f.ctx, ghost); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := testutil.ToFloat64(metrics.TrackedPlayers); got != before {
		t.Fatalf("gauge moved %v -> %v on an untracked disconnect", before, got)
	}

	// A tracked player still moves the gauge both ways.
	pid := player.NewPlayerID()
	if err := source.Send(f.ctx, protocol.PlayerConnectedMsg{PlayerID: pid, Position: spatial.Zero()}); err != nil {
		t.Fatalf("player connected: %v", err)
	}
	if got := testutil.ToFloat64(metrics.TrackedPlayers); got != before+1 {
		t.Fatalf("gauge = %v after connect, want %v", got, before+1)
	}
	drop := protocol.PlayerDisconnectedMsg{PlayerID: pid, Reason: player.KickedReason("afk")}
	if err := source.Send(f.ctx, drop); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := testutil.ToFloat64(metrics.TrackedPlayers); got != before {
		t.Fatalf("gauge = %v after disconnect, want %v", got, before)
	}
}

func TestAtlas_RegistrationPushesAdjacencyUpdates(t *testing.T) {
	f := startAtlas(t)
	first, _ := f.dialRegion(t, spatial.CenterRegion())
	_, secondInfo := f.dialRegion(t, spatial.NewRegionCoordinate(1, 0, 0))

	update := waitMessage[protocol.AdjacentServersUpdateMsg](t, f.ctx, first)
	found := false
	for _, s := range update.Servers {
		if s.ID == secondInfo.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("adjacency update missing new neighbor: %+v", update.Servers)
	}
}
