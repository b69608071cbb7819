package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/health"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testServerInfo() server.ServerInfo {
	info := server.NewServerInfo("region-0-0-0", "10.0.0.1:7777",
		spatial.CenterRegion(), spatial.DefaultBounds(), 100)
	info.Version = Version
	return info
}

func TestRegionMessage_RoundTrip(t *testing.T) {
	reg := server.NewServerRegistration(testServerInfo())
	reg.RegisteredAt = testTime

	hb := server.NewServerHeartbeat(reg.Server.ID, server.StatusRunning, 10, 100)
	hb.Timestamp = testTime

	hc := health.Healthy(reg.Server.ID, 10, 100)
	hc.Timestamp = testTime

	pid := player.NewPlayerID()
	pinfo := player.NewPlayerInfo(pid, "Tester")
	pinfo.LastUpdated = testTime
	state := player.NewPlayerState(pinfo)
	msgs := []RegionMessage{
		RegisterMsg{reg},
		HeartbeatMsg{hb},
		HealthResponseMsg{hc},
		PlayerConnectedMsg{PlayerID: pid, Position: spatial.NewWorldCoordinate(1, 2, 3)},
		PlayerDisconnectedMsg{PlayerID: pid, Reason: player.TransferReason(reg.Server.ID)},
		PlayerPositionUpdateMsg{PlayerID: pid, Position: spatial.NewWorldCoordinate(4, 5, 6), Velocity: spatial.NewWorldCoordinate(1, 0, 0)},
		TransferRequestMsg{
			TransferRequest: transfer.TransferRequest{
				PlayerID:     pid,
				SourceServer: reg.Server.ID,
				Position:     spatial.NewWorldCoordinate(990, 0, 0),
				TargetRegion: spatial.NewRegionCoordinate(1, 0, 0),
				Reason:       transfer.ReasonBoundaryCrossing,
				RequestedAt:  testTime,
			},
			PlayerState: state,
		},
		TransferCompleteMsg{PlayerID: pid, Success: true},
		TransferAcceptedMsg{PlayerID: pid, TokenID: "tok-1"},
		ShutdownMsg{ServerID: reg.Server.ID, PlayerCount: 7},
	}

	for _, m := range msgs {
		b, err := EncodeRegionMessage(m)
		if err != nil {
			t.Fatalf("%s: encode: %v", m.regionType(), err)
		}
		typ, err := PeekType(b)
		if err != nil || typ != m.regionType() {
			t.Fatalf("%s: peek got %q err %v", m.regionType(), typ, err)
		}
		back, err := DecodeRegionMessage(b)
		if err != nil {
			t.Fatalf("%s: decode: %v", m.regionType(), err)
		}
		if !reflect.DeepEqual(back, m) {
			t.Fatalf("%s: round trip\ngot  %#v\nwant %#v", m.regionType(), back, m)
		}
	}
}

func TestAtlasMessage_RoundTrip(t *testing.T) {
	info := testServerInfo()
	tok := transfer.TransferToken{
		TokenID:      "tok-42",
		PlayerID:     player.NewPlayerID(),
		TargetServer: info.ID,
		IssuedAt:     testTime,
		ExpiresAt:    testTime.Add(30 * time.Second),
	}
	pinfo := player.NewPlayerInfo(tok.PlayerID, "Tester")
	pinfo.LastUpdated = testTime
	state := player.NewPlayerState(pinfo)

	msgs := []AtlasMessage{
		RegistrationResponseMsg{server.RegistrationResponse{
			Success: true, ServerID: info.ID, Message: "registered", HeartbeatIntervalSecs: 10,
		}},
		HealthCheckRequestMsg{health.HealthCheckRequest{IncludeComponents: true}},
		InitiateTransferMsg{PlayerID: tok.PlayerID, TargetServer: info, Token: tok},
		AcceptTransferMsg{Token: tok, PlayerState: state},
		CancelTransferMsg{PlayerID: tok.PlayerID, Reason: "target offline"},
		TransferNotificationMsg{transfer.TransferNotification{
			PlayerID:     tok.PlayerID,
			TokenID:      tok.TokenID,
			SourceServer: info.ID,
			TargetServer: tok.TargetServer,
			CompletedAt:  testTime,
		}},
		PrepareShutdownMsg{DeadlineSecs: 60},
		AdjacentServersUpdateMsg{Servers: []server.ServerInfo{info}},
		ConfigUpdateMsg{Config: []byte(`{"tick_rate":30}`)},
	}

	for _, m := range msgs {
		b, err := EncodeAtlasMessage(m)
		if err != nil {
			t.Fatalf("%s: encode: %v", m.atlasType(), err)
		}
		back, err := DecodeAtlasMessage(b)
		if err != nil {
			t.Fatalf("%s: decode: %v", m.atlasType(), err)
		}
		if !reflect.DeepEqual(back, m) {
			t.Fatalf("%s: round trip\ngot  %#v\nwant %#v", m.atlasType(), back, m)
		}
	}
}

func TestOrchestrator_RoundTrip(t *testing.T) {
	cmds := []OrchestratorCommand{
		SpawnServerMsg{server.SpawnServerRequest{
			RegionCoord: spatial.NewRegionCoordinate(2, 0, -1),
			Bounds:      spatial.DefaultBounds(),
			Name:        "region-2-0--1",
			Environment: map[string]string{"HORIZON_REGION_X": "2"},
		}},
		StopServerMsg{InstanceID: "inst-9", Graceful: true},
		GetServerStatsMsg{InstanceID: "inst-9"},
		ScaleClusterMsg{TargetCount: 5},
	}
	for _, m := range cmds {
		b, err := EncodeOrchestratorCommand(m)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		back, err := DecodeOrchestratorCommand(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !reflect.DeepEqual(back, m) {
			t.Fatalf("round trip\ngot  %#v\nwant %#v", back, m)
		}
	}

	exit := 137
	msgs := []OrchestratorMessage{
		SpawnResponseMsg{server.SpawnServerResponse{Success: true, InstanceID: "inst-9", Address: "10.0.0.9:7777"}},
		ServerStoppedMsg{InstanceID: "inst-9", ExitCode: &exit},
		ServerStatsMsg{InstanceID: "inst-9", CPUPercent: 42.5, MemoryMB: 512, Running: true},
		ClusterScaledMsg{CurrentCount: 4, TargetCount: 5},
		ErrorMsg{Operation: "spawn", Message: "image pull failed"},
	}
	for _, m := range msgs {
		b, err := EncodeOrchestratorMessage(m)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		back, err := DecodeOrchestratorMessage(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !reflect.DeepEqual(back, m) {
			t.Fatalf("round trip\ngot  %#v\nwant %#v", back, m)
		}
	}
}

func TestDecode_UnknownTagFailsLoudly(t *testing.T) {
	frame := []byte(`{"type":"TeleportEveryone","payload":{}}`)
	if _, err := DecodeRegionMessage(frame); err == nil {
		t.Fatalf("region decode accepted unknown tag")
	}
	if _, err := DecodeAtlasMessage(frame); err == nil {
		t.Fatalf("atlas decode accepted unknown tag")
	}
	if _, err := DecodeOrchestratorCommand(frame); err == nil {
		t.Fatalf("orchestrator command decode accepted unknown tag")
	}
	if _, err := DecodeOrchestratorMessage(frame); err == nil {
		t.Fatalf("orchestrator message decode accepted unknown tag")
	}
	if _, err := decodeTagged([]byte(`{"payload":{}}`)); err == nil {
		t.Fatalf("missing type tag accepted")
	}
}

func TestEnvelope_AckRoundTrip(t *testing.T) {
	body, err := EncodeRegionMessage(HeartbeatMsg{server.NewServerHeartbeat(server.NewServerID(), server.StatusRunning, 1, 2)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env := NewEnvelope("region-0-0-0", "atlas", body)
	if env.ID == "" || env.TimestampMs == 0 {
		t.Fatalf("envelope metadata missing: %+v", env)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	back, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if back.ID != env.ID || back.Source != env.Source || back.Destination != env.Destination {
		t.Fatalf("envelope round trip: %+v", back)
	}

	ack := AckSuccess(env.ID)
	ab, err := EncodeAck(ack)
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	backAck, err := DecodeAck(ab)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if backAck.MessageID != env.ID || !backAck.Success {
		t.Fatalf("ack correlation: %+v", backAck)
	}

	fail := AckFailure(env.ID, "registry rejected overlap")
	fb, _ := EncodeAck(fail)
	backFail, err := DecodeAck(fb)
	if err != nil {
		t.Fatalf("decode failure ack: %v", err)
	}
	if backFail.Success || backFail.Error == "" {
		t.Fatalf("failure ack lost its error: %+v", backFail)
	}
}

func TestEnvelope_Invalid(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"id":"","source":"a","destination":"b","message":{}}`)); err == nil {
		t.Fatalf("empty id accepted")
	}
	if _, err := DecodeEnvelope([]byte(`{"id":"x","source":"a","destination":"","message":{}}`)); err == nil {
		t.Fatalf("empty destination accepted")
	}
}
