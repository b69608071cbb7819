package server

import (
	"testing"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

func TestApiRegistration_RoundTripCubic(t *testing.T) {
	info := NewServerInfo("region-1-0-0", "10.0.0.5:7777",
		spatial.NewRegionCoordinate(1, 0, 0),
		spatial.BoundsFromCenter(spatial.NewWorldCoordinate(256, 0, 0), 128),
		200)
	info.Version = "0.3.0"

	flat := ApiRegistrationFromInfo(info)
	if flat.Bounds != 128 {
		t.Fatalf("half extent: got %v", flat.Bounds)
	}

	back, err := flat.ToServerInfo()
	if err != nil {
		t.Fatalf("to server info: %v", err)
	}
	// Fresh id by design; everything else must survive for cubic bounds.
	if back.Bounds != info.Bounds {
		t.Fatalf("bounds: got %+v want %+v", back.Bounds, info.Bounds)
	}
	if back.RegionCoord != info.RegionCoord || back.Capacity != info.Capacity || back.Version != info.Version {
		t.Fatalf("fields lost in round trip: %+v", back)
	}
}

func TestApiRegistration_Invalid(t *testing.T) {
	if _, err := (ApiServerRegistration{Name: "x"}).ToServerInfo(); err == nil {
		t.Fatalf("missing address accepted")
	}
	if _, err := (ApiServerRegistration{Name: "x", Address: "a:1", Bounds: -5}).ToServerInfo(); err == nil {
		t.Fatalf("negative half-extent accepted")
	}
}

func TestApiHeartbeat_RoundTrip(t *testing.T) {
	id := NewServerID()
	hb := NewServerHeartbeat(id, StatusRunning, 42, 100)
	hb.AvgTickMs = 16.6
	hb.MemoryBytes = 1 << 30

	flat := ApiHeartbeatFromHeartbeat(hb)
	if !flat.AcceptingConnections {
		t.Fatalf("running server must report accepting")
	}

	back, err := flat.ToServerHeartbeat()
	if err != nil {
		t.Fatalf("to heartbeat: %v", err)
	}
	if back.ServerID != id || back.Status != StatusRunning {
		t.Fatalf("identity/status lost: %+v", back)
	}
	if back.Load != hb.Load || back.CurrentConnections != 42 {
		t.Fatalf("metrics lost: %+v", back)
	}

	flat.AcceptingConnections = false
	drained, err := flat.ToServerHeartbeat()
	if err != nil {
		t.Fatalf("to heartbeat: %v", err)
	}
	if drained.Status != StatusDraining {
		t.Fatalf("non-accepting must map to draining, got %s", drained.Status)
	}
}

func TestApiHeartbeat_RejectsBadID(t *testing.T) {
	flat := ApiServerHeartbeat{ServerID: "region-five"}
	if _, err := flat.ToServerHeartbeat(); err == nil {
		t.Fatalf("malformed server id accepted at REST boundary")
	}
}

func TestApiRegistrationResponse_RoundTrip(t *testing.T) {
	adj := NewServerInfo("n", "b:2", spatial.NewRegionCoordinate(0, 1, 0), spatial.DefaultBounds(), 10)
	resp := RegistrationResponse{
		Success:               true,
		ServerID:              NewServerID(),
		Message:               "registered",
		HeartbeatIntervalSecs: 10,
		AdjacentServers:       []ServerInfo{adj},
	}
	flat := ApiResponseFromRegistration(resp)
	if len(flat.AdjacentServers) != 1 || flat.AdjacentServers[0].ServerID != adj.ID.String() {
		t.Fatalf("adjacent projection: %+v", flat.AdjacentServers)
	}
	back, err := flat.ToRegistrationResponse()
	if err != nil {
		t.Fatalf("to response: %v", err)
	}
	if back.ServerID != resp.ServerID || back.HeartbeatIntervalSecs != 10 {
		t.Fatalf("round trip: %+v", back)
	}
}
