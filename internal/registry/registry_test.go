package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/health"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

const regionSize = 2000.0

func regRegistration(t *testing.T, coord spatial.RegionCoordinate) server.ServerRegistration {
	t.Helper()
	bounds := spatial.BoundsFromCenter(coord.ToWorldCenter(regionSize), regionSize/2)
	info := server.NewServerInfo("region-"+coord.String(), "10.0.0.1:7777", coord, bounds, 100)
	return server.NewServerRegistration(info)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := New()
	reg := regRegistration(t, spatial.CenterRegion())
	if err := r.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}

	entry, ok := r.ResolveRegion(spatial.CenterRegion())
	if !ok {
		t.Fatalf("resolve found nothing")
	}
	if entry.Info.ID != reg.Server.ID {
		t.Fatalf("resolved %s, want %s", entry.Info.ID, reg.Server.ID)
	}
	if entry.Status != server.StatusStarting {
		t.Fatalf("fresh registration status = %s, want starting", entry.Status)
	}
	if entry.Observed != health.StatusUnknown {
		t.Fatalf("fresh registration observed = %s, want unknown", entry.Observed)
	}
}

func TestRegistry_AdjacentSharedFaceAccepted(t *testing.T) {
	r := New()
	if err := r.Register(regRegistration(t, spatial.CenterRegion())); err != nil {
		t.Fatalf("register origin: %v", err)
	}
	// Neighbor bounds share the x=2000 plane with the origin region exactly.
	if err := r.Register(regRegistration(t, spatial.NewRegionCoordinate(1, 0, 0))); err != nil {
		t.Fatalf("register adjacent neighbor: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
}

func TestRegistry_TiledGridCornersAccepted(t *testing.T) {
	r := New()
	// A tiled grid puts diagonal cells in contact along an edge ((1,1,0)
	// meets the origin at x=2000, y=2000) or a single corner ((1,1,1)).
	// Contact without shared volume is never contested.
	coords := []spatial.RegionCoordinate{
		spatial.CenterRegion(),
		spatial.NewRegionCoordinate(1, 0, 0),
		spatial.NewRegionCoordinate(0, 1, 0),
		spatial.NewRegionCoordinate(1, 1, 0),
		spatial.NewRegionCoordinate(1, 1, 1),
	}
	for _, coord := range coords {
		if err := r.Register(regRegistration(t, coord)); err != nil {
			t.Fatalf("register region-%s: %v", coord, err)
		}
	}
	if r.Len() != len(coords) {
		t.Fatalf("len = %d, want %d", r.Len(), len(coords))
	}
}

func TestRegistry_NonAdjacentOverlapRejected(t *testing.T) {
	r := New()
	if err := r.Register(regRegistration(t, spatial.CenterRegion())); err != nil {
		t.Fatalf("register origin: %v", err)
	}

	// A diagonal neighbor claiming bounds that reach into the origin cube.
	coord := spatial.NewRegionCoordinate(1, 1, 0)
	info := server.NewServerInfo("rogue", "10.0.0.2:7777", coord,
		spatial.BoundsFromCenter(spatial.NewWorldCoordinate(500, 500, 0), 1000), 100)
	err := r.Register(server.NewServerRegistration(info))
	if !errors.Is(err, ErrContestedBounds) {
		t.Fatalf("err = %v, want ErrContestedBounds", err)
	}
	if r.Len() != 1 {
		t.Fatalf("rejected registration still admitted")
	}
}

func TestRegistry_AdjacentInteriorOverlapRejected(t *testing.T) {
	r := New()
	if err := r.Register(regRegistration(t, spatial.CenterRegion())); err != nil {
		t.Fatalf("register origin: %v", err)
	}

	// Adjacent coordinate, but the claimed box interpenetrates instead of
	// touching at the boundary plane.
	coord := spatial.NewRegionCoordinate(1, 0, 0)
	info := server.NewServerInfo("greedy", "10.0.0.3:7777", coord,
		spatial.BoundsFromCenter(spatial.NewWorldCoordinate(1500, 0, 0), 1000), 100)
	err := r.Register(server.NewServerRegistration(info))
	if !errors.Is(err, ErrContestedBounds) {
		t.Fatalf("err = %v, want ErrContestedBounds", err)
	}
}

func TestRegistry_SameRegionReplacesPreviousOwner(t *testing.T) {
	r := New()
	first := regRegistration(t, spatial.CenterRegion())
	if err := r.Register(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	second := regRegistration(t, spatial.CenterRegion())
	if err := r.Register(second); err != nil {
		t.Fatalf("register replacement: %v", err)
	}

	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1 after replacement", r.Len())
	}
	if _, ok := r.Get(first.Server.ID); ok {
		t.Fatalf("replaced server still registered")
	}
	entry, ok := r.ResolveRegion(spatial.CenterRegion())
	if !ok || entry.Info.ID != second.Server.ID {
		t.Fatalf("region not owned by replacement")
	}
}

func TestRegistry_ReregisterUnderNewCoordReleasesOldClaim(t *testing.T) {
	r := New()
	reg := regRegistration(t, spatial.CenterRegion())
	if err := r.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	moved := reg
	coord := spatial.NewRegionCoordinate(3, 0, 0)
	moved.Server.RegionCoord = coord
	moved.Server.Bounds = spatial.BoundsFromCenter(coord.ToWorldCenter(regionSize), regionSize/2)
	moved.Server.Center = moved.Server.Bounds.Center()
	if err := r.Register(moved); err != nil {
		t.Fatalf("re-register moved: %v", err)
	}

	if _, ok := r.ResolveRegion(spatial.CenterRegion()); ok {
		t.Fatalf("old coordinate still claimed")
	}
	entry, ok := r.ResolveRegion(coord)
	if !ok || entry.Info.ID != reg.Server.ID {
		t.Fatalf("new coordinate not claimed by moved server")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRegistry_ApplyHeartbeat(t *testing.T) {
	r := New()
	reg := regRegistration(t, spatial.CenterRegion())
	if err := r.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	hb := server.NewServerHeartbeat(reg.Server.ID, server.StatusRunning, 10, 100)
	if err := r.ApplyHeartbeat(hb); err != nil {
		t.Fatalf("starting -> running heartbeat: %v", err)
	}
	entry, _ := r.Get(reg.Server.ID)
	if entry.Status != server.StatusRunning {
		t.Fatalf("status = %s, want running", entry.Status)
	}
	if entry.Observed != health.StatusHealthy || entry.MissedSweeps != 0 {
		t.Fatalf("heartbeat did not refresh observed state: %+v", entry)
	}

	// Steady-state heartbeat with the same status is fine.
	if err := r.ApplyHeartbeat(hb); err != nil {
		t.Fatalf("steady heartbeat: %v", err)
	}

	// running -> stopped skips draining.
	bad := server.NewServerHeartbeat(reg.Server.ID, server.StatusStopped, 0, 100)
	if err := r.ApplyHeartbeat(bad); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("err = %v, want ErrBadTransition", err)
	}
	entry, _ = r.Get(reg.Server.ID)
	if entry.Status != server.StatusRunning {
		t.Fatalf("rejected heartbeat mutated status to %s", entry.Status)
	}

	unknown := server.NewServerHeartbeat(server.NewServerID(), server.StatusRunning, 0, 100)
	if err := r.ApplyHeartbeat(unknown); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("err = %v, want ErrUnknownServer", err)
	}
}

func TestRegistry_ApplyHealthLatestWins(t *testing.T) {
	r := New()
	reg := regRegistration(t, spatial.CenterRegion())
	if err := r.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	first := health.Healthy(reg.Server.ID, 10, 100)
	if err := r.ApplyHealth(first); err != nil {
		t.Fatalf("apply first: %v", err)
	}
	second := health.Unhealthy(reg.Server.ID, "tick budget exceeded")
	second.Timestamp = first.Timestamp.Add(time.Second)
	if err := r.ApplyHealth(second); err != nil {
		t.Fatalf("apply second: %v", err)
	}

	snap := r.HealthSnapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	if snap[0].Status != health.StatusUnhealthy {
		t.Fatalf("snapshot kept stale check: %+v", snap[0])
	}

	other := health.Healthy(server.NewServerID(), 1, 10)
	if err := r.ApplyHealth(other); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("err = %v, want ErrUnknownServer", err)
	}
}

func TestRegistry_ClusterHealth(t *testing.T) {
	r := New()
	a := regRegistration(t, spatial.CenterRegion())
	b := regRegistration(t, spatial.NewRegionCoordinate(1, 0, 0))
	for _, reg := range []server.ServerRegistration{a, b} {
		if err := r.Register(reg); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := r.ApplyHealth(health.Healthy(a.Server.ID, 40, 100)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := r.ApplyHealth(health.Unhealthy(b.Server.ID, "oom")); err != nil {
		t.Fatalf("apply: %v", err)
	}

	cluster := r.ClusterHealth()
	if cluster.Status != health.StatusDegraded {
		t.Fatalf("cluster status = %s, want degraded", cluster.Status)
	}
	if cluster.HealthyServers != 1 || cluster.UnhealthyServers != 1 {
		t.Fatalf("cluster counts: %+v", cluster)
	}
}

func TestRegistry_AdjacentServers(t *testing.T) {
	r := New()
	center := regRegistration(t, spatial.CenterRegion())
	east := regRegistration(t, spatial.NewRegionCoordinate(1, 0, 0))
	up := regRegistration(t, spatial.NewRegionCoordinate(0, 1, 0))
	diagonal := regRegistration(t, spatial.NewRegionCoordinate(1, 1, 0))
	for _, reg := range []server.ServerRegistration{center, east, up, diagonal} {
		if err := r.Register(reg); err != nil {
			t.Fatalf("register %s: %v", reg.Server.Name, err)
		}
	}

	adj := r.AdjacentServers(spatial.CenterRegion())
	if len(adj) != 2 {
		t.Fatalf("adjacent count = %d, want 2", len(adj))
	}
	for _, info := range adj {
		if info.ID == diagonal.Server.ID || info.ID == center.Server.ID {
			t.Fatalf("adjacency list includes %s", info.Name)
		}
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := New()
	reg := regRegistration(t, spatial.CenterRegion())
	if err := r.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.ApplyHealth(health.Healthy(reg.Server.ID, 1, 10)); err != nil {
		t.Fatalf("apply health: %v", err)
	}

	r.Deregister(reg.Server.ID)
	if r.Len() != 0 {
		t.Fatalf("len = %d after deregister", r.Len())
	}
	if _, ok := r.ResolveRegion(spatial.CenterRegion()); ok {
		t.Fatalf("region still claimed after deregister")
	}
	if len(r.HealthSnapshot()) != 0 {
		t.Fatalf("health record survived deregister")
	}
	// Deregistering twice is a no-op.
	r.Deregister(reg.Server.ID)
}
