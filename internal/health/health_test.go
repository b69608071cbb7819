package health

import (
	"math/rand"
	"testing"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

func TestHealthStatus_IsOperational(t *testing.T) {
	if !StatusHealthy.IsOperational() || !StatusDegraded.IsOperational() {
		t.Fatalf("healthy/degraded must be operational")
	}
	if StatusUnhealthy.IsOperational() || StatusUnknown.IsOperational() {
		t.Fatalf("unhealthy/unknown must not be operational")
	}
}

func TestAggregateCluster_AllHealthy(t *testing.T) {
	checks := []HealthCheck{
		Healthy(server.NewServerID(), 50, 100),
		Healthy(server.NewServerID(), 30, 100),
	}
	c := AggregateCluster(checks)
	if c.Status != StatusHealthy {
		t.Fatalf("status: got %s want healthy", c.Status)
	}
	if c.HealthyServers != 2 || c.TotalPlayers != 80 || c.TotalCapacity != 200 {
		t.Fatalf("counts: %+v", c)
	}
	if c.LoadFactor() != 0.4 {
		t.Fatalf("load factor: got %v want 0.4", c.LoadFactor())
	}
}

func TestAggregateCluster_Mixed(t *testing.T) {
	c := AggregateCluster([]HealthCheck{
		Healthy(server.NewServerID(), 10, 100),
		Unhealthy(server.NewServerID(), "tick stall"),
	})
	if c.Status != StatusDegraded {
		t.Fatalf("one healthy + one unhealthy: got %s want degraded", c.Status)
	}

	degraded := Healthy(server.NewServerID(), 10, 100)
	degraded.Status = StatusDegraded
	c = AggregateCluster([]HealthCheck{Healthy(server.NewServerID(), 1, 10), degraded})
	if c.Status != StatusDegraded {
		t.Fatalf("healthy + degraded: got %s want degraded", c.Status)
	}
}

func TestAggregateCluster_AllUnhealthy(t *testing.T) {
	c := AggregateCluster([]HealthCheck{
		Unhealthy(server.NewServerID(), "down"),
		Unhealthy(server.NewServerID(), "down"),
	})
	if c.Status != StatusUnhealthy {
		t.Fatalf("all unhealthy: got %s", c.Status)
	}
}

func TestAggregateCluster_UnknownCountsAsRisk(t *testing.T) {
	unknown := HealthCheck{ServerID: server.NewServerID(), Status: StatusUnknown}
	c := AggregateCluster([]HealthCheck{unknown})
	if c.Status != StatusUnhealthy || c.UnhealthyServers != 1 {
		t.Fatalf("lone unknown must aggregate unhealthy: %+v", c)
	}

	c = AggregateCluster([]HealthCheck{unknown, Healthy(server.NewServerID(), 0, 10)})
	if c.Status != StatusDegraded {
		t.Fatalf("unknown + healthy: got %s want degraded", c.Status)
	}
}

func TestAggregateCluster_Empty(t *testing.T) {
	c := AggregateCluster(nil)
	if c.Status != StatusUnknown {
		t.Fatalf("empty input: got %s want unknown", c.Status)
	}
	if c.LoadFactor() != 0 {
		t.Fatalf("empty load factor: got %v", c.LoadFactor())
	}
}

func TestAggregateCluster_OrderIndependent(t *testing.T) {
	checks := []HealthCheck{
		Healthy(server.NewServerID(), 5, 10),
		Unhealthy(server.NewServerID(), "x"),
		{ServerID: server.NewServerID(), Status: StatusUnknown},
		Healthy(server.NewServerID(), 7, 20),
	}
	want := AggregateCluster(checks)
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		r.Shuffle(len(checks), func(a, b int) { checks[a], checks[b] = checks[b], checks[a] })
		got := AggregateCluster(checks)
		got.Timestamp = want.Timestamp
		if got != want {
			t.Fatalf("order changed the fold: got %+v want %+v", got, want)
		}
	}
}

func TestHealthCheck_LoadFactor(t *testing.T) {
	h := Healthy(server.NewServerID(), 50, 100)
	if h.LoadFactor() != 0.5 {
		t.Fatalf("load factor: got %v", h.LoadFactor())
	}
	h.Capacity = 0
	if h.LoadFactor() != 0 {
		t.Fatalf("zero capacity must be zero load, got %v", h.LoadFactor())
	}
}
