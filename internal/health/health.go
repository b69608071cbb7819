// Package health defines per-server health snapshots and the cluster-wide
// aggregation the atlas proxy derives from them.
package health

import (
	"time"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

// HealthStatus is a 4-valued lattice ordered by severity. Unknown means "no
// recent data", which is not the same as failing: per-server detail keeps
// the distinction, only the conservative cluster-wide counting folds
// unknown in with unhealthy.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

// Severity orders statuses for aggregation, least to most severe:
// healthy, degraded, unhealthy, unknown.
func (s HealthStatus) Severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	case StatusUnknown:
		return 3
	}
	return 3
}

// IsOperational reports whether the service still serves traffic.
func (s HealthStatus) IsOperational() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// HealthCheck is one server's health snapshot.
type HealthCheck struct {
	ServerID    server.ServerID   `json:"server_id"`
	Status      HealthStatus      `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	PlayerCount int               `json:"player_count"`
	Capacity    int               `json:"capacity"`
	UptimeSecs  uint64            `json:"uptime_secs"`
	TickRate    float64           `json:"tick_rate"`
	MemoryMB    int               `json:"memory_mb"`
	CPUPercent  float64           `json:"cpu_percent"`
	Components  []ComponentHealth `json:"components,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// Healthy builds a healthy snapshot with the given occupancy.
func Healthy(id server.ServerID, players, capacity int) HealthCheck {
	return HealthCheck{
		ServerID:    id,
		Status:      StatusHealthy,
		Timestamp:   time.Now().UTC(),
		PlayerCount: players,
		Capacity:    capacity,
		TickRate:    60,
	}
}

// Unhealthy builds a failing snapshot carrying the fault message.
func Unhealthy(id server.ServerID, message string) HealthCheck {
	return HealthCheck{
		ServerID:  id,
		Status:    StatusUnhealthy,
		Timestamp: time.Now().UTC(),
		Message:   message,
	}
}

// LoadFactor is players over capacity, zero when capacity is zero.
func (h HealthCheck) LoadFactor() float64 {
	if h.Capacity == 0 {
		return 0
	}
	return float64(h.PlayerCount) / float64(h.Capacity)
}

// ComponentHealth is a per-subsystem entry inside a HealthCheck.
type ComponentHealth struct {
	Name           string       `json:"name"`
	Status         HealthStatus `json:"status"`
	Details        string       `json:"details,omitempty"`
	ResponseTimeMs uint64       `json:"response_time_ms,omitempty"`
}

func HealthyComponent(name string) ComponentHealth {
	return ComponentHealth{Name: name, Status: StatusHealthy}
}

func UnhealthyComponent(name, details string) ComponentHealth {
	return ComponentHealth{Name: name, Status: StatusUnhealthy, Details: details}
}

// HealthCheckRequest asks a server for a snapshot.
type HealthCheckRequest struct {
	IncludeComponents bool `json:"include_components,omitempty"`
	IncludeMetrics    bool `json:"include_metrics,omitempty"`
}
