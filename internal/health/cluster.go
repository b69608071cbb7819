package health

import "time"

// ClusterHealth is derived, never stored: recompute it from the current
// snapshot set whenever it is needed.
type ClusterHealth struct {
	Status           HealthStatus `json:"status"`
	HealthyServers   int          `json:"healthy_servers"`
	DegradedServers  int          `json:"degraded_servers"`
	UnhealthyServers int          `json:"unhealthy_servers"`
	TotalPlayers     int          `json:"total_players"`
	TotalCapacity    int          `json:"total_capacity"`
	Timestamp        time.Time    `json:"timestamp"`
}

// AggregateCluster folds a set of per-server snapshots (at most one per
// server, latest wins; the caller's registry guarantees that) into the
// cluster view. The fold is pure and order-independent. Unknown is counted
// with unhealthy: "no recent data" is conservatively treated as risk at the
// cluster level even though per-server detail keeps the two apart.
func AggregateCluster(checks []HealthCheck) ClusterHealth {
	var c ClusterHealth
	for _, check := range checks {
		switch check.Status {
		case StatusHealthy:
			c.HealthyServers++
		case StatusDegraded:
			c.DegradedServers++
		default: // unhealthy or unknown
			c.UnhealthyServers++
		}
		c.TotalPlayers += check.PlayerCount
		c.TotalCapacity += check.Capacity
	}

	switch {
	case c.UnhealthyServers > 0 && c.HealthyServers == 0:
		c.Status = StatusUnhealthy
	case c.DegradedServers > 0 || c.UnhealthyServers > 0:
		c.Status = StatusDegraded
	case c.HealthyServers > 0:
		c.Status = StatusHealthy
	default:
		c.Status = StatusUnknown
	}
	c.Timestamp = time.Now().UTC()
	return c
}

// LoadFactor is total players over total capacity, zero when the cluster
// has no capacity at all.
func (c ClusterHealth) LoadFactor() float64 {
	if c.TotalCapacity == 0 {
		return 0
	}
	return float64(c.TotalPlayers) / float64(c.TotalCapacity)
}
