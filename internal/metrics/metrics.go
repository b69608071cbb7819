// Package metrics exposes the atlas proxy's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RegisteredServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_registered_servers",
			Help: "Region servers currently registered with the proxy",
		},
	)

	TrackedPlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_tracked_players",
			Help: "Players currently in some server's custody",
		},
	)

	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_transfers_total",
			Help: "Total transfer attempts",
		},
		[]string{"result"}, // success|failure
	)

	TransferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atlas_transfer_duration_seconds",
			Help:    "Duration from transfer initiation to completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_heartbeats_total",
			Help: "Heartbeats processed by the proxy",
		},
		[]string{"result"}, // ok|rejected
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_messages_total",
			Help: "Mesh protocol messages received, by type",
		},
		[]string{"type"},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_transfer_tokens_total",
			Help: "Transfer tokens by lifecycle event",
		},
		[]string{"event"}, // issued|redeemed|expired
	)

	ClusterLoadFactor = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_cluster_load_factor",
			Help: "Players over capacity across all registered servers",
		},
	)
)

func init() {
	prometheus.MustRegister(RegisteredServers)
	prometheus.MustRegister(TrackedPlayers)
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(TransferDuration)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(TokensTotal)
	prometheus.MustRegister(ClusterLoadFactor)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
