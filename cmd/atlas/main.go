// Command atlas is the mesh proxy: region servers register with it, it
// tracks who owns which region, watches liveness, and brokers player
// transfers across region boundaries.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/broker"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/config"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/index"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/journal"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/metrics"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/protocol"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/registry"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transport/ws"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	cfg, err := config.LoadAtlas()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	setLogger(cfg.LogLevel)
	log.Info().Msgf("starting atlas version: %s", version)

	mesh, err := config.LoadMesh(cfg.MeshFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.MeshFile).Msg("mesh config")
	}
	log.Info().Float64("region_size", mesh.RegionSize).Int("initial_regions", len(mesh.InitialRegions)).Msg("mesh topology loaded")
	announceInitialRegions(mesh)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	brk := broker.New(reg, log.Logger, cfg.TransferTokenTTL)

	var jw *journal.Writer
	if cfg.JournalDir != "" {
		jw = journal.NewWriter(cfg.JournalDir, "mesh")
		defer jw.Close()
	}
	var idx *index.SQLiteIndex
	if cfg.IndexDBPath != "" {
		idx, err = index.Open(cfg.IndexDBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.IndexDBPath).Msg("open index")
		}
		defer idx.Close()
	}

	handler := newMeshHandler(cfg, log.Logger, reg, brk, jw, idx)
	hub := ws.NewHub(handler, log.Logger)
	handler.hub = hub

	monitor := registry.NewMonitor(reg, log.Logger, cfg.LivenessSweep, cfg.HeartbeatDeadline, cfg.MaxMissedSweeps)
	monitor.SetOnUnhealthy(func(id server.ServerID) {
		handler.record(journal.Entry{Kind: journal.EventServerUnhealthy, ServerID: id})
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	// Stale transfers fail back to their source on the same cadence; the
	// cluster load gauge rides along.
	go func() {
		ticker := time.NewTicker(cfg.LivenessSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, res := range brk.ExpireStale(time.Now().UTC()) {
					metrics.TransfersTotal.WithLabelValues("failure").Inc()
					metrics.TokensTotal.WithLabelValues("expired").Inc()
					handler.record(journal.Entry{
						Kind:      journal.EventTransferFailed,
						PlayerID:  res.PlayerID,
						TokenID:   res.TokenID,
						ErrorCode: res.ErrorCode,
					})
				}
				metrics.ClusterLoadFactor.Set(reg.ClusterHealth().LoadFactor())
			}
		}
	}()

	meshMux := http.NewServeMux()
	meshMux.HandleFunc("/mesh", hub.Handler())
	(&restAPI{handler: handler}).register(meshMux)
	meshMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		cluster := reg.ClusterHealth()
		w.Header().Set("Content-Type", "application/json")
		if !cluster.Status.IsOperational() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(cluster)
	})

	meshSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           meshMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("starting mesh listener")
		if err := meshSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("mesh server error")
		}
	}()

	metricsMux := http.NewServeMux()
	metrics.Register(metricsMux)
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := meshSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mesh server graceful shutdown failed")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

// announceInitialRegions emits one spawn command per configured region for
// the orchestrator to pick up. The proxy does not run containers itself;
// it only states what the grid should look like.
func announceInitialRegions(mesh config.Mesh) {
	for _, r := range mesh.InitialRegions {
		cmd := protocol.SpawnServerMsg{SpawnServerRequest: server.SpawnServerRequest{
			RegionCoord: r.Coord(),
			Bounds:      r.Bounds(mesh.RegionSize),
			Name:        r.Name,
		}}
		b, err := protocol.EncodeOrchestratorCommand(cmd)
		if err != nil {
			log.Warn().Err(err).Str("region", r.Coord().String()).Msg("spawn command encode failed")
			continue
		}
		log.Info().RawJSON("command", b).Msg("initial region spawn requested")
	}
}
