// Command regiond is the mesh agent of a single region server. It
// registers the region with the atlas proxy, streams heartbeats, answers
// health probes, and runs the source and destination sides of the player
// transfer protocol.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/config"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/protocol"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
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
	cfg, err := config.LoadRegion()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	setLogger(cfg.LogLevel)
	log.Info().Msgf("starting regiond version: %s", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n := newNode(cfg, log.Logger)
	log.Info().
		Str("name", cfg.Name).
		Str("region", n.info.RegionCoord.String()).
		Float64("region_size", cfg.RegionSize).
		Msg("region configured")

	if err := n.connect(ctx); err != nil {
		log.Fatal().Err(err).Str("url", cfg.AtlasURL).Msg("mesh connection failed")
	}

	heartbeats := time.NewTicker(cfg.HeartbeatInterval)
	defer heartbeats.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, draining")
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n.drainAndStop(drainCtx, 25*time.Second)
			cancel()
			log.Info().Msg("shutdown complete")
			return

		case <-n.client.Done():
			log.Fatal().Msg("mesh connection lost")

		case <-heartbeats.C:
			if err := n.client.Send(ctx, protocol.HeartbeatMsg{ServerHeartbeat: n.heartbeat()}); err != nil {
				log.Warn().Err(err).Msg("heartbeat rejected")
			}

		case msg, ok := <-n.client.Messages():
			if !ok {
				continue
			}
			n.handleAtlasMessage(ctx, msg)
			// A shutdown order drains in the foreground; new work stops
			// arriving once the proxy sees the draining heartbeat.
			if n.currentStatus() == server.StatusDraining {
				if m, isShutdown := msg.(protocol.PrepareShutdownMsg); isShutdown {
					deadline := time.Duration(m.DeadlineSecs) * time.Second
					if deadline <= 0 {
						deadline = 30 * time.Second
					}
					n.drainAndStop(ctx, deadline)
					log.Info().Msg("drain complete, exiting")
					return
				}
			}
		}
	}
}
