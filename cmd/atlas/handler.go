package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/broker"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/config"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/index"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/journal"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/metrics"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/protocol"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/registry"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transport/ws"
)

// meshHandler is the proxy logic behind the websocket hub: registry writes,
// heartbeat and health ingestion, and the transfer protocol.
type meshHandler struct {
	cfg      config.Atlas
	log      zerolog.Logger
	registry *registry.Registry
	broker   *broker.Broker
	journal  *journal.Writer
	index    *index.SQLiteIndex

	hub *ws.Hub
}

func newMeshHandler(cfg config.Atlas, log zerolog.Logger, reg *registry.Registry, brk *broker.Broker, jw *journal.Writer, idx *index.SQLiteIndex) *meshHandler {
	return &meshHandler{
		cfg:      cfg,
		log:      log,
		registry: reg,
		broker:   brk,
		journal:  jw,
		index:    idx,
	}
}

// record writes one lifecycle event to the journal and the index. Both are
// best-effort: an audit failure never fails the operation that caused it.
func (h *meshHandler) record(e journal.Entry) {
	if h.journal != nil {
		if err := h.journal.Write(e); err != nil {
			h.log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("journal write failed")
		}
	}
	if h.index != nil {
		h.index.Record(e)
	}
}

func (h *meshHandler) HandleRegister(sess *ws.Session, reg server.ServerRegistration) (server.RegistrationResponse, error) {
	if err := h.registry.Register(reg); err != nil {
		h.log.Warn().Str("name", reg.Server.Name).Err(err).Msg("registration rejected")
		return server.RegistrationResponse{}, err
	}
	metrics.RegisteredServers.Set(float64(h.registry.Len()))
	h.record(journal.Entry{
		Kind:     journal.EventServerRegistered,
		ServerID: reg.Server.ID,
		Region:   reg.Server.RegionCoord,
		Status:   reg.Status,
	})

	// Tell existing neighbors about the newcomer.
	neighbors := h.registry.AdjacentServers(reg.Server.RegionCoord)
	for _, n := range neighbors {
		update := protocol.AdjacentServersUpdateMsg{Servers: h.registry.AdjacentServers(n.RegionCoord)}
		if err := h.hub.SendTo(n.ID, update); err != nil {
			h.log.Debug().Stringer("server", n.ID).Err(err).Msg("adjacency update not delivered")
		}
	}

	return server.RegistrationResponse{
		Success:               true,
		ServerID:              reg.Server.ID,
		Message:               "registered",
		HeartbeatIntervalSecs: int(h.cfg.HeartbeatInterval / time.Second),
		AdjacentServers:       neighbors,
	}, nil
}

func (h *meshHandler) HandleMessage(sess *ws.Session, env protocol.Envelope, msg protocol.RegionMessage) error {
	metrics.MessagesTotal.WithLabelValues(envType(msg)).Inc()

	switch m := msg.(type) {
	case protocol.HeartbeatMsg:
		return h.handleHeartbeat(sess, m)
	case protocol.HealthResponseMsg:
		return h.registry.ApplyHealth(m.HealthCheck)
	case protocol.PlayerConnectedMsg:
		if err := h.broker.PlayerConnected(m.PlayerID, sess.ServerID); err != nil {
			return err
		}
		metrics.TrackedPlayers.Inc()
		return nil
	case protocol.PlayerDisconnectedMsg:
		// The gauge mirrors the custody map: a disconnect for a player the
		// broker never tracked must not drag it below zero.
		if h.broker.PlayerDisconnected(m.PlayerID) {
			metrics.TrackedPlayers.Dec()
		}
		return nil
	case protocol.PlayerPositionUpdateMsg:
		// Position stream is informational at the proxy; routing decisions
		// happen on explicit transfer requests.
		return nil
	case protocol.TransferRequestMsg:
		return h.handleTransferRequest(sess, m)
	case protocol.TransferAcceptedMsg:
		return h.handleTransferAccepted(sess, m)
	case protocol.TransferCompleteMsg:
		if !m.Success {
			h.record(journal.Entry{
				Kind:     journal.EventTransferFailed,
				ServerID: sess.ServerID,
				PlayerID: m.PlayerID,
				Detail:   m.Error,
			})
		}
		return nil
	case protocol.ShutdownMsg:
		h.record(journal.Entry{
			Kind:     journal.EventServerDeregistered,
			ServerID: m.ServerID,
			Detail:   fmt.Sprintf("shutdown with %d players", m.PlayerCount),
		})
		h.registry.Deregister(m.ServerID)
		metrics.RegisteredServers.Set(float64(h.registry.Len()))
		return nil
	case protocol.RegisterMsg:
		return fmt.Errorf("already registered")
	}
	return fmt.Errorf("unhandled message type %T", msg)
}

func (h *meshHandler) handleHeartbeat(sess *ws.Session, m protocol.HeartbeatMsg) error {
	prev, _ := h.registry.Get(sess.ServerID)
	if err := h.registry.ApplyHeartbeat(m.ServerHeartbeat); err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
	if prev.Status != m.Status {
		h.record(journal.Entry{
			Kind:     journal.EventStatusChanged,
			ServerID: sess.ServerID,
			Status:   m.Status,
		})
	}
	return nil
}

func (h *meshHandler) handleTransferRequest(sess *ws.Session, m protocol.TransferRequestMsg) error {
	if m.SourceServer != sess.ServerID {
		return fmt.Errorf("transfer request for %s from connection %s", m.SourceServer, sess.ServerID)
	}
	pending, err := h.broker.Initiate(m.TransferRequest)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failure").Inc()
		h.record(journal.Entry{
			Kind:     journal.EventTransferFailed,
			ServerID: sess.ServerID,
			PlayerID: m.PlayerID,
			Detail:   err.Error(),
		})
		return err
	}
	metrics.TokensTotal.WithLabelValues("issued").Inc()
	h.record(journal.Entry{
		Kind:     journal.EventTransferInitiated,
		ServerID: sess.ServerID,
		PlayerID: m.PlayerID,
		Region:   m.TargetRegion,
		TokenID:  pending.Token.TokenID,
	})

	// Ship the token and the snapshot to the destination first: a
	// destination that cannot receive the state cannot take the player.
	accept := protocol.AcceptTransferMsg{Token: pending.Token, PlayerState: m.PlayerState}
	if err := h.hub.SendTo(pending.Target.ID, accept); err != nil {
		metrics.TransfersTotal.WithLabelValues("failure").Inc()
		if res, failErr := h.broker.Fail(m.PlayerID, transfer.ErrTargetUnavailable); failErr == nil {
			h.record(journal.Entry{
				Kind:      journal.EventTransferFailed,
				ServerID:  sess.ServerID,
				PlayerID:  m.PlayerID,
				TokenID:   pending.Token.TokenID,
				ErrorCode: res.ErrorCode,
			})
		}
		return fmt.Errorf("deliver state to %s: %w", pending.Target.ID, err)
	}

	// Hand the token to the source; it releases the player only once the
	// destination has redeemed and the completion notification arrives.
	return sess.Send(protocol.InitiateTransferMsg{
		PlayerID:     m.PlayerID,
		TargetServer: pending.Target,
		Token:        pending.Token,
	})
}

func (h *meshHandler) handleTransferAccepted(sess *ws.Session, m protocol.TransferAcceptedMsg) error {
	tok, err := h.broker.Redeem(m.TokenID, sess.ServerID)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failure").Inc()
		// The claimed player id is unverified on this path. Only a pending
		// transfer actually holding this token may be failed; a mismatched
		// pair must not cancel an unrelated player's handoff.
		pending, hadPending := h.broker.Pending(m.PlayerID)
		if hadPending && pending.Token.TokenID == m.TokenID {
			if res, failErr := h.broker.Fail(m.PlayerID, err); failErr == nil {
				h.record(journal.Entry{
					Kind:      journal.EventTransferFailed,
					ServerID:  sess.ServerID,
					PlayerID:  m.PlayerID,
					TokenID:   m.TokenID,
					ErrorCode: res.ErrorCode,
				})
				// Custody stays with the source; tell it the attempt died.
				cancel := protocol.CancelTransferMsg{PlayerID: m.PlayerID, Reason: res.ErrorMessage}
				if sendErr := h.hub.SendTo(pending.Source, cancel); sendErr != nil {
					h.log.Warn().Stringer("server", pending.Source).Err(sendErr).Msg("transfer cancel not delivered")
				}
			}
		}
		return err
	}

	metrics.TokensTotal.WithLabelValues("redeemed").Inc()
	pending, hadPending := h.broker.Pending(tok.PlayerID)
	note, err := h.broker.Complete(tok.PlayerID, tok.TokenID)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.TransfersTotal.WithLabelValues("success").Inc()
	if hadPending {
		metrics.TransferDuration.Observe(time.Since(pending.StartedAt).Seconds())
	}
	h.record(journal.Entry{
		Kind:     journal.EventTransferCompleted,
		ServerID: sess.ServerID,
		PlayerID: tok.PlayerID,
		TokenID:  tok.TokenID,
	})

	// The source releases the player only on this notification; until then
	// it still owns custody.
	if err := h.hub.SendTo(note.SourceServer, protocol.TransferNotificationMsg{TransferNotification: note}); err != nil {
		h.log.Warn().Stringer("server", note.SourceServer).Err(err).Msg("transfer notification not delivered")
	}
	return nil
}

func (h *meshHandler) HandleDisconnect(sess *ws.Session) {
	// The registry entry survives: the liveness monitor decides when a
	// silent server is declared unhealthy, and a reconnect replaces the
	// session transparently.
	h.log.Info().Stringer("server", sess.ServerID).Msg("mesh connection lost")
}

func envType(m protocol.RegionMessage) string {
	switch m.(type) {
	case protocol.RegisterMsg:
		return protocol.TypeRegister
	case protocol.HeartbeatMsg:
		return protocol.TypeHeartbeat
	case protocol.HealthResponseMsg:
		return protocol.TypeHealthResponse
	case protocol.PlayerConnectedMsg:
		return protocol.TypePlayerConnected
	case protocol.PlayerDisconnectedMsg:
		return protocol.TypePlayerDisconnected
	case protocol.PlayerPositionUpdateMsg:
		return protocol.TypePlayerPositionUpdate
	case protocol.TransferRequestMsg:
		return protocol.TypeTransferRequest
	case protocol.TransferCompleteMsg:
		return protocol.TypeTransferComplete
	case protocol.TransferAcceptedMsg:
		return protocol.TypeTransferAccepted
	case protocol.ShutdownMsg:
		return protocol.TypeShutdown
	}
	return "unknown"
}
