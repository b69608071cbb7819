// Package ws carries the mesh protocol over WebSocket. Region servers dial
// the atlas proxy and hold one long-lived connection each; every frame is
// one JSON envelope. The first envelope on a connection must carry a
// Register message or the connection is closed.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/protocol"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

const (
	writeTimeout      = 5 * time.Second
	readTimeout       = 60 * time.Second
	handshakeTimeout  = 5 * time.Second
	sessionQueueDepth = 64
)

// Handler is the proxy logic behind the hub. HandleMessage's error becomes
// a failure ack to the sender; the connection stays up either way.
type Handler interface {
	HandleRegister(sess *Session, reg server.ServerRegistration) (server.RegistrationResponse, error)
	HandleMessage(sess *Session, env protocol.Envelope, msg protocol.RegionMessage) error
	HandleDisconnect(sess *Session)
}

// Session is one connected region server.
type Session struct {
	ServerID server.ServerID
	Name     string

	out    chan []byte
	cancel context.CancelFunc
}

// Send queues one proxy message for the session's writer. Returns an error
// when the session's queue is full or the session is gone; the caller
// decides whether that matters.
func (s *Session) Send(m protocol.AtlasMessage) error {
	body, err := protocol.EncodeAtlasMessage(m)
	if err != nil {
		return err
	}
	env := protocol.NewEnvelope("atlas", s.ServerID.String(), body)
	b, err := envelopeBytes(env)
	if err != nil {
		return err
	}
	select {
	case s.out <- b:
		return nil
	default:
		return fmt.Errorf("session %s: send queue full", s.ServerID)
	}
}

func (s *Session) sendAck(envID string, err error) {
	ack := protocol.AckSuccess(envID)
	if err != nil {
		ack = protocol.AckFailure(envID, err.Error())
	}
	body, encErr := protocol.EncodeAck(ack)
	if encErr != nil {
		return
	}
	env := protocol.NewEnvelope("atlas", s.ServerID.String(), body)
	b, encErr := envelopeBytes(env)
	if encErr != nil {
		return
	}
	select {
	case s.out <- b:
	default:
	}
}

// Hub accepts region server connections and tracks live sessions.
type Hub struct {
	handler Handler
	log     zerolog.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[server.ServerID]*Session
}

func NewHub(handler Handler, log zerolog.Logger) *Hub {
	return &Hub{
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: make(map[server.ServerID]*Session),
	}
}

// Session returns the live session for a server.
func (h *Hub) Session(id server.ServerID) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// SendTo queues a proxy message for one connected server.
func (h *Hub) SendTo(id server.ServerID, m protocol.AtlasMessage) error {
	sess, ok := h.Session(id)
	if !ok {
		return fmt.Errorf("hub: server %s not connected", id)
	}
	return sess.Send(m)
}

// Broadcast queues a proxy message for every connected server.
func (h *Hub) Broadcast(m protocol.AtlasMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sess := range h.sessions {
		if err := sess.Send(m); err != nil {
			h.log.Warn().Stringer("server", sess.ServerID).Err(err).Msg("broadcast dropped")
		}
	}
}

// Connected returns the number of live sessions.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := h.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		sess.cancel = cancel
		defer cancel()

		h.mu.Lock()
		if prev, ok := h.sessions[sess.ServerID]; ok && prev.cancel != nil {
			prev.cancel() // one connection per server; the newer one wins
		}
		h.sessions[sess.ServerID] = sess
		h.mu.Unlock()

		h.log.Info().Stringer("server", sess.ServerID).Str("name", sess.Name).Msg("server connected")

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			env, err := protocol.DecodeEnvelope(raw)
			if err != nil {
				h.log.Warn().Stringer("server", sess.ServerID).Err(err).Msg("bad envelope")
				continue
			}
			msg, err := protocol.DecodeRegionMessage(env.Message)
			if err != nil {
				// Unknown or malformed message: fail loudly back to the
				// sender instead of guessing.
				sess.sendAck(env.ID, err)
				continue
			}
			sess.sendAck(env.ID, h.handler.HandleMessage(sess, env, msg))
		}

		h.mu.Lock()
		if h.sessions[sess.ServerID] == sess {
			delete(h.sessions, sess.ServerID)
		}
		h.mu.Unlock()
		h.handler.HandleDisconnect(sess)
		h.log.Info().Stringer("server", sess.ServerID).Msg("server disconnected")
	}
}

// handshake reads the Register envelope and answers with the registration
// response. Any other first message closes the connection.
func (h *Hub) handshake(conn *websocket.Conn) *Session {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		closePolicy(conn, "expected Register envelope")
		return nil
	}
	typ, err := protocol.PeekType(env.Message)
	if err != nil || typ != protocol.TypeRegister {
		closePolicy(conn, "expected Register")
		return nil
	}
	msg, err := protocol.DecodeRegionMessage(env.Message)
	if err != nil {
		closePolicy(conn, "bad Register payload")
		return nil
	}
	reg := msg.(protocol.RegisterMsg).ServerRegistration

	sess := &Session{
		ServerID: reg.Server.ID,
		Name:     reg.Server.Name,
		out:      make(chan []byte, sessionQueueDepth),
	}

	resp, err := h.handler.HandleRegister(sess, reg)
	if err != nil {
		resp = server.RegistrationResponse{
			Success:  false,
			ServerID: reg.Server.ID,
			Message:  err.Error(),
		}
	}
	body, encErr := protocol.EncodeAtlasMessage(protocol.RegistrationResponseMsg{RegistrationResponse: resp})
	if encErr != nil {
		return nil
	}
	respEnv := protocol.NewEnvelope("atlas", reg.Server.ID.String(), body)
	b, encErr := envelopeBytes(respEnv)
	if encErr != nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil
	}
	if !resp.Success {
		closePolicy(conn, "registration rejected")
		return nil
	}
	return sess
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}
