package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/protocol"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

func envelopeBytes(env protocol.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Client is the region server's side of the mesh connection: one dial, one
// Register handshake, then a stream of request/ack exchanges and pushed
// proxy messages.
type Client struct {
	conn   *websocket.Conn
	log    zerolog.Logger
	source string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Ack

	msgs chan protocol.AtlasMessage
	done chan struct{}
	once sync.Once
}

// Dial connects to the proxy and registers. The registration response comes
// back before any other traffic; a rejected registration is returned as an
// error alongside the response detail.
func Dial(ctx context.Context, url string, reg server.ServerRegistration, log zerolog.Logger) (*Client, server.RegistrationResponse, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, server.RegistrationResponse{}, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		log:     log,
		source:  reg.Server.ID.String(),
		pending: make(map[string]chan protocol.Ack),
		msgs:    make(chan protocol.AtlasMessage, sessionQueueDepth),
		done:    make(chan struct{}),
	}

	body, err := protocol.EncodeRegionMessage(protocol.RegisterMsg{ServerRegistration: reg})
	if err != nil {
		_ = conn.Close()
		return nil, server.RegistrationResponse{}, err
	}
	if err := c.writeEnvelope(protocol.NewEnvelope(c.source, "atlas", body)); err != nil {
		_ = conn.Close()
		return nil, server.RegistrationResponse{}, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, server.RegistrationResponse{}, fmt.Errorf("registration response: %w", err)
	}
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		_ = conn.Close()
		return nil, server.RegistrationResponse{}, err
	}
	msg, err := protocol.DecodeAtlasMessage(env.Message)
	if err != nil {
		_ = conn.Close()
		return nil, server.RegistrationResponse{}, err
	}
	respMsg, ok := msg.(protocol.RegistrationResponseMsg)
	if !ok {
		_ = conn.Close()
		return nil, server.RegistrationResponse{}, fmt.Errorf("expected RegistrationResponse, got %T", msg)
	}
	resp := respMsg.RegistrationResponse
	if !resp.Success {
		_ = conn.Close()
		return nil, resp, fmt.Errorf("registration rejected: %s", resp.Message)
	}

	go c.readLoop()
	return c, resp, nil
}

// Messages delivers proxy-initiated messages (transfers, shutdown orders,
// adjacency updates). The channel closes when the connection dies.
func (c *Client) Messages() <-chan protocol.AtlasMessage {
	return c.msgs
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send delivers one message and waits for the proxy's ack. A failure ack
// becomes an error; the caller owns any retry decision.
func (c *Client) Send(ctx context.Context, m protocol.RegionMessage) error {
	body, err := protocol.EncodeRegionMessage(m)
	if err != nil {
		return err
	}
	env := protocol.NewEnvelope(c.source, "atlas", body)

	ackCh := make(chan protocol.Ack, 1)
	c.mu.Lock()
	c.pending[env.ID] = ackCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if err := c.writeEnvelope(env); err != nil {
		return err
	}

	select {
	case ack := <-ackCh:
		if !ack.Success {
			return fmt.Errorf("rejected: %s", ack.Error)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeEnvelope(env protocol.Envelope) error {
	b, err := envelopeBytes(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop() {
	defer func() {
		c.Close()
		close(c.msgs)
	}()
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad envelope from proxy")
			continue
		}
		typ, err := protocol.PeekType(env.Message)
		if err != nil {
			continue
		}
		if typ == protocol.TypeAck {
			ack, err := protocol.DecodeAck(env.Message)
			if err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[ack.MessageID]
			c.mu.Unlock()
			if ok {
				ch <- ack
			}
			continue
		}
		msg, err := protocol.DecodeAtlasMessage(env.Message)
		if err != nil {
			c.log.Warn().Str("type", typ).Err(err).Msg("unknown proxy message")
			continue
		}
		select {
		case c.msgs <- msg:
		default:
			c.log.Warn().Str("type", typ).Msg("proxy message dropped, queue full")
		}
	}
}
