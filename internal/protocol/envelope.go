package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every inter-service message with identity, timing, and
// logical routing. Envelopes are owned transiently by the transport layer
// and never persisted.
type Envelope struct {
	ID          string          `json:"id"`
	TimestampMs int64           `json:"timestamp_ms"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Message     json.RawMessage `json:"message"`
}

// NewEnvelope wraps an already-encoded family message with a fresh id and
// a millisecond send timestamp.
func NewEnvelope(source, destination string, message json.RawMessage) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		TimestampMs: time.Now().UnixMilli(),
		Source:      source,
		Destination: destination,
		Message:     message,
	}
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope without id")
	}
	if e.Source == "" || e.Destination == "" {
		return fmt.Errorf("envelope %s: missing source or destination", e.ID)
	}
	if len(e.Message) == 0 {
		return fmt.Errorf("envelope %s: empty message", e.ID)
	}
	return nil
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// TypeAck tags acknowledgment frames.
const TypeAck = "Ack"

// Ack answers one request-style envelope, correlated by that envelope's
// id. Failures carry a human-readable message. This layer never retries;
// retry policy belongs to the transport's caller.
type Ack struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func AckSuccess(messageID string) Ack {
	return Ack{MessageID: messageID, Success: true}
}

func AckFailure(messageID, errMsg string) Ack {
	return Ack{MessageID: messageID, Success: false, Error: errMsg}
}

func EncodeAck(a Ack) ([]byte, error) {
	return encodeTagged(TypeAck, a)
}

func DecodeAck(b []byte) (Ack, error) {
	w, err := decodeTagged(b)
	if err != nil {
		return Ack{}, err
	}
	if w.Type != TypeAck {
		return Ack{}, fmt.Errorf("expected %s, got %s", TypeAck, w.Type)
	}
	var a Ack
	if err := decodePayload(w, &a); err != nil {
		return Ack{}, err
	}
	if a.MessageID == "" {
		return Ack{}, fmt.Errorf("ack without message id")
	}
	return a, nil
}
