// Package protocol defines the versioned messages exchanged between the
// three mesh services: region servers, the atlas proxy, and maestro. Every
// message is one variant of a closed, explicitly tagged family; an unknown
// tag is a decode error, never a silently dropped or misread payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version of the mesh protocol.
const Version = "1.0"

// taggedWire is the common `{"type": ..., "payload": ...}` frame every
// family variant and the Ack use.
type taggedWire struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeTagged(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(taggedWire{Type: typ, Payload: raw})
}

func decodeTagged(b []byte) (taggedWire, error) {
	var w taggedWire
	if err := json.Unmarshal(b, &w); err != nil {
		return taggedWire{}, err
	}
	if w.Type == "" {
		return taggedWire{}, fmt.Errorf("message without type tag")
	}
	return w, nil
}

// PeekType extracts the type tag without decoding the payload, for routing.
func PeekType(b []byte) (string, error) {
	w, err := decodeTagged(b)
	if err != nil {
		return "", err
	}
	return w.Type, nil
}

func decodePayload(w taggedWire, out any) error {
	if err := json.Unmarshal(w.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Type, err)
	}
	return nil
}
