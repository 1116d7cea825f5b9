// Package signal defines the wire protocol spoken between the relay and its
// clients over the signaling WebSocket.
//
// The relay forwards offer/answer/candidate payloads verbatim; only this
// package's envelope is interpreted on the server side. Both the server's
// route registration and the client's dialer take the endpoint path from
// DefaultMountPath so the two sides cannot drift apart.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMountPath is the canonical relay endpoint. The relay is mounted
// under a dedicated sub-path (not the service root) so the same HTTP server
// can also serve the canvas UI and operational endpoints.
const DefaultMountPath = "/signal"

// MessageType tags a signaling envelope.
type MessageType string

const (
	// TypeRegister is the first message a client sends after connecting.
	TypeRegister MessageType = "register"
	// TypeRegistered is the relay's reply carrying the assigned identifier.
	TypeRegistered MessageType = "registered"
	// TypeOffer, TypeAnswer and TypeCandidate are forwarded verbatim to the
	// destination peer.
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	// TypePeers requests (client -> relay) or carries (relay -> client) the
	// discovery listing of currently registered identifiers.
	TypePeers MessageType = "peers"
	// TypeError reports a per-message failure back to the sender.
	TypeError MessageType = "error"
)

// ErrorCode identifies a signaling failure in a machine-readable way.
type ErrorCode string

const (
	CodeIdentifierConflict ErrorCode = "identifier_conflict"
	CodePeerUnreachable    ErrorCode = "peer_unreachable"
	CodeNotRegistered      ErrorCode = "not_registered"
	CodeInvalidMessage     ErrorCode = "invalid_message"
	CodeHandshakeRejected  ErrorCode = "handshake_rejected"
	CodeDiscoveryDisabled  ErrorCode = "discovery_disabled"
)

// Message is the envelope for all signaling traffic.
//
// From and To carry peer identifiers. Payload is opaque to the relay; the
// forwarded types (offer/answer/candidate) carry pion session descriptions
// and ICE candidates, but the relay never decodes them.
type Message struct {
	Type    MessageType     `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error fields, set only when Type == TypeError.
	Code   ErrorCode `json:"code,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// RegisterPayload is the payload of a TypeRegister message. ID is optional;
// when empty the relay assigns a fresh join code.
type RegisterPayload struct {
	ID string `json:"id,omitempty"`
}

// RegisteredPayload is the payload of a TypeRegistered message.
type RegisteredPayload struct {
	ID string `json:"id"`
}

// PeersPayload is the payload of a relay -> client TypePeers message.
// It carries identifier strings only.
type PeersPayload struct {
	Peers []string `json:"peers"`
}

var errEmptyType = errors.New("signal: empty message type")

// Parse decodes an envelope and validates the parts the relay depends on.
// Payload contents are not inspected.
func Parse(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("signal: decode envelope: %w", err)
	}
	if m.Type == "" {
		return Message{}, errEmptyType
	}
	switch m.Type {
	case TypeRegister, TypeRegistered, TypeOffer, TypeAnswer, TypeCandidate, TypePeers, TypeError:
	default:
		return Message{}, fmt.Errorf("signal: unknown message type %q", m.Type)
	}
	return m, nil
}

// IsForward reports whether the message is one the relay forwards verbatim
// to its destination. Errors are forwardable too: a peer that declines a
// handshake reports that through the same channel.
func (m Message) IsForward() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	case TypeError:
		return m.To != "" && m.From != ""
	}
	return false
}

// Encode marshals the envelope for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// MustPayload marshals v into a RawMessage. It panics only on types that
// cannot be marshaled, which is a programming error for the payload structs
// in this package.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("signal: marshal payload: %v", err))
	}
	return b
}

// ErrorMessage builds a TypeError envelope addressed to a peer.
func ErrorMessage(to string, code ErrorCode, reason string) Message {
	return Message{Type: TypeError, To: to, Code: code, Reason: reason}
}
