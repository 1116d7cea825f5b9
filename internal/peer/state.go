// Package peer implements the client-side connection manager: it registers
// an identifier with the signaling relay, and given a remote peer's join
// code drives a bounded-time WebRTC handshake to a direct data channel.
//
// All state transitions happen on a single event loop; transport reads and
// pion callbacks only post typed events into it. That keeps the state
// machine's ordering guarantees independent of callback scheduling.
package peer

import "errors"

// State is the manager's lifecycle state. The UI's "initialized" and
// "connected" booleans are projections of this.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotInitialized is returned by Connect before registration completed.
	ErrNotInitialized = errors.New("peer: manager is not initialized")

	// ErrEmptyRemoteID is returned by Connect for a blank join code.
	ErrEmptyRemoteID = errors.New("peer: remote identifier is empty")

	// ErrAttemptInProgress is returned by Connect while a prior attempt is
	// still outstanding. The caller must wait for its terminal result.
	ErrAttemptInProgress = errors.New("peer: a connect attempt is already in progress")

	// ErrIdentifierConflict reports that the requested identifier was already
	// claimed at the relay.
	ErrIdentifierConflict = errors.New("peer: identifier already registered at relay")

	// ErrPeerUnreachable reports that the remote identifier has no live
	// registration at the relay.
	ErrPeerUnreachable = errors.New("peer: remote peer is unreachable")

	// ErrHandshakeTimeout reports that the bounded wait elapsed before the
	// direct channel opened.
	ErrHandshakeTimeout = errors.New("peer: handshake timed out")

	// ErrHandshakeRejected reports a remote-side negotiation failure.
	ErrHandshakeRejected = errors.New("peer: handshake rejected")

	// ErrSignalingClosed reports that the relay connection dropped.
	ErrSignalingClosed = errors.New("peer: signaling connection closed")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("peer: manager closed")
)

// StateChange is emitted on the manager's Events channel whenever the state
// machine transitions. Err is set on transitions caused by a failure.
type StateChange struct {
	From State
	To   State
	Err  error
}
