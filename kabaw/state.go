package kabaw

import "time"

// ConnectionState represents the current state of the chat connection.
type ConnectionState int

const (
	// StateDisconnected means no transport is held. It is the initial state
	// and the state reached after any close or explicit disconnect.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a transport is being opened.
	StateConnecting

	// StateConnected means the transport is open and frames flow both ways.
	StateConnected
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Error surfaced by the transition, if any
}

// ReconnectEvent is emitted when an automatic reconnect has been scheduled.
type ReconnectEvent struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}
