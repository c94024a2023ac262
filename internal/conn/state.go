package conn

import (
	"fmt"

	"example.com/cqlwire/internal/proto"
)

// State is a connection's position in the session-establishment
// sequence. StateDisconnected is terminal.
type State uint8

const (
	// StateNew: created, socket not yet connected.
	StateNew State = iota
	// StateConnected: socket up; encryption handshake starts here if
	// enabled, otherwise capability exchange begins immediately.
	StateConnected
	// StateHandshakeNegotiating: transport-encryption bytes in flight.
	StateHandshakeNegotiating
	// StateOptionsSent: capability query sent, awaiting SUPPORTED.
	StateOptionsSent
	// StateStartupSent: STARTUP sent, awaiting READY.
	StateStartupSent
	// StateReady: session usable for application requests.
	StateReady
	// StateDisconnecting: close requested, socket shutting down.
	StateDisconnecting
	// StateDisconnected: terminal; all pending requests resolved.
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnected:
		return "CONNECTED"
	case StateHandshakeNegotiating:
		return "HANDSHAKE_NEGOTIATING"
	case StateOptionsSent:
		return "OPTIONS_SENT"
	case StateStartupSent:
		return "STARTUP_SENT"
	case StateReady:
		return "READY"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN_STATE_%d", uint8(s))
	}
}

// stateEvent is an occurrence that may advance the state machine.
type stateEvent uint8

const (
	eventSocketUp stateEvent = iota
	eventHandshakeStarted
	eventHandshakeDone
	eventSupportedReceived
	eventReadyReceived
	eventCloseRequested
	eventSocketClosed
)

func (e stateEvent) String() string {
	switch e {
	case eventSocketUp:
		return "socket_up"
	case eventHandshakeStarted:
		return "handshake_started"
	case eventHandshakeDone:
		return "handshake_done"
	case eventSupportedReceived:
		return "supported_received"
	case eventReadyReceived:
		return "ready_received"
	case eventCloseRequested:
		return "close_requested"
	case eventSocketClosed:
		return "socket_closed"
	default:
		return fmt.Sprintf("unknown_event_%d", uint8(e))
	}
}

// transitions is the whole legal state machine. Anything absent here is
// an illegal transition and surfaces as a protocol error instead of a
// runtime assertion.
var transitions = map[State]map[stateEvent]State{
	StateNew: {
		eventSocketUp:       StateConnected,
		eventCloseRequested: StateDisconnecting,
	},
	StateConnected: {
		eventHandshakeStarted: StateHandshakeNegotiating,
		eventHandshakeDone:    StateOptionsSent,
		eventCloseRequested:   StateDisconnecting,
	},
	StateHandshakeNegotiating: {
		eventHandshakeDone:  StateOptionsSent,
		eventCloseRequested: StateDisconnecting,
	},
	StateOptionsSent: {
		eventSupportedReceived: StateStartupSent,
		eventCloseRequested:    StateDisconnecting,
	},
	StateStartupSent: {
		eventReadyReceived:  StateReady,
		eventCloseRequested: StateDisconnecting,
	},
	StateReady: {
		eventCloseRequested: StateDisconnecting,
	},
	StateDisconnecting: {
		eventSocketClosed: StateDisconnected,
		// A second close request while the socket drains is a no-op at
		// the caller, not a fault; it never reaches this table.
	},
	StateDisconnected: {},
}

// nextState resolves the transition for (from, ev).
func nextState(from State, ev stateEvent) (State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, proto.NewError(proto.KindProtocolError,
		fmt.Sprintf("illegal transition: event %s in state %s", ev, from))
}
