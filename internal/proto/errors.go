package proto

import (
	"errors"
	"fmt"
)

// Kind classifies driver errors by the recovery action they demand.
type Kind uint8

const (
	// KindBackpressureFull: the submission queue rejected the request.
	// Recoverable; the caller retries or queues elsewhere.
	KindBackpressureFull Kind = iota + 1
	// KindStreamExhausted: no free stream id on the connection.
	// Recoverable; same policy as a full queue.
	KindStreamExhausted
	// KindSocketError: I/O failure. Forces connection close; every
	// pending request is failed.
	KindSocketError
	// KindHandshakeError: transport-encryption negotiation failure.
	// Forces close, distinguishable from plain socket trouble.
	KindHandshakeError
	// KindProtocolError: malformed frame or a response referencing an
	// unoccupied stream id. Forces close; never a silent no-op.
	KindProtocolError
	// KindServerError: a well-formed ERROR response. Resolves the one
	// pending request it references; the connection stays open.
	KindServerError
	// KindConnectionClosed: the connection went away while the request
	// was in flight.
	KindConnectionClosed
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindBackpressureFull:
		return "BACKPRESSURE_FULL"
	case KindStreamExhausted:
		return "STREAM_EXHAUSTED"
	case KindSocketError:
		return "SOCKET_ERROR"
	case KindHandshakeError:
		return "HANDSHAKE_ERROR"
	case KindProtocolError:
		return "PROTOCOL_ERROR"
	case KindServerError:
		return "SERVER_ERROR"
	case KindConnectionClosed:
		return "CONNECTION_CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_KIND_%d", uint8(k))
	}
}

// Error is the driver's error type. It implements the standard Go error
// interface.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error // Optional underlying cause
	Code  int32 // Server error code, set only for KindServerError
}

// Error returns a string representation of the error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind.String(), e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Msg)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// NewErrorWithCause creates a new Error with an underlying cause.
func NewErrorWithCause(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// NewServerError creates a KindServerError carrying the server's error
// code and message.
func NewServerError(code int32, msg string) *Error {
	return &Error{Kind: KindServerError, Msg: msg, Code: code}
}

// IsKind reports whether err is (or wraps) a driver Error of kind k.
func IsKind(err error, k Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == k
	}
	return false
}
