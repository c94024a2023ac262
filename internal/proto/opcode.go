package proto

import "fmt"

// Opcode identifies the kind of message carried by a frame.
type Opcode uint8

// Protocol opcodes. Responses from the server reuse the same values.
const (
	// OpcodeError carries a server-reported error for a specific stream.
	OpcodeError Opcode = 0x00
	// OpcodeStartup initializes a session after capability negotiation.
	OpcodeStartup Opcode = 0x01
	// OpcodeReady acknowledges a STARTUP; the session is usable.
	OpcodeReady Opcode = 0x02
	// OpcodeAuthenticate asks the client to authenticate before READY.
	OpcodeAuthenticate Opcode = 0x03
	// OpcodeOptions queries the server's supported capabilities.
	OpcodeOptions Opcode = 0x05
	// OpcodeSupported answers an OPTIONS request.
	OpcodeSupported Opcode = 0x06
	// OpcodeQuery executes a query statement.
	OpcodeQuery Opcode = 0x07
	// OpcodeResult carries the outcome of a QUERY, PREPARE or EXECUTE.
	OpcodeResult Opcode = 0x08
	// OpcodePrepare prepares a statement for later execution.
	OpcodePrepare Opcode = 0x09
	// OpcodeExecute executes a previously prepared statement.
	OpcodeExecute Opcode = 0x0A
	// OpcodeRegister subscribes to server-initiated events.
	OpcodeRegister Opcode = 0x0B
	// OpcodeEvent is a server-initiated event, delivered on a reserved stream.
	OpcodeEvent Opcode = 0x0C
)

// String returns the protocol name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpcodeError:
		return "ERROR"
	case OpcodeStartup:
		return "STARTUP"
	case OpcodeReady:
		return "READY"
	case OpcodeAuthenticate:
		return "AUTHENTICATE"
	case OpcodeOptions:
		return "OPTIONS"
	case OpcodeSupported:
		return "SUPPORTED"
	case OpcodeQuery:
		return "QUERY"
	case OpcodeResult:
		return "RESULT"
	case OpcodePrepare:
		return "PREPARE"
	case OpcodeExecute:
		return "EXECUTE"
	case OpcodeRegister:
		return "REGISTER"
	case OpcodeEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("UNKNOWN_OPCODE_0x%02X", uint8(o))
	}
}

// valid reports whether o is a known opcode.
func (o Opcode) valid() bool {
	switch o {
	case OpcodeError, OpcodeStartup, OpcodeReady, OpcodeAuthenticate,
		OpcodeOptions, OpcodeSupported, OpcodeQuery, OpcodeResult,
		OpcodePrepare, OpcodeExecute, OpcodeRegister, OpcodeEvent:
		return true
	}
	return false
}

// Result kinds carried in the first four octets of a RESULT body.
const (
	// ResultKindVoid is a result with nothing to report.
	ResultKindVoid int32 = 0x0001
	// ResultKindRows is a row set.
	ResultKindRows int32 = 0x0002
	// ResultKindSetKeyspace confirms a keyspace switch ("USE ...").
	ResultKindSetKeyspace int32 = 0x0003
	// ResultKindPrepared is the outcome of a PREPARE.
	ResultKindPrepared int32 = 0x0004
	// ResultKindSchemaChange reports a schema alteration.
	ResultKindSchemaChange int32 = 0x0005
)
