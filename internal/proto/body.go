package proto

import (
	"encoding/binary"
	"fmt"
)

// Body helpers for the handful of driver-internal frames this layer
// builds and inspects itself (STARTUP, OPTIONS, ERROR, the RESULT kind
// prefix and the "USE keyspace" query). Application message bodies are
// opaque to the connection core.

// AppendString appends a [short string]: 2-octet length plus bytes.
func AppendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// AppendLongString appends a [long string]: 4-octet length plus bytes.
func AppendLongString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// AppendStringMap appends a [string map]: 2-octet pair count followed by
// key/value short strings. Iteration order follows keys as given.
func AppendStringMap(b []byte, keys []string, values map[string]string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(keys)))
	for _, k := range keys {
		b = AppendString(b, k)
		b = AppendString(b, values[k])
	}
	return b
}

// ReadString reads a [short string], returning the string and the number
// of bytes consumed.
func ReadString(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, NewError(KindProtocolError, "truncated string length")
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return "", 0, NewError(KindProtocolError, "truncated string body")
	}
	return string(b[2 : 2+n]), 2 + n, nil
}

// ParseErrorBody parses an ERROR body: 4-octet code plus [string] message.
func ParseErrorBody(body []byte) (code int32, msg string, err error) {
	if len(body) < 4 {
		return 0, "", NewError(KindProtocolError, "ERROR body shorter than error code")
	}
	code = int32(binary.BigEndian.Uint32(body))
	msg, _, err = ReadString(body[4:])
	if err != nil {
		return 0, "", err
	}
	return code, msg, nil
}

// ParseResultKind reads the 4-octet kind prefix of a RESULT body.
func ParseResultKind(body []byte) (int32, error) {
	if len(body) < 4 {
		return 0, NewError(KindProtocolError, "RESULT body shorter than result kind")
	}
	return int32(binary.BigEndian.Uint32(body)), nil
}

// ParseSetKeyspace extracts the keyspace name from a SET_KEYSPACE result
// body (kind prefix followed by [string]).
func ParseSetKeyspace(body []byte) (string, error) {
	kind, err := ParseResultKind(body)
	if err != nil {
		return "", err
	}
	if kind != ResultKindSetKeyspace {
		return "", NewError(KindProtocolError, fmt.Sprintf("result kind %d is not SET_KEYSPACE", kind))
	}
	ks, _, err := ReadString(body[4:])
	return ks, err
}

// EncodeQueryBody builds a QUERY body for driver-internal statements:
// [long string] statement, consistency ONE, empty flags.
func EncodeQueryBody(statement string) []byte {
	b := AppendLongString(nil, statement)
	b = binary.BigEndian.AppendUint16(b, 0x0001) // consistency ONE
	return append(b, 0x00)
}
