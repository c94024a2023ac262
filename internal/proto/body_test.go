package proto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	b := AppendString(nil, "hello")
	s, n, err := ReadString(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, len(b), n)
}

func TestReadStringTruncated(t *testing.T) {
	t.Parallel()

	_, _, err := ReadString([]byte{0x00})
	assert.True(t, IsKind(err, KindProtocolError))

	_, _, err = ReadString([]byte{0x00, 0x05, 'a', 'b'})
	assert.True(t, IsKind(err, KindProtocolError))
}

func TestAppendStringMap(t *testing.T) {
	t.Parallel()

	keys := []string{"CQL_VERSION", "COMPRESSION"}
	values := map[string]string{"CQL_VERSION": "3.0.0", "COMPRESSION": "lz4"}
	b := AppendStringMap(nil, keys, values)

	require.GreaterOrEqual(t, len(b), 2)
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(b))

	rest := b[2:]
	for _, want := range []string{"CQL_VERSION", "3.0.0", "COMPRESSION", "lz4"} {
		s, n, err := ReadString(rest)
		require.NoError(t, err)
		assert.Equal(t, want, s)
		rest = rest[n:]
	}
	assert.Empty(t, rest)
}

func TestParseErrorBody(t *testing.T) {
	t.Parallel()

	body := binary.BigEndian.AppendUint32(nil, 0x1001)
	body = AppendString(body, "overloaded")

	code, msg, err := ParseErrorBody(body)
	require.NoError(t, err)
	assert.Equal(t, int32(0x1001), code)
	assert.Equal(t, "overloaded", msg)
}

func TestParseErrorBodyTruncated(t *testing.T) {
	t.Parallel()

	_, _, err := ParseErrorBody([]byte{0x00, 0x00})
	assert.True(t, IsKind(err, KindProtocolError))

	_, _, err = ParseErrorBody([]byte{0x00, 0x00, 0x10, 0x01, 0x00})
	assert.True(t, IsKind(err, KindProtocolError))
}

func TestParseResultKind(t *testing.T) {
	t.Parallel()

	body := binary.BigEndian.AppendUint32(nil, uint32(ResultKindRows))
	kind, err := ParseResultKind(body)
	require.NoError(t, err)
	assert.Equal(t, ResultKindRows, kind)

	_, err = ParseResultKind([]byte{0x00})
	assert.True(t, IsKind(err, KindProtocolError))
}

func TestParseSetKeyspace(t *testing.T) {
	t.Parallel()

	body := binary.BigEndian.AppendUint32(nil, uint32(ResultKindSetKeyspace))
	body = AppendString(body, "system")

	ks, err := ParseSetKeyspace(body)
	require.NoError(t, err)
	assert.Equal(t, "system", ks)
}

func TestParseSetKeyspaceWrongKind(t *testing.T) {
	t.Parallel()

	body := binary.BigEndian.AppendUint32(nil, uint32(ResultKindVoid))
	_, err := ParseSetKeyspace(body)
	assert.True(t, IsKind(err, KindProtocolError))
}

func TestEncodeQueryBody(t *testing.T) {
	t.Parallel()

	body := EncodeQueryBody("USE system")
	require.Len(t, body, 4+len("USE system")+2+1)

	assert.Equal(t, uint32(len("USE system")), binary.BigEndian.Uint32(body))
	assert.Equal(t, "USE system", string(body[4:4+len("USE system")]))
	assert.Equal(t, uint16(0x0001), binary.BigEndian.Uint16(body[len(body)-3:]))
	assert.Equal(t, byte(0x00), body[len(body)-1])
}
