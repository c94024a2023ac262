package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderLen is the length of the fixed frame header:
	// version (1), flags (1), stream (1, signed), opcode (1), body length (4).
	HeaderLen = 8

	// VersionRequest and VersionResponse are the version octets for the
	// two frame directions. The high bit marks a response.
	VersionRequest  uint8 = 0x02
	VersionResponse uint8 = 0x82

	// DefaultMaxBodyLength bounds the declared body length the assembler
	// will accept before declaring the stream corrupt.
	DefaultMaxBodyLength uint32 = 256 << 20 // 256 MB, protocol ceiling

	// FlagCompressed marks a frame whose body is compressed with the
	// negotiated algorithm. Body codecs are out of scope here; the flag
	// is carried opaquely.
	FlagCompressed uint8 = 0x01
)

// FrameHeader is the fixed 8-octet header common to all frames.
//
// Stream is signed: ids 0..127 identify in-flight client requests,
// negative ids denote server-initiated events.
type FrameHeader struct {
	Version uint8
	Flags   uint8
	Stream  int8
	Opcode  Opcode
	Length  uint32

	raw [HeaderLen]byte // For reserialization when the payload is opaque
}

// ReadFrameHeader reads a frame header from r.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var fh FrameHeader
	if _, err := io.ReadFull(r, fh.raw[:]); err != nil {
		return FrameHeader{}, err
	}
	if err := fh.decode(); err != nil {
		return FrameHeader{}, err
	}
	return fh, nil
}

// decode populates the header fields from raw.
func (fh *FrameHeader) decode() error {
	fh.Version = fh.raw[0]
	fh.Flags = fh.raw[1]
	fh.Stream = int8(fh.raw[2])
	fh.Opcode = Opcode(fh.raw[3])
	fh.Length = binary.BigEndian.Uint32(fh.raw[4:8])

	if !fh.Opcode.valid() {
		return NewError(KindProtocolError, fmt.Sprintf("invalid opcode 0x%02X in frame header", fh.raw[3]))
	}
	return nil
}

// AppendTo serializes the frame header onto b and returns the extended
// slice.
func (fh *FrameHeader) AppendTo(b []byte) []byte {
	fh.raw[0] = fh.Version
	fh.raw[1] = fh.Flags
	fh.raw[2] = byte(fh.Stream)
	fh.raw[3] = byte(fh.Opcode)
	binary.BigEndian.PutUint32(fh.raw[4:8], fh.Length)
	return append(b, fh.raw[:]...)
}

// Frame is one complete length-delimited protocol message.
type Frame struct {
	FrameHeader
	Body []byte
}

// EncodeFrame builds the wire bytes of a request frame.
func EncodeFrame(stream int8, opcode Opcode, body []byte) []byte {
	fh := FrameHeader{
		Version: VersionRequest,
		Stream:  stream,
		Opcode:  opcode,
		Length:  uint32(len(body)),
	}
	out := fh.AppendTo(make([]byte, 0, HeaderLen+len(body)))
	return append(out, body...)
}
