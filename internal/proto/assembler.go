package proto

import "fmt"

// Assembler turns a raw byte stream into complete frames. It tolerates
// arbitrary chunking of the input, down to a single byte at a time, and
// keeps at most one in-progress frame; after each completed frame it is
// restartable with no cross-frame state beyond the partial buffer.
//
// Not safe for concurrent use; owned by exactly one connection.
type Assembler struct {
	maxBodyLength uint32

	headerFilled int
	header       FrameHeader
	haveHeader   bool

	body       []byte
	bodyFilled int
}

// NewAssembler creates an Assembler. maxBodyLength of 0 selects
// DefaultMaxBodyLength.
func NewAssembler(maxBodyLength uint32) *Assembler {
	if maxBodyLength == 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	return &Assembler{maxBodyLength: maxBodyLength}
}

// Feed consumes p and returns every frame completed by it, in arrival
// order. A returned error is a protocol error: the stream is corrupt
// and the connection must be closed.
func (a *Assembler) Feed(p []byte) ([]*Frame, error) {
	var frames []*Frame

	for len(p) > 0 {
		if !a.haveHeader {
			n := copy(a.header.raw[a.headerFilled:], p)
			a.headerFilled += n
			p = p[n:]
			if a.headerFilled < HeaderLen {
				return frames, nil
			}
			if err := a.header.decode(); err != nil {
				return frames, err
			}
			if a.header.Length > a.maxBodyLength {
				return frames, NewError(KindProtocolError,
					fmt.Sprintf("frame body length %d exceeds limit %d", a.header.Length, a.maxBodyLength))
			}
			a.haveHeader = true
			a.body = make([]byte, a.header.Length)
			a.bodyFilled = 0
		}

		n := copy(a.body[a.bodyFilled:], p)
		a.bodyFilled += n
		p = p[n:]
		if uint32(a.bodyFilled) < a.header.Length {
			return frames, nil
		}

		frames = append(frames, &Frame{FrameHeader: a.header, Body: a.body})
		a.reset()
	}
	return frames, nil
}

// reset prepares the assembler for the next frame.
func (a *Assembler) reset() {
	a.headerFilled = 0
	a.haveHeader = false
	a.body = nil
	a.bodyFilled = 0
}
