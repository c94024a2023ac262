package conn

import (
	"fmt"
	"time"

	"example.com/cqlwire/internal/proto"
)

// StreamCapacity is the number of usable stream ids per connection.
// Ids live in the non-negative half of a signed octet; negative ids are
// reserved for server-initiated events and never allocated.
const StreamCapacity = 128

// RequestCallback carries a request through submission and completion.
// EncodeFrame is called on the owning worker once a stream id has been
// assigned; at most one of OnResult or OnError is called later, also on
// the owning worker. A request answered by a SET_KEYSPACE result is the
// one exception: its confirmation is delivered through the keyspace
// side channel and neither method fires.
type RequestCallback interface {
	EncodeFrame(stream int8) ([]byte, error)
	OnResult(f *proto.Frame)
	OnError(err error)
}

// PendingRequest is one in-flight request occupying a stream id.
type PendingRequest struct {
	// Callback resolves the request. Nil for driver-internal requests
	// whose outcome is delivered through a side channel.
	Callback RequestCallback
	// Stream is the assigned id.
	Stream int8
	// SubmittedAt is recorded for stuck-request detection by an
	// external watchdog; this layer applies no timeout itself.
	SubmittedAt time.Time
}

// StreamAllocator maps stream ids to pending requests. It is owned by
// exactly one connection and must only be touched from the owning
// worker; it needs no locks because of that pinning.
type StreamAllocator struct {
	slots    [StreamCapacity]*PendingRequest
	occupied int
}

// NewStreamAllocator creates an empty allocator.
func NewStreamAllocator() *StreamAllocator {
	return &StreamAllocator{}
}

// Acquire stores p in the lowest free slot and returns its id. The
// lowest-free policy keeps allocation deterministic for testing.
// Returns KindStreamExhausted when every slot is occupied; that is a
// backpressure signal, not a connection fault.
func (s *StreamAllocator) Acquire(p *PendingRequest) (int8, error) {
	if s.occupied == StreamCapacity {
		return -1, proto.NewError(proto.KindStreamExhausted,
			fmt.Sprintf("all %d stream ids in use", StreamCapacity))
	}
	for id := 0; id < StreamCapacity; id++ {
		if s.slots[id] == nil {
			p.Stream = int8(id)
			s.slots[id] = p
			s.occupied++
			return int8(id), nil
		}
	}
	// occupied count said a slot was free
	return -1, proto.NewError(proto.KindProtocolError, "stream allocator accounting mismatch")
}

// Release removes and returns the occupant of id. An id that is out of
// range or vacant is a protocol error: the server answered a request
// nobody sent.
func (s *StreamAllocator) Release(id int8) (*PendingRequest, error) {
	if id < 0 {
		return nil, proto.NewError(proto.KindProtocolError,
			fmt.Sprintf("stream id %d is reserved for server events", id))
	}
	p := s.slots[id]
	if p == nil {
		return nil, proto.NewError(proto.KindProtocolError,
			fmt.Sprintf("no pending request occupies stream id %d", id))
	}
	s.slots[id] = nil
	s.occupied--
	return p, nil
}

// DrainAll removes and returns every pending request, lowest id first.
// Used on teardown to fail each outstanding request exactly once.
func (s *StreamAllocator) DrainAll() []*PendingRequest {
	if s.occupied == 0 {
		return nil
	}
	drained := make([]*PendingRequest, 0, s.occupied)
	for id := range s.slots {
		if p := s.slots[id]; p != nil {
			drained = append(drained, p)
			s.slots[id] = nil
		}
	}
	s.occupied = 0
	return drained
}

// Available returns the number of free stream ids.
func (s *StreamAllocator) Available() int {
	return StreamCapacity - s.occupied
}

// Occupied returns the number of in-flight requests.
func (s *StreamAllocator) Occupied() int {
	return s.occupied
}
