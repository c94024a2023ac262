package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/cqlwire/internal/proto"
)

func TestStreamAllocatorAcquireAll(t *testing.T) {
	t.Parallel()

	s := NewStreamAllocator()
	seen := make(map[int8]bool)
	for i := 0; i < StreamCapacity; i++ {
		id, err := s.Acquire(&PendingRequest{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, id, int8(0))
		require.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Equal(t, 0, s.Available())
	assert.Equal(t, StreamCapacity, s.Occupied())

	_, err := s.Acquire(&PendingRequest{})
	require.Error(t, err)
	assert.True(t, proto.IsKind(err, proto.KindStreamExhausted))
}

func TestStreamAllocatorLowestFree(t *testing.T) {
	t.Parallel()

	s := NewStreamAllocator()
	for i := 0; i < 5; i++ {
		id, err := s.Acquire(&PendingRequest{})
		require.NoError(t, err)
		assert.Equal(t, int8(i), id)
	}

	_, err := s.Release(2)
	require.NoError(t, err)

	id, err := s.Acquire(&PendingRequest{})
	require.NoError(t, err)
	assert.Equal(t, int8(2), id, "freed slot is reused before higher ids")
}

func TestStreamAllocatorReleaseReturnsOccupant(t *testing.T) {
	t.Parallel()

	s := NewStreamAllocator()
	p := &PendingRequest{}
	id, err := s.Acquire(p)
	require.NoError(t, err)
	assert.Equal(t, id, p.Stream)

	got, err := s.Release(id)
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, StreamCapacity, s.Available())
}

func TestStreamAllocatorReleaseVacant(t *testing.T) {
	t.Parallel()

	s := NewStreamAllocator()
	_, err := s.Release(7)
	require.Error(t, err)
	assert.True(t, proto.IsKind(err, proto.KindProtocolError))
}

func TestStreamAllocatorReleaseNegative(t *testing.T) {
	t.Parallel()

	s := NewStreamAllocator()
	_, err := s.Release(-1)
	require.Error(t, err)
	assert.True(t, proto.IsKind(err, proto.KindProtocolError))
}

func TestStreamAllocatorDrainAll(t *testing.T) {
	t.Parallel()

	s := NewStreamAllocator()
	var acquired []*PendingRequest
	for i := 0; i < 10; i++ {
		p := &PendingRequest{}
		_, err := s.Acquire(p)
		require.NoError(t, err)
		acquired = append(acquired, p)
	}

	drained := s.DrainAll()
	require.Len(t, drained, 10)
	assert.Equal(t, acquired, drained, "drain order is lowest id first")
	assert.Equal(t, 0, s.Occupied())
	assert.Nil(t, s.DrainAll(), "second drain has nothing left")
}
