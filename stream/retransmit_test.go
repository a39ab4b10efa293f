package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetransmitQueueDrainsDueInOrder(t *testing.T) {
	q := NewRetransmitQueue()
	q.Push(30, &Event{PacketNumber: 3})
	q.Push(10, &Event{PacketNumber: 1})
	q.Push(20, &Event{PacketNumber: 2})

	due := q.DrainDue(25)
	require.Len(t, due, 2)
	require.Equal(t, uint64(1), due[0].PacketNumber)
	require.Equal(t, uint64(2), due[1].PacketNumber)
	require.Equal(t, 1, q.Len())

	q.Release(due)
	more := q.DrainDue(100)
	require.Len(t, more, 1)
	require.Equal(t, uint64(3), more[0].PacketNumber)
}

func TestRetransmitQueueRemove(t *testing.T) {
	q := NewRetransmitQueue()
	q.Push(10, &Event{PacketNumber: 1})
	q.Push(10, &Event{PacketNumber: 2})
	q.Remove(1)
	due := q.DrainDue(10)
	require.Len(t, due, 1)
	require.Equal(t, uint64(2), due[0].PacketNumber)
}
