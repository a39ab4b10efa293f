package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendBufferInvariantAckedSealedCommitted(t *testing.T) {
	b := NewSendBuffer()
	_, err := b.Write([]byte("hello dc!"))
	require.NoError(t, err)

	acked, sealed, committed := b.Offsets()
	require.Equal(t, uint64(0), acked)
	require.Equal(t, uint64(0), sealed)
	require.Equal(t, uint64(9), committed)

	offset, chunk, fin, ok := b.Seal(4)
	require.True(t, ok)
	require.False(t, fin)
	require.Equal(t, uint64(0), offset)
	require.Equal(t, []byte("hell"), chunk)

	_, sealed, _ = b.Offsets()
	require.Equal(t, uint64(4), sealed)
	require.LessOrEqual(t, acked, sealed)
	require.LessOrEqual(t, sealed, committed)
}

func TestSendBufferSealReturnsFinOnShutdown(t *testing.T) {
	b := NewSendBuffer()
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	final := b.Shutdown()
	require.Equal(t, uint64(3), final)

	_, chunk, fin, ok := b.Seal(16)
	require.True(t, ok)
	require.True(t, fin)
	require.Equal(t, []byte("abc"), chunk)

	_, _, err = b.Write([]byte("more"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestSendBufferAckTrimsData(t *testing.T) {
	b := NewSendBuffer()
	_, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, _, _, _ = b.Seal(10)
	b.Ack(5)
	require.Equal(t, []byte("56789"), b.Retransmit(5, 5))
}

func TestSendBufferPayloadTooLarge(t *testing.T) {
	b := &SendBuffer{committed: MaxOffset - 1}
	_, err := b.Write(make([]byte, 2))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}
