package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestReassemblerOutOfOrderDelivery mirrors spec §8 scenario 2: four
// 1024-byte chunks delivered out of order reassemble into the exact
// 4096-byte sequence once the gap fills.
func TestReassemblerOutOfOrderDelivery(t *testing.T) {
	r := NewReassembler()
	chunks := make([][]byte, 4)
	want := make([]byte, 0, 4096)
	for i := range chunks {
		c := make([]byte, 1024)
		for j := range c {
			c[j] = byte(i)
		}
		chunks[i] = c
		want = append(want, c...)
	}

	order := []int{2, 0, 3, 1}
	for _, idx := range order {
		require.NoError(t, r.Insert(uint64(idx)*1024, chunks[idx], idx == 3))
	}

	got := make([]byte, 4096)
	n, eof := r.Read(got)
	require.Equal(t, 4096, n)
	require.True(t, eof)
	require.Equal(t, want, got)
}

func TestReassemblerFinalSizeChangedOnConflictingFin(t *testing.T) {
	r := NewReassembler()
	require.NoError(t, r.Insert(0, []byte("hello"), true))
	err := r.Insert(0, []byte("hello!!"), true)
	require.ErrorIs(t, err, ErrFinalSizeChanged)
}

func TestReassemblerEmptyPayloadWithFinDeliversEOF(t *testing.T) {
	r := NewReassembler()
	require.NoError(t, r.Insert(0, nil, true))
	buf := make([]byte, 16)
	n, eof := r.Read(buf)
	require.Equal(t, 0, n)
	require.True(t, eof)
}

func TestReassemblerOverlapDisagreementRejected(t *testing.T) {
	r := NewReassembler()
	require.NoError(t, r.Insert(10, []byte("ABCDE"), false))
	err := r.Insert(12, []byte("XYZ"), false)
	require.ErrorIs(t, err, ErrOverlappingChunk)
}

func TestReassemblerRedeliveryOfConsumedRangeIsNoop(t *testing.T) {
	r := NewReassembler()
	require.NoError(t, r.Insert(0, []byte("abc"), false))
	buf := make([]byte, 3)
	r.Read(buf)
	require.NoError(t, r.Insert(0, []byte("abc"), false))
	require.Equal(t, 0, r.Len())
}
