package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryRegisterLookup(t *testing.T) {
	d := NewDirectory()
	require.Nil(t, d.Lookup(42))

	r := NewReceiveRing(4)
	d.Register(42, r)
	require.Same(t, r, d.Lookup(42))

	// A queue id in a later page must not disturb the first.
	r2 := NewReceiveRing(4)
	d.Register(5000, r2)
	require.Same(t, r, d.Lookup(42))
	require.Same(t, r2, d.Lookup(5000))
}

func TestDirectoryUnregisterClosesRing(t *testing.T) {
	d := NewDirectory()
	r := NewReceiveRing(4)
	d.Register(1, r)
	d.Unregister(1)
	require.Nil(t, d.Lookup(1))
}

func TestSendRingPushPop(t *testing.T) {
	r := NewSendRing(2)
	p := &Packet{Bytes: []byte("hello")}
	r.Push(p)
	got, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestReceiveRingOverflowFlag(t *testing.T) {
	r := NewReceiveRing(1)
	require.False(t, r.HasOverflow())
	r.Push(&Packet{Bytes: []byte("a")})
	r.Push(&Packet{Bytes: []byte("b")})
	require.True(t, r.HasOverflow())
	r.ClearOverflow()
	require.False(t, r.HasOverflow())
}
