package stream

import "errors"

// Error taxonomy of spec §4.3.4/§7. Stream-fatal errors transition the
// stream to a closed state; packet-local errors are dropped and
// counted by the caller (the dispatcher/receive loop), never returned
// from these APIs.
var (
	// ErrPayloadTooLarge: offset+len would exceed the 62-bit offset
	// space (spec §8: stream_offset+len == 2^62 is accepted, > 2^62
	// is rejected).
	ErrPayloadTooLarge = errors.New("stream: payload too large")

	// ErrPacketNumberExhaustion: the next packet number would exceed
	// 2^62-1.
	ErrPacketNumberExhaustion = errors.New("stream: packet number exhaustion")

	// ErrFinalSizeChanged: peer retransmitted a FIN with a different
	// final offset than previously observed.
	ErrFinalSizeChanged = errors.New("stream: final size changed")

	// ErrCryptoRetired: the entry's sealer/opener rejected the
	// operation because the key space is exhausted.
	ErrCryptoRetired = errors.New("stream: crypto retired")

	// ErrIdleTimeout: no packet arrived in either direction within
	// max_idle_timeout.
	ErrIdleTimeout = errors.New("stream: idle timeout")

	// ErrStreamReset carries no code by itself; callers wrap it with
	// the peer-supplied reset code via StreamResetError.
	ErrStreamReset = errors.New("stream: reset by peer")

	// ErrPacketBufferTooSmall: caller supplied a buffer smaller than
	// the configured MTU allows for a header plus one payload byte.
	// Recoverable: return to caller, do not tear down the stream.
	ErrPacketBufferTooSmall = errors.New("stream: packet buffer too small")

	// ErrClosed is returned by Write/Read/Shutdown after the stream has
	// fully closed.
	ErrClosed = errors.New("stream: closed")

	// ErrOverlappingChunk: the reassembler detected two chunks
	// claiming to cover the same byte differently (spec §3
	// reassembler invariant, checked best-effort).
	ErrOverlappingChunk = errors.New("stream: overlapping or contradictory chunk")
)

// StreamResetError wraps ErrStreamReset with the peer-supplied
// application reset code (spec §4.3.1 reset(code)).
type StreamResetError struct {
	Code uint64
}

func (e *StreamResetError) Error() string { return ErrStreamReset.Error() }
func (e *StreamResetError) Unwrap() error { return ErrStreamReset }
