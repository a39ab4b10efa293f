// Package slidingwindow implements the duplicate/replay detection
// structure shared by the path-secret store's per-key_id replay window
// and the stream receive side's duplicate filter (spec §3 "Receivers
// run a sliding-window duplicate filter whose width is at least 128").
package slidingwindow

// MinWidth is the minimum window width required by spec §3.
const MinWidth = 128

// Window tracks which of the most recent Width packet numbers have
// been seen. It reports, for each number presented:
//   - New: never seen, inside or ahead of the window — accept and
//     record it.
//   - BelowWindow: older than the window's left edge — spec §4.2 calls
//     this "potentially" a replay, since it may simply be very late.
//   - Duplicate: inside the window and already marked seen — spec §4.2
//     calls this "definitely" a replay.
type Window struct {
	width uint64
	// largest is the highest packet number ever accepted; bits tracks
	// seen-ness for [largest-width+1, largest] as a bitset, bit i set
	// means (largest-i) has been seen.
	largest    uint64
	hasLargest bool
	bits       []uint64
}

// New creates a Window of the given width (rounded up to a multiple of
// 64); width is clamped to at least MinWidth.
func New(width uint64) *Window {
	if width < MinWidth {
		width = MinWidth
	}
	words := (width + 63) / 64
	return &Window{width: words * 64, bits: make([]uint64, words)}
}

// Check reports whether pn is new, below the window, or a duplicate,
// without recording it — used when the caller wants to decide whether
// to accept before mutating state (spec §4.2 check_dedup).
func (w *Window) Check(pn uint64) (isNew bool, gap uint64) {
	if !w.hasLargest {
		return true, 0
	}
	if pn > w.largest {
		return true, 0
	}
	offset := w.largest - pn
	if offset >= w.width {
		return false, offset - w.width + 1
	}
	word, bit := offset/64, offset%64
	if w.bits[word]&(1<<bit) != 0 {
		return false, 0
	}
	return true, 0
}

// Accept records pn as seen. It must only be called after Check
// reported isNew (or the caller otherwise intends to mark it seen
// regardless, e.g. after decrypting and validating a new-direction
// packet). Accept never reports the same packet number as new twice
// (spec §8 "The receive sliding window never reports the same packet
// number as new twice").
func (w *Window) Accept(pn uint64) {
	if !w.hasLargest {
		w.largest = pn
		w.hasLargest = true
		w.bits[0] = 1
		return
	}
	if pn > w.largest {
		shift := pn - w.largest
		w.shiftLeft(shift)
		w.largest = pn
		w.bits[0] |= 1
		return
	}
	offset := w.largest - pn
	if offset >= w.width {
		return
	}
	word, bit := offset/64, offset%64
	w.bits[word] |= 1 << bit
}

// shiftLeft advances the window by n packet numbers, discarding the
// oldest n entries.
func (w *Window) shiftLeft(n uint64) {
	if n >= w.width {
		for i := range w.bits {
			w.bits[i] = 0
		}
		return
	}
	wordShift := n / 64
	bitShift := n % 64
	words := uint64(len(w.bits))
	if wordShift > 0 {
		for i := words - 1; ; i-- {
			if i >= wordShift {
				w.bits[i] = w.bits[i-wordShift]
			} else {
				w.bits[i] = 0
			}
			if i == 0 {
				break
			}
		}
	}
	if bitShift > 0 {
		var carry uint64
		for i := uint64(0); i < words; i++ {
			cur := w.bits[i]
			w.bits[i] = (cur << bitShift) | carry
			carry = cur >> (64 - bitShift)
		}
	}
}
