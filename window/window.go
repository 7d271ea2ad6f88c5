/*
Package window computes where a block height falls relative to the recurring
registration window of a subnet.

A subnet accepts registrations only during a fixed range of offsets within
each tempo period. Given the current height, the tempo and the window range,
Compute derives whether registration is currently possible and how far away
the window is. It is pure arithmetic with no I/O.
*/
package window

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a closed range [First, Last] of offsets within a tempo period
// during which registration is accepted.
type Range struct {
	First uint64
	Last  uint64
}

// UnmarshalFlag implements flags.Unmarshaler, parsing "first-last".
func (r *Range) UnmarshalFlag(value string) error {
	first, last, found := strings.Cut(value, "-")
	if !found {
		return fmt.Errorf("invalid window range %q, expected \"first-last\"", value)
	}
	f, err := strconv.ParseUint(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid window range start %q: %w", first, err)
	}
	l, err := strconv.ParseUint(strings.TrimSpace(last), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid window range end %q: %w", last, err)
	}
	if l < f {
		return fmt.Errorf("invalid window range %q: end before start", value)
	}
	*r = Range{First: f, Last: l}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// Contains reports whether the given offset within a tempo period falls
// inside the range.
func (r Range) Contains(offset uint64) bool {
	return offset >= r.First && offset <= r.Last
}

// State is an immutable snapshot of the window position for one observed
// block height. It is recomputed on every fresh observation and never
// persisted.
type State struct {
	InWindow     bool
	BlockInTempo uint64
	// BlocksLeft is the number of eligible blocks remaining. Only valid
	// when InWindow is true.
	BlocksLeft uint64
	// NextWindow is the number of blocks until the window reopens. Only
	// valid when InWindow is false.
	NextWindow uint64
	Status     string
}

// Unknown is the state reported when no fresh block height is available.
var Unknown = State{Status: "Unknown"}

// Compute derives the window state for a block height under the given tempo.
// The window range must lie within [0, tempo).
func Compute(height, tempo uint64, win Range) State {
	offset := height % tempo
	if win.Contains(offset) {
		left := win.Last - offset
		if left == 0 {
			// Last eligible block of this period; report the span of the
			// next full window instead.
			left = win.Last - win.First + tempo
		}
		return State{
			InWindow:     true,
			BlockInTempo: offset,
			BlocksLeft:   left,
			Status:       fmt.Sprintf("WINDOW ACTIVE - %d blocks left", left),
		}
	}

	var next uint64
	if offset < win.First {
		next = win.First - offset
	} else {
		next = tempo - offset + win.First
	}
	return State{
		InWindow:     false,
		BlockInTempo: offset,
		NextWindow:   next,
		Status:       fmt.Sprintf("Next window in ~%d blocks", next),
	}
}
