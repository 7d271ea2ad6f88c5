package window_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorwatch/subreg/window"
)

func TestCompute(t *testing.T) {
	t.Parallel()
	win := window.Range{First: 10, Last: 59}

	tests := []struct {
		height     uint64
		inWindow   bool
		blocksLeft uint64
		nextWindow uint64
	}{
		{height: 10, inWindow: true, blocksLeft: 49},
		{height: 30, inWindow: true, blocksLeft: 29},
		{height: 58, inWindow: true, blocksLeft: 1},
		// Last eligible block wraps to the next window's span.
		{height: 59, inWindow: true, blocksLeft: 49 + 360},
		{height: 5, inWindow: false, nextWindow: 5},
		{height: 0, inWindow: false, nextWindow: 10},
		{height: 60, inWindow: false, nextWindow: 310},
		{height: 359, inWindow: false, nextWindow: 11},
		// Same offsets one full tempo later.
		{height: 360 + 59, inWindow: true, blocksLeft: 49 + 360},
		{height: 360*1000 + 5, inWindow: false, nextWindow: 5},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(fmt.Sprintf("height %d", tc.height), func(t *testing.T) {
			t.Parallel()
			state := window.Compute(tc.height, 360, win)
			require.Equal(t, tc.inWindow, state.InWindow)
			require.Equal(t, tc.height%360, state.BlockInTempo)
			if tc.inWindow {
				require.Equal(t, tc.blocksLeft, state.BlocksLeft)
				require.Contains(t, state.Status, "WINDOW ACTIVE")
			} else {
				require.Equal(t, tc.nextWindow, state.NextWindow)
				require.Contains(t, state.Status, "Next window")
			}
		})
	}
}

func TestComputeMatchesMembership(t *testing.T) {
	t.Parallel()
	for _, tempo := range []uint64{1, 2, 7, 360, 1000} {
		win := window.Range{First: tempo / 4, Last: tempo / 2}
		for height := uint64(0); height < 3*tempo; height++ {
			state := window.Compute(height, tempo, win)
			require.Equal(t, win.Contains(height%tempo), state.InWindow,
				"tempo %d height %d", tempo, height)
		}
	}
}

func TestComputeNextWindowIsMinimalForwardDistance(t *testing.T) {
	t.Parallel()
	tempo := uint64(360)
	win := window.Range{First: 10, Last: 59}
	for height := uint64(0); height < tempo; height++ {
		state := window.Compute(height, tempo, win)
		if state.InWindow {
			continue
		}
		// Walking forward NextWindow blocks must land exactly on the
		// first eligible offset.
		require.True(t, win.Contains((height+state.NextWindow)%tempo))
		for d := uint64(1); d < state.NextWindow; d++ {
			require.False(t, win.Contains((height+d)%tempo),
				"height %d: offset %d blocks ahead is eligible before NextWindow %d",
				height, d, state.NextWindow)
		}
	}
}

func TestRangeUnmarshalFlag(t *testing.T) {
	t.Parallel()
	var r window.Range
	require.NoError(t, r.UnmarshalFlag("10-59"))
	require.Equal(t, window.Range{First: 10, Last: 59}, r)
	require.Equal(t, "10-59", r.String())

	require.Error(t, r.UnmarshalFlag("59"))
	require.Error(t, r.UnmarshalFlag("59-10"))
	require.Error(t, r.UnmarshalFlag("x-10"))
	require.Error(t, r.UnmarshalFlag("10-y"))
}

func TestUnknown(t *testing.T) {
	t.Parallel()
	require.False(t, window.Unknown.InWindow)
	require.Equal(t, "Unknown", window.Unknown.Status)
}
