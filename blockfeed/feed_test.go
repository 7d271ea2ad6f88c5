package blockfeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tensorwatch/subreg/window"
)

type fakeSource struct {
	name   string
	mu     sync.Mutex
	height uint64
	err    error
	calls  int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Probe(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.height, s.err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type timingSink struct {
	mu        sync.Mutex
	intervals []time.Duration
}

func (t *timingSink) RecordTiming(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intervals = append(t.intervals, interval)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ErrorBackoff = 20 * time.Millisecond
	cfg.Freshness = 50 * time.Millisecond
	return cfg
}

func TestProbeFirstSuccessWins(t *testing.T) {
	t.Parallel()
	primary := &fakeSource{name: "primary", height: 1000}
	secondary := &fakeSource{name: "secondary", height: 2000}
	f := New(testConfig(), []Source{primary, secondary})

	require.True(t, f.probeOnce(context.Background(), zaptest.NewLogger(t)))
	height, state, ok := f.Current()
	require.True(t, ok)
	require.Equal(t, uint64(1000), height)
	require.Equal(t, window.Compute(1000, 360, window.Range{First: 10, Last: 59}), state)
	require.Zero(t, secondary.callCount())
}

func TestProbeFallsBackInDeclaredOrder(t *testing.T) {
	t.Parallel()
	failing := &fakeSource{name: "failing", err: errors.New("boom")}
	unavailable := &fakeSource{name: "unavailable", err: ErrUnavailable}
	working := &fakeSource{name: "working", height: 777}
	f := New(testConfig(), []Source{failing, unavailable, working})

	require.True(t, f.probeOnce(context.Background(), zaptest.NewLogger(t)))
	height, _, ok := f.Current()
	require.True(t, ok)
	require.Equal(t, uint64(777), height)
}

func TestProbeAllFailingLeavesCacheUntouched(t *testing.T) {
	t.Parallel()
	working := &fakeSource{name: "working", height: 500}
	f := New(testConfig(), []Source{working})
	logger := zaptest.NewLogger(t)
	require.True(t, f.probeOnce(context.Background(), logger))

	working.mu.Lock()
	working.err = errors.New("boom")
	working.mu.Unlock()
	require.False(t, f.probeOnce(context.Background(), logger))

	height, _, ok := f.Current()
	require.True(t, ok)
	require.Equal(t, uint64(500), height)
}

func TestCurrentExpiresAfterFreshnessHorizon(t *testing.T) {
	t.Parallel()
	src := &fakeSource{name: "src", height: 500}
	cfg := testConfig()
	cfg.Freshness = 30 * time.Millisecond
	f := New(cfg, []Source{src})
	require.True(t, f.probeOnce(context.Background(), zaptest.NewLogger(t)))

	_, _, ok := f.Current()
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	height, state, ok := f.Current()
	require.False(t, ok)
	require.Zero(t, height)
	require.Equal(t, window.Unknown, state)
}

func TestTimingForwardedOnHeightChange(t *testing.T) {
	t.Parallel()
	src := &fakeSource{name: "src", height: 100}
	sink := &timingSink{}
	f := New(testConfig(), []Source{src}, WithTimingRecorder(sink))
	logger := zaptest.NewLogger(t)

	require.True(t, f.probeOnce(context.Background(), logger))
	// Same height: no interval reported.
	require.True(t, f.probeOnce(context.Background(), logger))

	src.mu.Lock()
	src.height = 101
	src.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	require.True(t, f.probeOnce(context.Background(), logger))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.intervals, 1)
	require.Greater(t, sink.intervals[0], time.Duration(0))
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	src := &fakeSource{name: "src", height: 300}
	f := New(testConfig(), []Source{src})
	ctx := context.Background()

	f.Stop() // never started: no-op

	f.Start(ctx)
	f.Start(ctx) // already running: no-op

	require.Eventually(t, func() bool {
		_, _, ok := f.Current()
		return ok
	}, time.Second, 5*time.Millisecond)

	f.Stop()
	f.Stop() // already stopped: no-op

	calls := src.callCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, calls, src.callCount(), "probe loop still running after Stop")
}
