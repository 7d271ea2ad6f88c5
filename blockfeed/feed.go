/*
Package blockfeed maintains the best-known current block height of the chain
by polling a prioritized list of independent data sources.

No single source is trusted: on every tick the feed walks the sources in
declared order and keeps the first successful observation. Observations
expire after a freshness horizon, so consumers see either a fresh height or
an explicit "unknown" - never a stale-but-confident value.
*/
package blockfeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/tensorwatch/subreg/logging"
	"github.com/tensorwatch/subreg/window"
)

// ErrUnavailable is returned by a source that is not configured (e.g. a
// missing API key). It is not counted as a probe failure.
var ErrUnavailable = errors.New("source unavailable")

var (
	heightMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subreg",
		Subsystem: "blockfeed",
		Name:      "height",
		Help:      "Best-known current block height",
	})

	observationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subreg",
		Subsystem: "blockfeed",
		Name:      "observations_total",
		Help:      "Number of successful block height observations per source",
	}, []string{"source"})

	probeErrorsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subreg",
		Subsystem: "blockfeed",
		Name:      "probe_errors_total",
		Help:      "Number of failed block height probes per source",
	}, []string{"source"})
)

// Source provides the current block height from one external data source.
// Implementations never panic past their boundary; internal faults surface
// as an error only.
type Source interface {
	Name() string
	Probe(ctx context.Context) (uint64, error)
}

//nolint:lll
type Config struct {
	Tempo  uint64       `long:"tempo"  description:"Number of blocks in one tempo period"`
	Window window.Range `long:"window" description:"Eligible offsets within a tempo period, as first-last"`

	PollInterval time.Duration `long:"poll-interval"  description:"Interval between block height polls"`
	ErrorBackoff time.Duration `long:"error-backoff"  description:"Poll interval while all sources are failing"`
	Freshness    time.Duration `long:"freshness"      description:"Maximum age of an observation before it is treated as unknown"`
	ProbeTimeout time.Duration `long:"probe-timeout"  description:"Timeout for a single source probe"`

	Sources SourcesConfig `group:"Sources" namespace:"sources"`
}

func DefaultConfig() Config {
	return Config{
		Tempo:        360,
		Window:       window.Range{First: 10, Last: 59},
		PollInterval: 5 * time.Second,
		ErrorBackoff: 30 * time.Second,
		Freshness:    10 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// TimingRecorder consumes observed inter-block intervals.
type TimingRecorder interface {
	RecordTiming(interval time.Duration)
}

// Feed polls sources in the background and caches the freshest observation.
type Feed struct {
	cfg     Config
	sources []Source
	timing  TimingRecorder

	mu           sync.Mutex
	height       uint64
	observedAt   time.Time
	lastChangeAt time.Time

	running bool
	stop    chan struct{}
	done    chan struct{}
}

type newFeedOptionFunc func(*Feed)

// WithTimingRecorder forwards inter-block timing to the given recorder.
func WithTimingRecorder(r TimingRecorder) newFeedOptionFunc {
	return func(f *Feed) {
		f.timing = r
	}
}

func New(cfg Config, sources []Source, opts ...newFeedOptionFunc) *Feed {
	f := &Feed{
		cfg:     cfg,
		sources: sources,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the background polling loop. Starting an already running
// feed is a no-op.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.run(ctx, f.stop, f.done)
	logging.FromContext(ctx).Info("block feed started", zap.Int("sources", len(f.sources)))
}

// Stop terminates the polling loop, waiting for it with a bounded timeout.
// Stopping a feed that is not running is a no-op.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	stop, done := f.stop, f.done
	f.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

// Current returns the cached block height and its window state, or ok=false
// when no observation fresher than the freshness horizon exists.
func (f *Feed) Current() (uint64, window.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observedAt.IsZero() || time.Since(f.observedAt) >= f.cfg.Freshness {
		return 0, window.Unknown, false
	}
	return f.height, window.Compute(f.height, f.cfg.Tempo, f.cfg.Window), true
}

// WindowState computes the window state for an arbitrary height under the
// feed's tempo configuration.
func (f *Feed) WindowState(height uint64) window.State {
	return window.Compute(height, f.cfg.Tempo, f.cfg.Window)
}

func (f *Feed) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	logger := logging.FromContext(ctx).Named("blockfeed")

	for {
		interval := f.cfg.PollInterval
		if !f.probeOnce(ctx, logger) {
			interval = f.cfg.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(interval):
		}
	}
}

// probeOnce walks the sources in priority order and caches the first
// successful observation. It reports false when every configured source
// failed, which backs the polling cadence off until a probe succeeds again.
func (f *Feed) probeOnce(ctx context.Context, logger *zap.Logger) bool {
	failed := 0
	for _, src := range f.sources {
		probeCtx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
		height, err := src.Probe(probeCtx)
		cancel()
		switch {
		case errors.Is(err, ErrUnavailable):
			continue
		case err != nil:
			probeErrorsMetric.WithLabelValues(src.Name()).Inc()
			logger.Debug("block probe failed", zap.String("source", src.Name()), zap.Error(err))
			failed++
			continue
		}
		observationsMetric.WithLabelValues(src.Name()).Inc()
		f.record(logger, src.Name(), height)
		return true
	}

	logger.Warn("unable to fetch current block from any source")
	return failed == 0
}

func (f *Feed) record(logger *zap.Logger, source string, height uint64) {
	now := time.Now()
	f.mu.Lock()
	changed := height != f.height
	var interval time.Duration
	if changed {
		if !f.lastChangeAt.IsZero() {
			interval = now.Sub(f.lastChangeAt)
		}
		f.lastChangeAt = now
	}
	f.height = height
	f.observedAt = now
	f.mu.Unlock()

	heightMetric.Set(float64(height))
	if changed {
		state := window.Compute(height, f.cfg.Tempo, f.cfg.Window)
		logger.Debug("block updated",
			zap.String("source", source),
			zap.Uint64("height", height),
			zap.String("window", state.Status))
		if f.timing != nil && interval > 0 {
			f.timing.RecordTiming(interval)
		}
	}
}
