package registrar

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/tensorwatch/subreg/fee"
	"github.com/tensorwatch/subreg/logging"
	"github.com/tensorwatch/subreg/window"
)

//go:generate mockgen -package mocks -destination mocks/registrar.go . ChainClient,Notifier

// ErrEmptyWorklist is returned when MultiRegister is called with no
// credentials.
var ErrEmptyWorklist = errors.New("no credentials to register")

var (
	attemptsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subreg",
		Subsystem: "registrar",
		Name:      "attempts_total",
		Help:      "Registration attempts by outcome",
	}, []string{"outcome"})

	confirmedMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subreg",
		Subsystem: "registrar",
		Name:      "confirmed",
		Help:      "Number of credentials confirmed registered in this run",
	})
)

// Credential identifies one wallet to register, by coldkey and hotkey name.
type Credential struct {
	Coldkey string
	Hotkey  string
}

func (c Credential) String() string {
	return c.Coldkey + "/" + c.Hotkey
}

// ChainClient is the chain access capability the registrar submits through.
// Submit may block for a long, caller-timeout-bounded duration.
type ChainClient interface {
	IsRegistered(ctx context.Context, netuid uint32, cred Credential) (bool, error)
	RegistrationCost(ctx context.Context, netuid uint32) (float64, error)
	Balance(ctx context.Context, cred Credential) (float64, error)
	Submit(ctx context.Context, netuid uint32, cred Credential, totalCost float64) (bool, error)
}

// Notifier delivers out-of-band status messages. Sends are best-effort;
// failures are logged and never block registration progress.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// BlockFeed provides the current block height and window state, when known.
type BlockFeed interface {
	Start(ctx context.Context)
	Stop()
	Current() (uint64, window.State, bool)
}

//nolint:lll
type Config struct {
	NetUID   uint32        `long:"netuid"    description:"Subnet UID to register on"`
	Lanes    int           `long:"lanes"     description:"Number of concurrent registration lanes"`
	MinDelay time.Duration `long:"min-delay" description:"Minimum delay between attempts on one lane"`
	MaxDelay time.Duration `long:"max-delay" description:"Maximum delay between attempts on one lane"`

	UsePriorityFee bool          `no-flag:""`
	JoinTimeout    time.Duration `no-flag:""`
	SweepInterval  time.Duration `no-flag:""`
	NotifyInterval time.Duration `no-flag:""`
}

func DefaultConfig() Config {
	return Config{
		NetUID:         1,
		Lanes:          2,
		MinDelay:       10 * time.Second,
		MaxDelay:       30 * time.Second,
		UsePriorityFee: true,
		JoinTimeout:    5 * time.Second,
		SweepInterval:  time.Minute,
		NotifyInterval: 30 * time.Minute,
	}
}

// Summary describes the aggregate result of a run.
type Summary struct {
	RunID     string
	Total     int
	Confirmed int
	Remaining int
	Elapsed   time.Duration
}

// Registrar partitions a worklist of credentials across lanes and drives
// window-gated, fee-priced registration attempts until every credential is
// confirmed or the run is cancelled.
type Registrar struct {
	cfg      Config
	chain    ChainClient
	feed     BlockFeed
	fees     *fee.Controller
	notifier Notifier
	journal  *journal

	mu        sync.Mutex
	confirmed map[Credential]struct{}
}

// Option customizes a Registrar.
type Option func(*newRegistrarOptions)

type newRegistrarOptions struct {
	notifier    Notifier
	journalPath string
}

// WithNotifier attaches a best-effort notifier for per-attempt results and
// periodic status summaries.
func WithNotifier(n Notifier) Option {
	return func(o *newRegistrarOptions) {
		o.notifier = n
	}
}

// WithJournal persists confirmed registrations at the given path, so a
// restarted run skips the chain query for already-confirmed credentials.
func WithJournal(path string) Option {
	return func(o *newRegistrarOptions) {
		o.journalPath = path
	}
}

func New(
	cfg Config,
	chain ChainClient,
	feed BlockFeed,
	fees *fee.Controller,
	opts ...Option,
) (*Registrar, error) {
	options := newRegistrarOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	r := &Registrar{
		cfg:       cfg,
		chain:     chain,
		feed:      feed,
		fees:      fees,
		notifier:  options.notifier,
		confirmed: make(map[Credential]struct{}),
	}
	if options.journalPath != "" {
		j, err := openJournal(options.journalPath)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		r.journal = j
	}
	return r, nil
}

func (r *Registrar) Close() error {
	if r.journal != nil {
		return r.journal.Close()
	}
	return nil
}

// Partition splits credentials round-robin into n lanes. Every credential
// lands in exactly one lane and lane sizes differ by at most one.
func Partition(credentials []Credential, n int) [][]Credential {
	if n < 1 {
		n = 1
	}
	lanes := make([][]Credential, n)
	for i, cred := range credentials {
		lanes[i%n] = append(lanes[i%n], cred)
	}
	return lanes
}

// MultiRegister runs the registration campaign for the given credentials
// and blocks until all of them reach a terminal state or ctx is cancelled.
// Cancellation is a clean early exit: the returned Summary reflects partial
// progress.
func (r *Registrar) MultiRegister(ctx context.Context, credentials []Credential) (Summary, error) {
	if len(credentials) == 0 {
		return Summary{}, ErrEmptyWorklist
	}

	runID := uuid.New().String()
	logger := logging.FromContext(ctx).Named("registrar").With(zap.String("run_id", runID))
	ctx = logging.NewContext(ctx, logger)

	if r.journal != nil {
		known, err := r.journal.Confirmed()
		if err != nil {
			logger.Warn("failed to load confirmation journal", zap.Error(err))
		}
		r.mu.Lock()
		for _, cred := range known {
			r.confirmed[cred] = struct{}{}
		}
		r.mu.Unlock()
	}

	r.feed.Start(ctx)
	defer r.feed.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i, lane := range Partition(credentials, r.cfg.Lanes) {
		if len(lane) == 0 {
			continue
		}
		wg.Add(1)
		go func(id int, queue []Credential) {
			defer wg.Done()
			r.runLane(ctx, id, queue)
		}(i, lane)
	}

	lanesDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(lanesDone)
	}()

	r.supervise(ctx, credentials, start, lanesDone)

	// Lanes are cooperative; one that does not stop within the bound is
	// abandoned rather than awaited further.
	cancel()
	select {
	case <-lanesDone:
	case <-time.After(r.cfg.JoinTimeout):
		logger.Warn("timed out waiting for lanes to stop")
	}

	summary := r.summarize(runID, credentials, start)
	logger.Info("registration finished",
		zap.Int("total", summary.Total),
		zap.Int("confirmed", summary.Confirmed),
		zap.Int("remaining", summary.Remaining),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// runLane processes one lane's queue sequentially. A failed credential goes
// back to the tail of the same lane; registration windows recur, so there
// is no per-credential retry ceiling.
func (r *Registrar) runLane(ctx context.Context, id int, queue []Credential) {
	logger := logging.FromContext(ctx).With(zap.Int("lane", id))
	ctx = logging.NewContext(ctx, logger)

	for ctx.Err() == nil && len(queue) > 0 {
		cred := queue[0]
		queue = queue[1:]

		outcome := r.attempt(ctx, cred)
		attemptsMetric.WithLabelValues(outcome.String()).Inc()
		if !outcome.terminal() && ctx.Err() == nil {
			queue = append(queue, cred)
		}

		if len(queue) > 0 {
			r.sleepJittered(ctx, logger)
		}
	}
}

// attempt performs one registration attempt for a credential and classifies
// its result. Every fault is converted to an Outcome here; nothing escapes
// to crash the lane.
func (r *Registrar) attempt(ctx context.Context, cred Credential) Outcome {
	logger := logging.FromContext(ctx).With(zap.Stringer("wallet", cred))

	if r.isConfirmed(cred) {
		return AlreadyRegistered
	}

	registered, err := r.chain.IsRegistered(ctx, r.cfg.NetUID, cred)
	if err != nil {
		logger.Debug("registration status check failed", zap.Error(err))
		return TransientError
	}
	if registered {
		logger.Info("already registered", zap.Uint32("netuid", r.cfg.NetUID))
		r.markConfirmed(ctx, cred)
		return AlreadyRegistered
	}

	cost, err := r.chain.RegistrationCost(ctx, r.cfg.NetUID)
	if err != nil {
		logger.Warn("failed to get registration cost", zap.Error(err))
		return TransientError
	}

	balance, err := r.chain.Balance(ctx, cred)
	if err != nil {
		logger.Debug("balance check failed", zap.Error(err))
		return TransientError
	}
	if balance < cost {
		logger.Error("insufficient balance",
			zap.Float64("balance", balance), zap.Float64("cost", cost))
		return InsufficientFunds
	}

	if _, state, ok := r.feed.Current(); ok && !state.InWindow {
		logger.Info("not in registration window", zap.String("window", state.Status))
		return WindowClosed
	}

	totalCost := cost
	priorityFee := 0.0
	if r.cfg.UsePriorityFee {
		priorityFee = r.fees.PriorityFee(cost)
		totalCost = cost + priorityFee
	}
	logger.Info("attempting registration",
		zap.Uint32("netuid", r.cfg.NetUID),
		zap.Float64("cost", cost),
		zap.Float64("priority_fee", priorityFee),
		zap.Float64("total", totalCost),
		zap.Float64("balance", balance))

	accepted, err := r.chain.Submit(ctx, r.cfg.NetUID, cred, totalCost)
	if err != nil || !accepted {
		if err != nil {
			logger.Error("registration failed", zap.Error(err))
		} else {
			logger.Error("registration rejected")
		}
		r.fees.RecordOutcome(false)
		r.notify(ctx, fmt.Sprintf("Registration failed for %s on subnet %d", cred, r.cfg.NetUID))
		return Failure
	}

	logger.Info("registration successful", zap.Uint32("netuid", r.cfg.NetUID))
	r.fees.RecordOutcome(true)
	r.notify(ctx, fmt.Sprintf("Registration successful for %s on subnet %d", cred, r.cfg.NetUID))
	r.markConfirmed(ctx, cred)
	return Success
}

// sleepJittered pauses for a uniform duration in [MinDelay, MaxDelay],
// waking at one-second granularity so cancellation latency stays bounded.
func (r *Registrar) sleepJittered(ctx context.Context, logger *zap.Logger) {
	delay := r.cfg.MinDelay
	if spread := r.cfg.MaxDelay - r.cfg.MinDelay; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	logger.Debug("waiting before next attempt", zap.Duration("delay", delay))

	deadline := time.Now().Add(delay)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(min(remaining, time.Second)):
		}
	}
}

func (r *Registrar) isConfirmed(cred Credential) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.confirmed[cred]
	return ok
}

func (r *Registrar) markConfirmed(ctx context.Context, cred Credential) {
	r.mu.Lock()
	if _, ok := r.confirmed[cred]; ok {
		r.mu.Unlock()
		return
	}
	r.confirmed[cred] = struct{}{}
	count := len(r.confirmed)
	r.mu.Unlock()

	confirmedMetric.Set(float64(count))
	if r.journal != nil {
		if err := r.journal.MarkConfirmed(cred); err != nil {
			logging.FromContext(ctx).Warn("failed to journal confirmation", zap.Error(err))
		}
	}
}

func (r *Registrar) notify(ctx context.Context, message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Send(ctx, message); err != nil {
		logging.FromContext(ctx).Debug("notification failed", zap.Error(err))
	}
}

// summarize counts only confirmations belonging to this run's worklist; the
// journal may hold credentials from earlier runs.
func (r *Registrar) summarize(runID string, credentials []Credential, start time.Time) Summary {
	r.mu.Lock()
	confirmed := 0
	for _, cred := range credentials {
		if _, ok := r.confirmed[cred]; ok {
			confirmed++
		}
	}
	r.mu.Unlock()
	return Summary{
		RunID:     runID,
		Total:     len(credentials),
		Confirmed: confirmed,
		Remaining: len(credentials) - confirmed,
		Elapsed:   time.Since(start),
	}
}
