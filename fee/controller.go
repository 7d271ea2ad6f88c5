// Package fee implements the adaptive priority fee controller. It turns
// registration outcomes and observed block timing into a multiplier applied
// on top of the base registration cost of the next attempt.
package fee

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const recentFeeCapacity = 10

var (
	multiplierMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subreg",
		Subsystem: "fee",
		Name:      "multiplier",
		Help:      "Fee multiplier applied to the most recent priced attempt",
	})

	successRateMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subreg",
		Subsystem: "fee",
		Name:      "success_rate",
		Help:      "Rolling registration success rate",
	})
)

//nolint:lll
type Config struct {
	BaseMultiplier float64 `long:"base-multiplier" description:"Priority fee multiplier used until enough attempts are observed"`
	MaxMultiplier  float64 `long:"max-multiplier"  description:"Upper bound for the priority fee multiplier"`
	AdaptThreshold uint64  `long:"adapt-threshold" description:"Number of attempts to observe before adapting the multiplier"`
}

func DefaultConfig() Config {
	return Config{
		BaseMultiplier: 0.5,
		MaxMultiplier:  2.0,
		AdaptThreshold: 5,
	}
}

// Stats is a snapshot of the controller state, computed over the bounded
// history of recently priced fees.
type Stats struct {
	CurrentMultiplier float64
	SuccessRate       float64
	Congestion        float64
	AvgFee            float64
	MinFee            float64
	MaxFee            float64
}

// Controller keeps rolling success and congestion statistics and prices
// priority fees from them. All entry points are safe for concurrent use;
// every lane reports outcomes into the same controller.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	attempts    uint64
	successes   uint64
	successRate float64
	congestion  float64
	recentFees  []float64
	lastFee     float64
	lastBase    float64
}

func New(cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		logger:      logger.Named("fee"),
		successRate: 0.5,
	}
}

// RecordOutcome registers the result of a submitted registration attempt.
func (c *Controller) RecordOutcome(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if success {
		c.successes++
	}
	c.successRate = float64(c.successes) / float64(c.attempts)
	successRateMetric.Set(c.successRate)
}

// RecordTiming feeds an observed inter-block interval into the congestion
// indicator. Congestion rises quickly under slow blocks and drains slowly
// once timing recovers.
func (c *Controller) RecordTiming(interval time.Duration) {
	secs := interval.Seconds()
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case secs > 12:
		c.congestion = min(1.0, c.congestion+0.1)
	case secs > 9:
		c.congestion = min(0.8, c.congestion+0.05)
	case secs > 6:
		c.congestion = min(0.5, c.congestion+0.02)
	default:
		c.congestion = max(0.0, c.congestion-0.05)
	}
}

// PriorityFee prices the priority fee for an attempt with the given base
// cost. Until more than AdaptThreshold attempts have been observed the flat
// base multiplier is used; afterwards the multiplier is tiered by success
// rate and nudged by congestion within each tier's bound.
func (c *Controller) PriorityFee(baseCost float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	multiplier := c.cfg.BaseMultiplier
	if c.attempts > c.cfg.AdaptThreshold {
		switch {
		case c.successRate < 0.2:
			multiplier = min(c.cfg.MaxMultiplier, c.cfg.MaxMultiplier-0.5+c.congestion*0.5)
			c.logger.Info("low success rate, using high fee multiplier",
				zap.Float64("success_rate", c.successRate), zap.Float64("multiplier", multiplier))
		case c.successRate < 0.5:
			multiplier = min(c.cfg.MaxMultiplier-0.2, c.cfg.BaseMultiplier+0.5+c.congestion*0.3)
			c.logger.Info("medium success rate, using enhanced fee multiplier",
				zap.Float64("success_rate", c.successRate), zap.Float64("multiplier", multiplier))
		default:
			multiplier = c.cfg.BaseMultiplier + c.congestion*0.2
			c.logger.Info("good success rate, using base fee multiplier",
				zap.Float64("success_rate", c.successRate), zap.Float64("multiplier", multiplier))
		}
	}

	fee := baseCost * multiplier
	c.lastFee = fee
	c.lastBase = baseCost
	c.recentFees = append(c.recentFees, fee)
	if len(c.recentFees) > recentFeeCapacity {
		c.recentFees = c.recentFees[1:]
	}
	multiplierMetric.Set(multiplier)
	return fee
}

// Statistics returns a snapshot of the controller. With no priced history
// the fee fields are zero and the multiplier is the flat baseline.
func (c *Controller) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		CurrentMultiplier: c.cfg.BaseMultiplier,
		SuccessRate:       c.successRate,
		Congestion:        c.congestion,
	}
	if len(c.recentFees) == 0 {
		return stats
	}

	if c.lastBase > 0 {
		stats.CurrentMultiplier = c.lastFee / c.lastBase
	}
	sum := 0.0
	stats.MinFee = c.recentFees[0]
	stats.MaxFee = c.recentFees[0]
	for _, f := range c.recentFees {
		sum += f
		stats.MinFee = min(stats.MinFee, f)
		stats.MaxFee = max(stats.MaxFee, f)
	}
	stats.AvgFee = sum / float64(len(c.recentFees))
	return stats
}
