package fee_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tensorwatch/subreg/fee"
)

func newController(t *testing.T) *fee.Controller {
	return fee.New(fee.DefaultConfig(), zaptest.NewLogger(t))
}

func TestColdStartUsesFlatMultiplier(t *testing.T) {
	t.Parallel()
	c := newController(t)

	// Drive congestion up; it must not affect pricing before enough
	// attempts are observed.
	for i := 0; i < 20; i++ {
		c.RecordTiming(15 * time.Second)
	}
	for i := 0; i < int(fee.DefaultConfig().AdaptThreshold); i++ {
		require.Equal(t, 100.0*0.5, c.PriorityFee(100.0))
		c.RecordOutcome(false)
	}
}

func TestTieredMultipliers(t *testing.T) {
	t.Parallel()
	cfg := fee.DefaultConfig()

	t.Run("struggling", func(t *testing.T) {
		t.Parallel()
		c := fee.New(cfg, zaptest.NewLogger(t))
		for i := 0; i < 10; i++ {
			c.RecordOutcome(false)
		}
		// successRate 0, congestion 0: max - 0.5.
		require.InDelta(t, 100.0*(cfg.MaxMultiplier-0.5), c.PriorityFee(100.0), 1e-9)
	})

	t.Run("moderate", func(t *testing.T) {
		t.Parallel()
		c := fee.New(cfg, zaptest.NewLogger(t))
		for i := 0; i < 3; i++ {
			c.RecordOutcome(true)
		}
		for i := 0; i < 7; i++ {
			c.RecordOutcome(false)
		}
		// successRate 0.3, congestion 0: base + 0.5.
		require.InDelta(t, 100.0*(cfg.BaseMultiplier+0.5), c.PriorityFee(100.0), 1e-9)
	})

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		c := fee.New(cfg, zaptest.NewLogger(t))
		for i := 0; i < 10; i++ {
			c.RecordOutcome(true)
		}
		require.InDelta(t, 100.0*cfg.BaseMultiplier, c.PriorityFee(100.0), 1e-9)
	})
}

func TestMultiplierNeverExceedsMax(t *testing.T) {
	t.Parallel()
	cfg := fee.DefaultConfig()
	c := fee.New(cfg, zaptest.NewLogger(t))
	rng := rand.New(rand.NewSource(42))

	const baseCost = 250.0
	for i := 0; i < 1000; i++ {
		c.RecordOutcome(rng.Intn(4) == 0)
		c.RecordTiming(time.Duration(rng.Intn(20)) * time.Second)
		got := c.PriorityFee(baseCost)
		require.LessOrEqual(t, got, baseCost*cfg.MaxMultiplier+1e-9)
	}
}

func TestCongestionCaps(t *testing.T) {
	t.Parallel()
	c := newController(t)

	for i := 0; i < 100; i++ {
		c.RecordTiming(13 * time.Second)
	}
	require.InDelta(t, 1.0, c.Statistics().Congestion, 1e-9)

	for i := 0; i < 100; i++ {
		c.RecordTiming(3 * time.Second)
	}
	require.InDelta(t, 0.0, c.Statistics().Congestion, 1e-9)

	for i := 0; i < 100; i++ {
		c.RecordTiming(10 * time.Second)
	}
	require.InDelta(t, 0.8, c.Statistics().Congestion, 1e-9)
}

func TestStatisticsEmptyHistory(t *testing.T) {
	t.Parallel()
	c := newController(t)
	stats := c.Statistics()
	require.Equal(t, fee.DefaultConfig().BaseMultiplier, stats.CurrentMultiplier)
	require.Equal(t, 0.5, stats.SuccessRate)
	require.Zero(t, stats.AvgFee)
	require.Zero(t, stats.MinFee)
	require.Zero(t, stats.MaxFee)
}

func TestStatisticsBoundedHistory(t *testing.T) {
	t.Parallel()
	c := newController(t)

	// All priced in the cold-start tier: fee = cost * 0.5.
	for cost := 1.0; cost <= 15.0; cost++ {
		c.PriorityFee(cost)
	}

	// Only the last 10 fees (costs 6..15) are retained.
	stats := c.Statistics()
	require.InDelta(t, 6.0*0.5, stats.MinFee, 1e-9)
	require.InDelta(t, 15.0*0.5, stats.MaxFee, 1e-9)
	require.InDelta(t, 10.5*0.5, stats.AvgFee, 1e-9)
	require.InDelta(t, 0.5, stats.CurrentMultiplier, 1e-9)
}
