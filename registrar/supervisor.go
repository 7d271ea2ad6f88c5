package registrar

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tensorwatch/subreg/logging"
)

// supervise runs the progress loop until all lanes finish or ctx is
// cancelled. Each sweep re-polls the chain for unconfirmed credentials to
// pick up registrations completed by concurrent processes, logs a status
// block, and periodically pushes a summary through the notifier on an
// explicit next-due timestamp.
func (r *Registrar) supervise(ctx context.Context, credentials []Credential, start time.Time, lanesDone <-chan struct{}) {
	logger := logging.FromContext(ctx).Named("supervisor")
	nextNotifyAt := start.Add(r.cfg.NotifyInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-lanesDone:
			return
		case <-time.After(r.cfg.SweepInterval):
		}

		r.sweep(ctx, logger, credentials)

		confirmed := 0
		r.mu.Lock()
		for _, cred := range credentials {
			if _, ok := r.confirmed[cred]; ok {
				confirmed++
			}
		}
		r.mu.Unlock()

		elapsed := time.Since(start).Round(time.Second)
		stats := r.fees.Statistics()
		height, state, known := r.feed.Current()

		fields := []zap.Field{
			zap.Int("confirmed", confirmed),
			zap.Int("total", len(credentials)),
			zap.Int("remaining", len(credentials)-confirmed),
			zap.Duration("elapsed", elapsed),
			zap.Float64("success_rate", stats.SuccessRate),
			zap.Float64("fee_multiplier", stats.CurrentMultiplier),
		}
		if known {
			fields = append(fields, zap.Uint64("block", height), zap.String("window", state.Status))
		} else {
			fields = append(fields, zap.String("window", state.Status))
		}
		logger.Info("registration status", fields...)

		if r.notifier != nil && !time.Now().Before(nextNotifyAt) {
			nextNotifyAt = nextNotifyAt.Add(r.cfg.NotifyInterval)
			blockLine := "unknown"
			if known {
				blockLine = fmt.Sprintf("`%d` - %s", height, state.Status)
			}
			r.notify(ctx, fmt.Sprintf(
				"*Registration Status Update*\n"+
					"• Block: %s\n"+
					"• Progress: `%d/%d` registered\n"+
					"• Running for: `%s`\n"+
					"• Success rate: `%.1f%%`",
				blockLine, confirmed, len(credentials), elapsed, stats.SuccessRate*100))
		}
	}
}

// sweep queries registration status for every unconfirmed credential.
// Errors are logged and skipped; the next sweep retries.
func (r *Registrar) sweep(ctx context.Context, logger *zap.Logger, credentials []Credential) {
	for _, cred := range credentials {
		if ctx.Err() != nil {
			return
		}
		if r.isConfirmed(cred) {
			continue
		}
		registered, err := r.chain.IsRegistered(ctx, r.cfg.NetUID, cred)
		if err != nil {
			logger.Debug("registration status check failed",
				zap.Stringer("wallet", cred), zap.Error(err))
			continue
		}
		if registered {
			logger.Info("confirmed registration", zap.Stringer("wallet", cred))
			r.markConfirmed(ctx, cred)
		}
	}
}
