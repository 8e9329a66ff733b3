package uploads

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor sweeps expired uploads once immediately and then every interval
// until ctx is done.
func RunJanitor(ctx context.Context, sweeper Sweeper, maxAge, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sweep := func() {
		removed, err := sweeper.Sweep(ctx, maxAge)
		if err != nil {
			logger.Warn("upload sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("upload sweep removed expired files",
				zap.Int("removed", removed),
				zap.Duration("max_age", maxAge),
			)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
