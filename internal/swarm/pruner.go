package swarm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type expirer interface {
	PruneExpired(now time.Time) []Session
}

// Pruner periodically ends swarm sessions past the retention window.
type Pruner struct {
	publisher expirer
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewPruner builds a pruner sweeping every interval.
func NewPruner(publisher expirer, interval time.Duration, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{publisher: publisher, interval: interval, now: time.Now, logger: logger}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Sweep prunes once and returns the number of sessions ended.
func (p *Pruner) Sweep() int {
	pruned := p.publisher.PruneExpired(p.now())
	if len(pruned) > 0 {
		ids := make([]int64, 0, len(pruned))
		for _, s := range pruned {
			ids = append(ids, s.TrackID)
		}
		p.logger.Info("pruned expired swarm sessions", zap.Int("count", len(pruned)), zap.Int64s("track_ids", ids))
	}
	return len(pruned)
}
