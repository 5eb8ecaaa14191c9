package internal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/dcaladder/internal/metrics"
)

// Watch reports running deals whose loop has not ticked for StaleAfter,
// checking every WatchdogInterval until ctx is cancelled.
func (s *Supervisor) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale := s.Stale(s.now())
			for _, t := range stale {
				s.l.Warn("deal loop looks stuck",
					zap.String("deal_id", t.DealID),
					zap.String("bot_id", t.BotID),
					zap.String("pair", t.Pair.String()),
					zap.Duration("since_last_tick", s.now().Sub(lastSeen(t))))
			}
		}
	}
}

// Stale returns the running deals without a tick for StaleAfter at now.
// A deal that never ticked is measured from its start.
func (s *Supervisor) Stale(now time.Time) []DealTracker {
	var stale []DealTracker
	for _, t := range s.Active() {
		if now.Sub(lastSeen(t)) > s.cfg.StaleAfter {
			stale = append(stale, t)
		}
	}
	metrics.StaleDeals.Set(float64(len(stale)))

	return stale
}

func lastSeen(t DealTracker) time.Time {
	if t.LastTick.IsZero() {
		return t.StartedAt
	}

	return t.LastTick
}
