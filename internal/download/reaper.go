package download

import (
	"context"
	"time"
)

// RunReaper periodically frees busy sessions across all users whose last
// update is older than the staleness threshold. It applies the same predicate
// as the per-user reap at admission and is safe to run alongside live
// traffic: the underlying update only touches records still observed busy,
// and re-reaping an already-free record is a no-op. It returns when ctx is
// cancelled; an interval of zero or less disables the sweep.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			cutoff := now.Add(-m.staleAfter).Format(time.RFC3339)
			n, err := m.store.ReapAllStale(cutoff, now.Format(time.RFC3339))
			if err != nil {
				m.logger.Error("reaper sweep", "err", err)
				continue
			}
			if n > 0 {
				m.logger.Info("reclaimed stale downloads", "count", n)
			}
		}
	}
}
