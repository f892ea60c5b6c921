package tracker

import (
	"context"
	"time"

	"github.com/anacrolix/log"

	"github.com/dannyzb/p2pfabric/config"
)

// runReaper evicts every record that has exceeded config.PeerTimeout since
// its last_seen, once per config.CleanupInterval, until ctx is canceled.
func runReaper(ctx context.Context, table *Table, metrics *Metrics, logger log.Logger) {
	ticker := time.NewTicker(config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := table.ReapStale(time.Now(), config.PeerTimeout)
			if len(evicted) == 0 {
				continue
			}
			metrics.Evictions.Add(float64(len(evicted)))
			for _, id := range evicted {
				logger.Levelf(log.Info, "removed by timeout: %s", id)
			}
			logger.Levelf(log.Info, "active peers after cleanup: %d", table.Len())
			dumpTable(logger, table)
		}
	}
}
