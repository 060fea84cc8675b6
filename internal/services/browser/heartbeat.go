package browser

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
)

// startHeartbeat stamps the in-flight task at interval until the
// returned stop function is called. A failed stamp is logged and the
// next tick retries; the checker only rescues after the full staleness
// bound, so a single miss is harmless.
func startHeartbeat(ctx context.Context, interval time.Duration, logger arbor.ILogger, stamp func(context.Context) error) (stop func()) {
	beatCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	common.SafeGo(logger, "task-heartbeat", func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-beatCtx.Done():
				return
			case <-ticker.C:
				if err := stamp(beatCtx); err != nil && beatCtx.Err() == nil {
					logger.Warn().Err(err).Msg("Heartbeat update failed")
				}
			}
		}
	})

	return func() {
		cancel()
		wg.Wait()
	}
}
