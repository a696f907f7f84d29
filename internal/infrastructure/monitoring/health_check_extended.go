package monitoring

import (
	"context"
	"fmt"
	"time"

	"callscope/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddAnalyticsCheck fails once the analytics engine has been closed.
func (h *HealthChecker) AddAnalyticsCheck(engine interface{ Ready(context.Context) error }, timeout time.Duration) {
	h.AddCheck("analytics", engine.Ready, timeout)
}

// AddArchiveCheck fails while the archive circuit breaker is open. A
// half-open breaker is still reported healthy.
func (h *HealthChecker) AddArchiveCheck(archive interface{ BreakerState() circuitbreaker.State }) {
	h.AddCheck("archive", func(ctx context.Context) error {
		if state := archive.BreakerState(); state == circuitbreaker.StateOpen {
			return fmt.Errorf("archive circuit breaker %s", state)
		}
		return nil
	}, 0)
}
