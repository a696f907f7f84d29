package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"callscope/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
)

type fakeEngine struct{ err error }

func (f fakeEngine) Ready(context.Context) error { return f.err }

type fakeArchive struct{ state circuitbreaker.State }

func (f fakeArchive) BreakerState() circuitbreaker.State { return f.state }

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddAnalyticsCheck(fakeEngine{}, time.Second)
	h.AddArchiveCheck(fakeArchive{state: circuitbreaker.StateHalfOpen})

	status := h.CheckAll(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, map[string]string{"analytics": "healthy", "archive": "healthy"}, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_ReportsFailures(t *testing.T) {
	h := NewHealthChecker()
	h.AddAnalyticsCheck(fakeEngine{err: errors.New("analytics service closed")}, time.Second)
	h.AddArchiveCheck(fakeArchive{state: circuitbreaker.StateOpen})
	h.AddCheck("panics", func(context.Context) error { panic("boom") }, 0)

	status := h.CheckAll(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "analytics service closed", status.Checks["analytics"])
	assert.Equal(t, "archive circuit breaker open", status.Checks["archive"])
	assert.Equal(t, "check panicked", status.Checks["panics"])
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}
