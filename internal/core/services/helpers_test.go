package services

import (
	"sync"
	"testing"
	"time"

	"callscope/internal/testutils"

	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fastOptions polls every few milliseconds so loop behaviour is observable in tests.
func fastOptions() AnalyticsOptions {
	opts := DefaultAnalyticsOptions()
	opts.ProducerPollInterval = 5 * time.Millisecond
	opts.ConsumerPollInterval = 5 * time.Millisecond
	opts.TransportPollInterval = 5 * time.Millisecond
	return opts
}

type testEnv struct {
	svc   *AnalyticsService
	pub   *testutils.RecordingPublisher
	clock *fakeClock
}

func newTestEnv(t *testing.T, opts AnalyticsOptions) *testEnv {
	t.Helper()
	clock := newFakeClock()
	pub := &testutils.RecordingPublisher{}
	svc := NewAnalyticsService(pub, zaptest.NewLogger(t).Sugar(),
		WithClock(clock.Now),
		WithOptions(opts),
	)
	t.Cleanup(svc.Close)
	return &testEnv{svc: svc, pub: pub, clock: clock}
}

const (
	waitFor = time.Second
	tick    = 2 * time.Millisecond
)
