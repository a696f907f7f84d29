package services

import (
	"context"
	"testing"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetricsService_EmitGlobal(t *testing.T) {
	env := newTestEnv(t, DefaultAnalyticsOptions())
	startAlice(t, env)
	out := &testutils.RecordingPublisher{}
	metrics := NewMetricsService(env.svc, out, zaptest.NewLogger(t).Sugar(), time.Hour, time.Hour)

	metrics.EmitGlobal()

	events := out.Named(domain.GlobalMetricsEvent)
	require.Len(t, events, 1)
	snapshot := events[0].Payload.(domain.GlobalMetrics)
	assert.Equal(t, int64(1), snapshot.ActiveCalls)
	assert.Equal(t, env.clock.Now(), snapshot.Timestamp)
}

func TestMetricsService_EmitRoomsPerRetainedRoom(t *testing.T) {
	env := newTestEnv(t, DefaultAnalyticsOptions())
	ctx := context.Background()
	_, err := env.svc.StartSession(ctx, "room1", "peerA", "Alice", domain.Device{})
	require.NoError(t, err)
	_, err = env.svc.StartSession(ctx, "room2", "peerB", "Bob", domain.Device{})
	require.NoError(t, err)
	_, err = env.svc.EndSession(ctx, "room2", "peerB")
	require.NoError(t, err)

	out := &testutils.RecordingPublisher{}
	metrics := NewMetricsService(env.svc, out, zaptest.NewLogger(t).Sugar(), time.Hour, time.Hour)
	metrics.EmitRooms()

	events := out.Named(domain.RoomAnalyticsEvent)
	require.Len(t, events, 2)
	assert.Equal(t, domain.RoomID("room1"), events[0].RoomID)
	assert.Equal(t, domain.RoomID("room2"), events[1].RoomID)
	room2 := events[1].Payload.(domain.RoomAnalytics)
	assert.Equal(t, 0, room2.ActiveParticipants)
	assert.Equal(t, 1, room2.TotalParticipants)
}

func TestMetricsService_StartStop(t *testing.T) {
	env := newTestEnv(t, DefaultAnalyticsOptions())
	startAlice(t, env)
	out := &testutils.RecordingPublisher{}
	metrics := NewMetricsService(env.svc, out, zaptest.NewLogger(t).Sugar(), 5*time.Millisecond, 5*time.Millisecond)

	metrics.Start(context.Background())
	metrics.Start(context.Background())

	assert.Eventually(t, func() bool {
		return out.Count(domain.GlobalMetricsEvent) >= 2 && out.Count(domain.RoomAnalyticsEvent) >= 2
	}, waitFor, tick)

	metrics.Stop()
	count := len(out.Events())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, len(out.Events()))

	metrics.Stop()
}

type explodingPublisher struct{}

func (explodingPublisher) Publish(domain.Event) { panic("sink closed") }

func TestMetricsService_EmitPanicIsRecovered(t *testing.T) {
	env := newTestEnv(t, DefaultAnalyticsOptions())
	metrics := NewMetricsService(env.svc, explodingPublisher{}, zaptest.NewLogger(t).Sugar(), time.Hour, time.Hour)

	assert.NotPanics(t, func() {
		metrics.safeEmit(metrics.EmitGlobal)
	})
}
