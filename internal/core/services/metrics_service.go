package services

import (
	"context"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"

	"go.uber.org/zap"
)

// MetricsService periodically publishes the global rollup and one snapshot
// per room that still holds a retained session.
type MetricsService struct {
	analytics      ports.AnalyticsService
	publisher      ports.EventPublisher
	logger         *zap.SugaredLogger
	globalInterval time.Duration
	roomInterval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMetricsService(analytics ports.AnalyticsService, publisher ports.EventPublisher, logger *zap.SugaredLogger, globalInterval, roomInterval time.Duration) *MetricsService {
	return &MetricsService{
		analytics:      analytics,
		publisher:      publisher,
		logger:         logger,
		globalInterval: globalInterval,
		roomInterval:   roomInterval,
	}
}

// Start launches both emit loops. Calling Start on a running service is a no-op.
func (m *MetricsService) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(2)
	go m.loop(ctx, m.globalInterval, m.EmitGlobal)
	go m.loop(ctx, m.roomInterval, m.EmitRooms)

	m.logger.Infow("Metrics emitter started",
		"global_interval", m.globalInterval,
		"room_interval", m.roomInterval,
	)
}

func (m *MetricsService) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Infow("Metrics emitter stopped")
}

func (m *MetricsService) loop(ctx context.Context, interval time.Duration, emit func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeEmit(emit)
		}
	}
}

func (m *MetricsService) safeEmit(emit func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("Recovered panic while emitting metrics",
				"panic", r,
			)
		}
	}()
	emit()
}

func (m *MetricsService) EmitGlobal() {
	snapshot := m.analytics.GetGlobalMetrics()
	m.publisher.Publish(domain.Event{
		Name:      domain.GlobalMetricsEvent,
		Timestamp: snapshot.Timestamp,
		Payload:   snapshot,
	})
}

func (m *MetricsService) EmitRooms() {
	for _, room := range m.analytics.ListRoomAnalytics() {
		m.publisher.Publish(domain.Event{
			Name:      domain.RoomAnalyticsEvent,
			Timestamp: room.Timestamp,
			RoomID:    room.RoomID,
			Payload:   room,
		})
	}
}
