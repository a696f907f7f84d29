package ports

import (
	"context"

	"callscope/internal/core/domain"
)

// AnalyticsService is the query surface consumed by the HTTP API and the emitters.
type AnalyticsService interface {
	GetSessionAnalytics(id domain.SessionID) (*domain.CallSession, error)
	GetRoomAnalytics(roomID domain.RoomID) domain.RoomAnalytics
	ListRoomAnalytics() []domain.RoomAnalytics
	GetGlobalMetrics() domain.GlobalMetrics
	GetRealtimeStats(id domain.SessionID) (*domain.RealtimeStats, error)
}

type CallRecordService interface {
	GetRecord(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error)
	ListRoomRecords(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error)
}

type AlertService interface {
	Alerts() []domain.Alert
	Clear()
}

// ClusterService lists the live analytics instances sharing a Redis.
type ClusterService interface {
	Instances(ctx context.Context) ([]domain.InstanceInfo, error)
}
