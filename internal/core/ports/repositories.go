package ports

import (
	"context"

	"callscope/internal/core/domain"
)

// CallRecordRepository persists summaries of ended sessions beyond the
// in-memory retention window.
type CallRecordRepository interface {
	Save(ctx context.Context, record *domain.CallRecord) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error)
	ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error)
}
