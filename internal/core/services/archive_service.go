package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"

	"go.uber.org/zap"
)

// ArchiveService persists a summary of every ended session so that it
// outlives the in-memory retention window.
type ArchiveService struct {
	repo        ports.CallRecordRepository
	logger      *zap.SugaredLogger
	saveTimeout time.Duration
	now         func() time.Time
}

func NewArchiveService(repo ports.CallRecordRepository, logger *zap.SugaredLogger, saveTimeout time.Duration) *ArchiveService {
	return &ArchiveService{
		repo:        repo,
		logger:      logger,
		saveTimeout: saveTimeout,
		now:         time.Now,
	}
}

// HandleEvent archives the session carried by callSessionEnded events.
func (a *ArchiveService) HandleEvent(ev domain.Event) {
	if ev.Name != domain.CallSessionEnded {
		return
	}
	session, ok := ev.Payload.(*domain.CallSession)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout)
	defer cancel()
	if err := a.Archive(ctx, session); err != nil {
		a.logger.Errorw("Failed to archive call session",
			"session_id", session.SessionID,
			"error", err,
		)
	}
}

func (a *ArchiveService) Archive(ctx context.Context, session *domain.CallSession) error {
	record := domain.NewCallRecord(session, a.now())
	if record == nil {
		return fmt.Errorf("archive %s: %w", session.SessionID, domain.ErrSessionNotFound)
	}
	if err := a.repo.Save(ctx, record); err != nil {
		return fmt.Errorf("archive %s: %w", session.SessionID, err)
	}
	a.logger.Debugw("Call session archived",
		"session_id", record.SessionID,
		"duration_ms", record.Duration.Milliseconds(),
	)
	return nil
}

func (a *ArchiveService) GetRecord(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	record, err := a.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get call record %s: %w", id, err)
	}
	return record, nil
}

func (a *ArchiveService) ListRoomRecords(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	records, err := a.repo.ListByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list call records for room %s: %w", roomID, err)
	}
	return records, nil
}

var _ ports.CallRecordService = (*ArchiveService)(nil)
