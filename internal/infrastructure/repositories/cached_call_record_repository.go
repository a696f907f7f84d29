package repositories

import (
	"context"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/pkg/cache"
)

const maxCachedRecords = 10000

// CachedCallRecordRepository serves GetByID from a TTL cache. Records are
// immutable once archived, so Save simply refreshes the entry. Room listings
// always go to the underlying repository.
type CachedCallRecordRepository struct {
	repo    ports.CallRecordRepository
	records *cache.Cache[domain.SessionID, *domain.CallRecord]
}

func NewCachedCallRecordRepository(repo ports.CallRecordRepository, ttl time.Duration) *CachedCallRecordRepository {
	return &CachedCallRecordRepository{
		repo:    repo,
		records: cache.New(ttl, cache.WithMaxEntries[domain.SessionID, *domain.CallRecord](maxCachedRecords)),
	}
}

func (r *CachedCallRecordRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	if err := r.repo.Save(ctx, record); err != nil {
		r.records.Delete(record.SessionID)
		return err
	}
	c := *record
	r.records.Set(record.SessionID, &c)
	return nil
}

func (r *CachedCallRecordRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	record, err := r.records.GetOrLoad(ctx, id, func(ctx context.Context) (*domain.CallRecord, error) {
		return r.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c := *record
	return &c, nil
}

func (r *CachedCallRecordRepository) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error) {
	return r.repo.ListByRoom(ctx, roomID, limit)
}

// Close stops the cache janitor.
func (r *CachedCallRecordRepository) Close() {
	r.records.Stop()
}
