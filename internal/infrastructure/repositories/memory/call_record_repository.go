package memory

import (
	"context"
	"sort"
	"sync"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
)

// MemoryCallRecordRepository keeps records for the life of the process.
// Records are copied on the way in and out.
type MemoryCallRecordRepository struct {
	records map[domain.SessionID]*domain.CallRecord
	mu      sync.RWMutex
}

var _ ports.CallRecordRepository = (*MemoryCallRecordRepository)(nil)

func NewMemoryCallRecordRepository() *MemoryCallRecordRepository {
	return &MemoryCallRecordRepository{
		records: make(map[domain.SessionID]*domain.CallRecord),
	}
}

func (r *MemoryCallRecordRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.SessionID] = copyRecord(record)
	return nil
}

func (r *MemoryCallRecordRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, domain.ErrRecordNotFound
	}
	return copyRecord(record), nil
}

// ListByRoom returns the room's records, most recently ended first.
func (r *MemoryCallRecordRepository) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*domain.CallRecord
	for _, record := range r.records {
		if record.RoomID == roomID {
			records = append(records, copyRecord(record))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].EndTime.After(records[j].EndTime)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Snapshot returns a copy of every record, oldest first.
func (r *MemoryCallRecordRepository) Snapshot() []*domain.CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*domain.CallRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, copyRecord(record))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].EndTime.Before(records[j].EndTime)
	})
	return records
}

// Restore loads records that are not already present and returns how many
// were added. Existing records win over restored ones.
func (r *MemoryCallRecordRepository) Restore(records []*domain.CallRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, record := range records {
		if record == nil || record.SessionID == "" {
			continue
		}
		if _, exists := r.records[record.SessionID]; exists {
			continue
		}
		r.records[record.SessionID] = copyRecord(record)
		added++
	}
	return added
}

func copyRecord(record *domain.CallRecord) *domain.CallRecord {
	c := *record
	if record.Errors != nil {
		c.Errors = make(map[domain.ErrorKind]int, len(record.Errors))
		for k, v := range record.Errors {
			c.Errors[k] = v
		}
	}
	return &c
}
