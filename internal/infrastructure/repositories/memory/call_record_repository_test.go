package memory

import (
	"context"
	"testing"
	"time"

	"callscope/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id domain.SessionID, room domain.RoomID, end time.Time) *domain.CallRecord {
	return &domain.CallRecord{
		SessionID: id,
		RoomID:    room,
		EndTime:   end,
		Errors:    map[domain.ErrorKind]int{domain.ErrorTransportFailure: 1},
	}
}

func TestMemoryCallRecordRepository_SaveAndGet(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()
	rec := record("room1-peerA", "room1", time.Now())

	require.NoError(t, repo.Save(ctx, rec))
	rec.Errors[domain.ErrorTransportFailure] = 99

	got, err := repo.GetByID(ctx, "room1-peerA")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Errors[domain.ErrorTransportFailure])

	got.RoomID = "mutated"
	again, err := repo.GetByID(ctx, "room1-peerA")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("room1"), again.RoomID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestMemoryCallRecordRepository_ListByRoom(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, record("room1-a", "room1", base)))
	require.NoError(t, repo.Save(ctx, record("room1-b", "room1", base.Add(2*time.Minute))))
	require.NoError(t, repo.Save(ctx, record("room1-c", "room1", base.Add(time.Minute))))
	require.NoError(t, repo.Save(ctx, record("room2-a", "room2", base)))

	all, err := repo.ListByRoom(ctx, "room1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.SessionID("room1-b"), all[0].SessionID)
	assert.Equal(t, domain.SessionID("room1-c"), all[1].SessionID)
	assert.Equal(t, domain.SessionID("room1-a"), all[2].SessionID)

	limited, err := repo.ListByRoom(ctx, "room1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repo.ListByRoom(ctx, "room3", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryCallRecordRepository_SnapshotRestore(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, record("room1-b", "room1", base.Add(time.Minute))))
	require.NoError(t, repo.Save(ctx, record("room1-a", "room1", base)))

	snapshot := repo.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, domain.SessionID("room1-a"), snapshot[0].SessionID)

	restored := NewMemoryCallRecordRepository()
	require.NoError(t, restored.Save(ctx, record("room1-b", "room9", base)))

	added := restored.Restore(append(snapshot, nil, &domain.CallRecord{}))
	assert.Equal(t, 1, added)

	kept, err := restored.GetByID(ctx, "room1-b")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("room9"), kept.RoomID, "existing records win")

	_, err = restored.GetByID(ctx, "room1-a")
	assert.NoError(t, err)
}
