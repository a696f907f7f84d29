package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"callscope/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockCallRecordRepository struct {
	mock.Mock
}

func (m *MockCallRecordRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockCallRecordRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallRecord), args.Error(1)
}

func (m *MockCallRecordRepository) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error) {
	args := m.Called(ctx, roomID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallRecord), args.Error(1)
}

func endedSession(t *testing.T) *domain.CallSession {
	t.Helper()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := domain.NewCallSession("room1", "peerA", "Alice", domain.Device{Name: "chrome"}, start, 50)
	s.Producers["p1"] = domain.NewProducerRecord("p1", domain.KindAudio, start)
	s.Events.Append(domain.SessionEvent{Type: domain.EventError, ErrorKind: domain.ErrorTransportFailure})
	s.Events.Append(domain.SessionEvent{Type: domain.EventError, ErrorKind: domain.ErrorTransportFailure})
	require.True(t, s.End(start.Add(90*time.Second)))
	return s
}

func TestArchiveService_HandleEventSavesRecord(t *testing.T) {
	repo := new(MockCallRecordRepository)
	archive := NewArchiveService(repo, zaptest.NewLogger(t).Sugar(), time.Second)

	repo.On("Save", mock.Anything, mock.MatchedBy(func(rec *domain.CallRecord) bool {
		return rec.SessionID == "room1-peerA" &&
			rec.Duration == 90*time.Second &&
			rec.ProducerCount == 1 &&
			rec.Errors[domain.ErrorTransportFailure] == 2
	})).Return(nil).Once()

	session := endedSession(t)
	archive.HandleEvent(domain.Event{Name: domain.CallSessionEnded, Payload: session})
	archive.HandleEvent(domain.Event{Name: domain.CallSessionStarted, Payload: session})
	archive.HandleEvent(domain.Event{Name: domain.CallSessionEnded, Payload: "not a session"})

	repo.AssertExpectations(t)
}

func TestArchiveService_ArchiveRejectsActiveSession(t *testing.T) {
	repo := new(MockCallRecordRepository)
	archive := NewArchiveService(repo, zaptest.NewLogger(t).Sugar(), time.Second)

	active := domain.NewCallSession("room1", "peerA", "Alice", domain.Device{}, time.Now(), 10)
	err := archive.Archive(context.Background(), active)

	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestArchiveService_SaveFailureIsWrapped(t *testing.T) {
	repo := new(MockCallRecordRepository)
	archive := NewArchiveService(repo, zaptest.NewLogger(t).Sugar(), time.Second)
	storeErr := errors.New("redis down")
	repo.On("Save", mock.Anything, mock.Anything).Return(storeErr)

	err := archive.Archive(context.Background(), endedSession(t))

	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "room1-peerA")
}

func TestArchiveService_GetRecord(t *testing.T) {
	repo := new(MockCallRecordRepository)
	archive := NewArchiveService(repo, zaptest.NewLogger(t).Sugar(), time.Second)
	ctx := context.Background()

	record := &domain.CallRecord{SessionID: "room1-peerA"}
	repo.On("GetByID", ctx, domain.SessionID("room1-peerA")).Return(record, nil)
	repo.On("GetByID", ctx, domain.SessionID("missing")).Return(nil, domain.ErrRecordNotFound)
	repo.On("GetByID", ctx, domain.SessionID("broken")).Return(nil, errors.New("timeout"))

	got, err := archive.GetRecord(ctx, "room1-peerA")
	require.NoError(t, err)
	assert.Same(t, record, got)

	_, err = archive.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	_, err = archive.GetRecord(ctx, "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestArchiveService_ListRoomRecordsDefaultsLimit(t *testing.T) {
	repo := new(MockCallRecordRepository)
	archive := NewArchiveService(repo, zaptest.NewLogger(t).Sugar(), time.Second)
	ctx := context.Background()

	records := []*domain.CallRecord{{SessionID: "room1-peerA"}}
	repo.On("ListByRoom", ctx, domain.RoomID("room1"), 50).Return(records, nil).Once()
	repo.On("ListByRoom", ctx, domain.RoomID("room1"), 5).Return(records, nil).Once()

	got, err := archive.ListRoomRecords(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = archive.ListRoomRecords(ctx, "room1", 5)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
