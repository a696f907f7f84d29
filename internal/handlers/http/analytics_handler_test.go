package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/services"
	"callscope/internal/infrastructure/middleware"
	"callscope/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockAnalyticsService struct {
	mock.Mock
}

func (m *MockAnalyticsService) GetSessionAnalytics(id domain.SessionID) (*domain.CallSession, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockAnalyticsService) GetRoomAnalytics(roomID domain.RoomID) domain.RoomAnalytics {
	return m.Called(roomID).Get(0).(domain.RoomAnalytics)
}

func (m *MockAnalyticsService) ListRoomAnalytics() []domain.RoomAnalytics {
	return m.Called().Get(0).([]domain.RoomAnalytics)
}

func (m *MockAnalyticsService) GetGlobalMetrics() domain.GlobalMetrics {
	return m.Called().Get(0).(domain.GlobalMetrics)
}

func (m *MockAnalyticsService) GetRealtimeStats(id domain.SessionID) (*domain.RealtimeStats, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RealtimeStats), args.Error(1)
}

type MockRecordService struct {
	mock.Mock
}

func (m *MockRecordService) GetRecord(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallRecord), args.Error(1)
}

func (m *MockRecordService) ListRoomRecords(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error) {
	args := m.Called(ctx, roomID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallRecord), args.Error(1)
}

type MockAlertService struct {
	mock.Mock
}

func (m *MockAlertService) Alerts() []domain.Alert {
	return m.Called().Get(0).([]domain.Alert)
}

func (m *MockAlertService) Clear() {
	m.Called()
}

type fixture struct {
	router    *gin.Engine
	analytics *MockAnalyticsService
	records   *MockRecordService
	alerts    *MockAlertService
}

func newFixture(auth services.AuthService) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		analytics: &MockAnalyticsService{},
		records:   &MockRecordService{},
		alerts:    &MockAlertService{},
	}
	f.router = gin.New()
	f.router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewAnalyticsHandler(f.analytics, f.records, f.alerts).SetupRoutes(f.router, auth)
	return f
}

func (f *fixture) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAnalyticsHandler_ServerMetrics(t *testing.T) {
	f := newFixture(nil)
	metrics := domain.NewGlobalMetrics()
	metrics.ActiveCalls = 3
	metrics.TotalCalls = 7
	f.analytics.On("GetGlobalMetrics").Return(metrics)

	w := f.do(http.MethodGet, "/analytics/server", "")
	require.Equal(t, http.StatusOK, w.Code)

	got := decode(t, w)["metrics"].(map[string]any)
	assert.EqualValues(t, 3, got["active_calls"])
	assert.EqualValues(t, 7, got["total_calls"])
}

func TestAnalyticsHandler_Rooms(t *testing.T) {
	f := newFixture(nil)
	f.analytics.On("ListRoomAnalytics").Return([]domain.RoomAnalytics{
		{RoomID: "room-1", ActiveParticipants: 2},
		{RoomID: "room-2", ActiveParticipants: 1},
	})
	f.analytics.On("GetRoomAnalytics", domain.RoomID("room-1")).
		Return(domain.RoomAnalytics{RoomID: "room-1", ActiveParticipants: 2, AverageConnectionQuality: 4})

	w := f.do(http.MethodGet, "/analytics/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = f.do(http.MethodGet, "/analytics/rooms/room-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	room := decode(t, w)["room"].(map[string]any)
	assert.EqualValues(t, 4, room["average_connection_quality"])

	w = f.do(http.MethodGet, "/analytics/rooms/bad%20room", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
}

func TestAnalyticsHandler_Sessions(t *testing.T) {
	f := newFixture(nil)
	session := domain.NewCallSession("room-1", "peer-a", "Ann", domain.Device{}, time.Unix(100, 0), 10)
	f.analytics.On("GetSessionAnalytics", session.SessionID).Return(session, nil)
	f.analytics.On("GetSessionAnalytics", domain.SessionID("room-1-ghost")).Return(nil, domain.ErrSessionNotFound)
	f.analytics.On("GetRealtimeStats", session.SessionID).Return(&domain.RealtimeStats{SessionID: session.SessionID}, nil)

	w := f.do(http.MethodGet, "/analytics/sessions/"+string(session.SessionID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"peer_id":"peer-a"`)

	w = f.do(http.MethodGet, "/analytics/sessions/room-1-ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])

	w = f.do(http.MethodGet, "/analytics/sessions/"+string(session.SessionID)+"/realtime", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	assert.Equal(t, string(session.SessionID), stats["session_id"])
}

func TestAnalyticsHandler_Records(t *testing.T) {
	f := newFixture(nil)
	record := &domain.CallRecord{SessionID: "room-1-peer-a", RoomID: "room-1"}
	f.records.On("GetRecord", mock.Anything, domain.SessionID("room-1-peer-a")).Return(record, nil)
	f.records.On("GetRecord", mock.Anything, domain.SessionID("missing")).Return(nil, domain.ErrRecordNotFound)
	f.records.On("ListRoomRecords", mock.Anything, domain.RoomID("room-1"), defaultRecordLimit).Return(nil, nil)
	f.records.On("ListRoomRecords", mock.Anything, domain.RoomID("room-1"), maxRecordLimit).
		Return([]*domain.CallRecord{record}, nil)

	w := f.do(http.MethodGet, "/analytics/records/room-1-peer-a", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/analytics/records/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/analytics/rooms/room-1/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
	assert.Contains(t, w.Body.String(), `"records":[]`)

	w = f.do(http.MethodGet, "/analytics/rooms/room-1/records?limit=100000", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = f.do(http.MethodGet, "/analytics/rooms/room-1/records?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.records.AssertExpectations(t)
}

func TestAnalyticsHandler_AlertsRequireOperatorToClear(t *testing.T) {
	auth := services.NewAuthService("secret", time.Minute, "callscope")
	f := newFixture(auth)
	f.alerts.On("Alerts").Return([]domain.Alert{{Type: domain.AlertHighPacketLoss, RoomID: "room-1"}})
	f.alerts.On("Clear").Return()

	viewer, err := auth.GenerateToken("u1", "ann", services.RoleViewer)
	require.NoError(t, err)
	operator, err := auth.GenerateToken("u2", "bob", services.RoleOperator)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/analytics/alerts", "").Code)

	w := f.do(http.MethodGet, "/analytics/alerts", viewer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodDelete, "/analytics/alerts", viewer).Code)
	f.alerts.AssertNotCalled(t, "Clear")

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/analytics/alerts", operator).Code)
	f.alerts.AssertNumberOfCalls(t, "Clear", 1)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := monitoring.NewHealthChecker()
	healthy := true
	checker.AddCheck("analytics", func(context.Context) error {
		if healthy {
			return nil
		}
		return services.ErrAnalyticsClosed
	}, time.Second)

	router := gin.New()
	NewHealthHandler(checker).SetupRoutes(router)
	router.GET("/metrics", MetricsHandler(prometheus.NewRegistry()))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/ready").Code)

	healthy = false
	w := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), monitoring.StatusUnhealthy)
	assert.Equal(t, http.StatusOK, get("/health").Code)

	assert.Equal(t, http.StatusOK, get("/metrics").Code)
}

type MockClusterService struct {
	mock.Mock
}

func (m *MockClusterService) Instances(ctx context.Context) ([]domain.InstanceInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.InstanceInfo), args.Error(1)
}

func TestAnalyticsHandler_Cluster(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/analytics/cluster", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "route is absent without a registry")

	cluster := &MockClusterService{}
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewAnalyticsHandler(f.analytics, f.records, f.alerts).WithCluster(cluster).SetupRoutes(router, nil)

	cluster.On("Instances", mock.Anything).Return([]domain.InstanceInfo{
		{InstanceID: "node-a", ActiveCalls: 2},
		{InstanceID: "node-b"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/analytics/cluster", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["count"])
	first := body["instances"].([]any)[0].(map[string]any)
	assert.Equal(t, "node-a", first["instance_id"])

	cluster.On("Instances", mock.Anything).Return(nil, assert.AnError).Once()
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analytics/cluster", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decode(t, w)["error"])
	cluster.AssertExpectations(t)
}
