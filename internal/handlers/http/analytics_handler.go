package http

import (
	"net/http"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/internal/core/services"
	"callscope/internal/infrastructure/middleware"
	"callscope/pkg/errors"
	"callscope/pkg/validation"

	"github.com/gin-gonic/gin"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

type AnalyticsHandler struct {
	analytics ports.AnalyticsService
	records   ports.CallRecordService
	alerts    ports.AlertService
	cluster   ports.ClusterService
}

func NewAnalyticsHandler(
	analytics ports.AnalyticsService,
	records ports.CallRecordService,
	alerts ports.AlertService,
) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		records:   records,
		alerts:    alerts,
	}
}

// WithCluster enables GET /analytics/cluster.
func (h *AnalyticsHandler) WithCluster(cluster ports.ClusterService) *AnalyticsHandler {
	h.cluster = cluster
	return h
}

// SetupRoutes registers the analytics API. When auth is nil the routes are
// open and clearing alerts needs no role.
func (h *AnalyticsHandler) SetupRoutes(router gin.IRouter, auth services.AuthService) {
	api := router.Group("/analytics")
	operatorOnly := []gin.HandlerFunc{h.ClearAlerts}
	if auth != nil {
		api.Use(middleware.AuthMiddleware(auth))
		operatorOnly = append([]gin.HandlerFunc{middleware.RequireRole(auth, services.RoleOperator)}, operatorOnly...)
	}
	{
		api.GET("/server", h.GetServerMetrics)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:roomId", h.GetRoom)
		api.GET("/rooms/:roomId/records", h.ListRoomRecords)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/realtime", h.GetRealtimeStats)
		api.GET("/records/:id", h.GetRecord)
		api.GET("/alerts", h.ListAlerts)
		api.DELETE("/alerts", operatorOnly...)
		if h.cluster != nil {
			api.GET("/cluster", h.ListInstances)
		}
	}
}

func (h *AnalyticsHandler) GetServerMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": h.analytics.GetGlobalMetrics(),
	})
}

func (h *AnalyticsHandler) ListRooms(c *gin.Context) {
	rooms := h.analytics.ListRoomAnalytics()
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *AnalyticsHandler) GetRoom(c *gin.Context) {
	roomID, ok := pathID(c, "roomId", "room_id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room": h.analytics.GetRoomAnalytics(domain.RoomID(roomID)),
	})
}

func (h *AnalyticsHandler) GetSession(c *gin.Context) {
	id, ok := pathID(c, "id", "session_id")
	if !ok {
		return
	}
	session, err := h.analytics.GetSessionAnalytics(domain.SessionID(id))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": session,
	})
}

func (h *AnalyticsHandler) GetRealtimeStats(c *gin.Context) {
	id, ok := pathID(c, "id", "session_id")
	if !ok {
		return
	}
	stats, err := h.analytics.GetRealtimeStats(domain.SessionID(id))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}

func (h *AnalyticsHandler) GetRecord(c *gin.Context) {
	id, ok := pathID(c, "id", "session_id")
	if !ok {
		return
	}
	record, err := h.records.GetRecord(c.Request.Context(), domain.SessionID(id))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record": record,
	})
}

func (h *AnalyticsHandler) ListRoomRecords(c *gin.Context) {
	roomID, ok := pathID(c, "roomId", "room_id")
	if !ok {
		return
	}
	limit, err := validation.ParseLimit(c.Query("limit"), defaultRecordLimit, maxRecordLimit)
	if err != nil {
		_ = c.Error(errors.InvalidInput(err.Error()))
		return
	}

	records, err := h.records.ListRoomRecords(c.Request.Context(), domain.RoomID(roomID), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if records == nil {
		records = []*domain.CallRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

func (h *AnalyticsHandler) ListAlerts(c *gin.Context) {
	alerts := h.alerts.Alerts()
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *AnalyticsHandler) ClearAlerts(c *gin.Context) {
	h.alerts.Clear()
	c.Status(http.StatusNoContent)
}

// pathID validates a path parameter, attaching an INVALID_INPUT error when it
// fails.
func pathID(c *gin.Context, param, field string) (string, bool) {
	value := c.Param(param)
	if err := validation.ValidateID(field, value); err != nil {
		_ = c.Error(errors.InvalidInput(err.Error()))
		return "", false
	}
	return value, true
}

func (h *AnalyticsHandler) ListInstances(c *gin.Context) {
	instances, err := h.cluster.Instances(c.Request.Context())
	if err != nil {
		_ = c.Error(errors.ServiceUnavailable(err))
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instances": instances,
		"count":     len(instances),
	})
}
