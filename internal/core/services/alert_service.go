package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"

	"go.uber.org/zap"
)

const (
	alertDedupeWindow = time.Minute
	maxAlerts         = 100
)

func DefaultAlertThresholds() domain.AlertThresholds {
	return domain.AlertThresholds{
		HighPacketLoss:  5,
		LowQualityScore: 2,
		HighErrorRate:   10,
		LowFramerate:    15,
	}
}

// AlertService turns room snapshots and consumer drops into operator alerts.
// Alerts are kept newest first; an alert repeating the type, room and peer of
// one raised within the last minute is dropped.
type AlertService struct {
	analytics  ports.AnalyticsService
	thresholds domain.AlertThresholds
	logger     *zap.SugaredLogger
	now        func() time.Time

	mu     sync.Mutex
	alerts []domain.Alert
}

func NewAlertService(analytics ports.AnalyticsService, thresholds domain.AlertThresholds, logger *zap.SugaredLogger) *AlertService {
	return &AlertService{
		analytics:  analytics,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleEvent is meant to be subscribed to the event bus.
func (a *AlertService) HandleEvent(ev domain.Event) {
	switch ev.Name {
	case domain.RoomAnalyticsEvent:
		if room, ok := ev.Payload.(domain.RoomAnalytics); ok {
			a.Evaluate(room)
		}
	case domain.ConsumerProducerClosed:
		payload, _ := ev.Payload.(domain.EndpointClosedPayload)
		a.add(domain.Alert{
			Type:      domain.AlertConsumerDrop,
			Severity:  domain.SeverityHigh,
			Message:   fmt.Sprintf("Consumer %s dropped in room %s: producer %s closed", payload.EndpointID, ev.RoomID, payload.ProducerID),
			RoomID:    ev.RoomID,
			PeerID:    peerOf(ev.RoomID, ev.SessionID),
			Timestamp: a.now(),
		})
	}
}

// Evaluate checks a room snapshot against the thresholds and returns the
// alerts that were newly raised.
func (a *AlertService) Evaluate(room domain.RoomAnalytics) []domain.Alert {
	now := a.now()
	var raised []domain.Alert

	if n := len(room.RecentErrors); n > a.thresholds.HighErrorRate {
		raised = a.appendIfNew(raised, domain.Alert{
			Type:      domain.AlertHighErrorRate,
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("Room %s has %d recent errors", room.RoomID, n),
			RoomID:    room.RoomID,
			Timestamp: now,
		})
	}

	for _, sess := range room.Sessions {
		if !sess.IsActive {
			continue
		}
		name := sess.DisplayName
		if name == "" {
			name = string(sess.PeerID)
		}
		q := sess.ConnectionQuality

		if q.Score < a.thresholds.LowQualityScore {
			raised = a.appendIfNew(raised, domain.Alert{
				Type:      domain.AlertLowConnectionQuality,
				Severity:  domain.SeverityWarning,
				Message:   fmt.Sprintf("Peer %s has low connection quality (%.1f/5)", name, q.Score),
				RoomID:    room.RoomID,
				PeerID:    sess.PeerID,
				Timestamp: now,
			})
		}
		if q.PacketLoss > a.thresholds.HighPacketLoss {
			raised = a.appendIfNew(raised, domain.Alert{
				Type:      domain.AlertHighPacketLoss,
				Severity:  domain.SeverityWarning,
				Message:   fmt.Sprintf("Peer %s has high packet loss (%.1f%%)", name, q.PacketLoss),
				RoomID:    room.RoomID,
				PeerID:    sess.PeerID,
				Timestamp: now,
			})
		}
		if a.analytics == nil {
			continue
		}
		stats, err := a.analytics.GetRealtimeStats(sess.SessionID)
		if err != nil {
			continue
		}
		if fps := stats.VideoStats.Framerate; fps > 0 && fps < a.thresholds.LowFramerate {
			raised = a.appendIfNew(raised, domain.Alert{
				Type:      domain.AlertLowFramerate,
				Severity:  domain.SeverityWarning,
				Message:   fmt.Sprintf("Peer %s is sending video at %.0f fps", name, fps),
				RoomID:    room.RoomID,
				PeerID:    sess.PeerID,
				Timestamp: now,
			})
		}
	}
	return raised
}

func (a *AlertService) appendIfNew(raised []domain.Alert, alert domain.Alert) []domain.Alert {
	if a.add(alert) {
		return append(raised, alert)
	}
	return raised
}

func (a *AlertService) add(alert domain.Alert) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, existing := range a.alerts {
		if existing.Type == alert.Type &&
			existing.RoomID == alert.RoomID &&
			existing.PeerID == alert.PeerID &&
			alert.Timestamp.Sub(existing.Timestamp) < alertDedupeWindow {
			return false
		}
	}

	a.alerts = append([]domain.Alert{alert}, a.alerts...)
	if len(a.alerts) > maxAlerts {
		a.alerts = a.alerts[:maxAlerts]
	}
	a.logger.Warnw("Alert raised",
		"type", alert.Type,
		"room_id", alert.RoomID,
		"peer_id", alert.PeerID,
		"message", alert.Message,
	)
	return true
}

func (a *AlertService) Alerts() []domain.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Alert{}, a.alerts...)
}

func (a *AlertService) Clear() {
	a.mu.Lock()
	a.alerts = nil
	a.mu.Unlock()
}

// peerOf recovers the peer id from a session id built by domain.NewSessionID.
func peerOf(roomID domain.RoomID, sessionID domain.SessionID) domain.PeerID {
	peer, ok := strings.CutPrefix(string(sessionID), string(roomID)+"-")
	if !ok {
		return ""
	}
	return domain.PeerID(peer)
}

var _ ports.AlertService = (*AlertService)(nil)
