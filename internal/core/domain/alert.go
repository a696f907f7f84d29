package domain

import "time"

type AlertType string

const (
	AlertHighErrorRate        AlertType = "HIGH_ERROR_RATE"
	AlertLowConnectionQuality AlertType = "LOW_CONNECTION_QUALITY"
	AlertHighPacketLoss       AlertType = "HIGH_PACKET_LOSS"
	AlertLowFramerate         AlertType = "LOW_FRAMERATE"
	AlertConsumerDrop         AlertType = "CONSUMER_DROP"
)

type AlertSeverity string

const (
	SeverityWarning AlertSeverity = "warning"
	SeverityHigh    AlertSeverity = "high"
)

type Alert struct {
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	RoomID    RoomID        `json:"room_id"`
	PeerID    PeerID        `json:"peer_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type AlertThresholds struct {
	HighPacketLoss  float64 `yaml:"high_packet_loss"`
	LowQualityScore float64 `yaml:"low_quality_score"`
	HighErrorRate   int     `yaml:"high_error_rate"`
	LowFramerate    float64 `yaml:"low_framerate"`
}
