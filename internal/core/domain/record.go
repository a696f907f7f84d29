package domain

import "time"

// CallRecord is the persisted summary of an ended session.
type CallRecord struct {
	SessionID         SessionID         `json:"session_id"`
	RoomID            RoomID            `json:"room_id"`
	PeerID            PeerID            `json:"peer_id"`
	DisplayName       string            `json:"display_name"`
	Device            Device            `json:"device"`
	StartTime         time.Time         `json:"start_time"`
	EndTime           time.Time         `json:"end_time"`
	Duration          time.Duration     `json:"duration"`
	ProducerCount     int               `json:"producer_count"`
	ConsumerCount     int               `json:"consumer_count"`
	TransportCount    int               `json:"transport_count"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`
	Audio             AudioStats        `json:"audio_stats"`
	Video             VideoStats        `json:"video_stats"`
	Errors            map[ErrorKind]int `json:"errors,omitempty"`
	ArchivedAt        time.Time         `json:"archived_at"`
}

// NewCallRecord summarises an ended session. It returns nil for active sessions.
func NewCallRecord(s *CallSession, now time.Time) *CallRecord {
	if s.EndTime == nil {
		return nil
	}
	rec := &CallRecord{
		SessionID:         s.SessionID,
		RoomID:            s.RoomID,
		PeerID:            s.PeerID,
		DisplayName:       s.DisplayName,
		Device:            s.Device,
		StartTime:         s.StartTime,
		EndTime:           *s.EndTime,
		Duration:          s.Duration,
		ProducerCount:     len(s.Producers),
		ConsumerCount:     len(s.Consumers),
		TransportCount:    len(s.Transports),
		ConnectionQuality: s.Stats.ConnectionQuality,
		Audio:             s.Stats.Audio,
		Video:             s.Stats.Video,
		ArchivedAt:        now,
	}
	for _, ev := range s.Events.Items() {
		if ev.Type != EventError {
			continue
		}
		if rec.Errors == nil {
			rec.Errors = make(map[ErrorKind]int)
		}
		rec.Errors[ev.ErrorKind]++
	}
	return rec
}
