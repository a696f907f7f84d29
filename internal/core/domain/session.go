package domain

import (
	"time"
)

type SessionID string
type RoomID string
type PeerID string
type EndpointID string

// NewSessionID builds the composite identity of a participant's membership in a room.
func NewSessionID(roomID RoomID, peerID PeerID) SessionID {
	return SessionID(string(roomID) + "-" + string(peerID))
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// DefaultQualityScore is the neutral score a session starts with and falls
// back to when none of its consumers has reported a score yet.
const DefaultQualityScore = 5.0

type Device struct {
	Flag    string `json:"flag,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

type CallSession struct {
	SessionID   SessionID                       `json:"session_id"`
	RoomID      RoomID                          `json:"room_id"`
	PeerID      PeerID                          `json:"peer_id"`
	DisplayName string                          `json:"display_name"`
	Device      Device                          `json:"device"`
	StartTime   time.Time                       `json:"start_time"`
	EndTime     *time.Time                      `json:"end_time,omitempty"`
	Duration    time.Duration                   `json:"duration"`
	Producers   map[EndpointID]*ProducerRecord  `json:"producers"`
	Consumers   map[EndpointID]*ConsumerRecord  `json:"consumers"`
	Transports  map[EndpointID]*TransportRecord `json:"transports"`
	Events      *EventLog                       `json:"events"`
	Stats       SessionStats                    `json:"stats"`
}

type SessionStats struct {
	Audio             AudioStats        `json:"audio_stats"`
	Video             VideoStats        `json:"video_stats"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`
}

type AudioStats struct {
	PacketsLost     uint64  `json:"packets_lost"`
	PacketsReceived uint64  `json:"packets_received"`
	PacketsSent     uint64  `json:"packets_sent"`
	BytesReceived   uint64  `json:"bytes_received"`
	BytesSent       uint64  `json:"bytes_sent"`
	AudioLevel      float64 `json:"audio_level"`
	Jitter          float64 `json:"jitter"`
	Score           float64 `json:"score"`
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type VideoStats struct {
	PacketsLost      uint64     `json:"packets_lost"`
	PacketsReceived  uint64     `json:"packets_received"`
	PacketsSent      uint64     `json:"packets_sent"`
	BytesReceived    uint64     `json:"bytes_received"`
	BytesSent        uint64     `json:"bytes_sent"`
	Framerate        float64    `json:"framerate"`
	Resolution       Resolution `json:"resolution"`
	KeyFramesDecoded uint64     `json:"key_frames_decoded"`
	Score            float64    `json:"score"`
}

// ConnectionQuality is the derived health of a session. Score is kept in [1,5].
type ConnectionQuality struct {
	Score      float64       `json:"score"`
	RTT        time.Duration `json:"rtt"`
	Bandwidth  uint64        `json:"bandwidth"`
	PacketLoss float64       `json:"packet_loss"`
}

// NewCallSession returns an active session with empty registries and a neutral score.
func NewCallSession(roomID RoomID, peerID PeerID, displayName string, device Device, now time.Time, eventLogSize int) *CallSession {
	return &CallSession{
		SessionID:   NewSessionID(roomID, peerID),
		RoomID:      roomID,
		PeerID:      peerID,
		DisplayName: displayName,
		Device:      device,
		StartTime:   now,
		Producers:   make(map[EndpointID]*ProducerRecord),
		Consumers:   make(map[EndpointID]*ConsumerRecord),
		Transports:  make(map[EndpointID]*TransportRecord),
		Events:      NewEventLog(eventLogSize),
		Stats: SessionStats{
			ConnectionQuality: ConnectionQuality{Score: DefaultQualityScore},
		},
	}
}

func (s *CallSession) IsActive() bool {
	return s.EndTime == nil
}

// End stamps the end time once. It returns false if the session had already ended.
func (s *CallSession) End(now time.Time) bool {
	if s.EndTime != nil {
		return false
	}
	end := now
	s.EndTime = &end
	s.Duration = end.Sub(s.StartTime)
	return true
}

// Elapsed is the final duration for ended sessions and the running duration otherwise.
func (s *CallSession) Elapsed(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.Duration
	}
	return now.Sub(s.StartTime)
}

// Clone returns a deep copy that shares no mutable containers with s.
func (s *CallSession) Clone() *CallSession {
	c := *s
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	c.Producers = make(map[EndpointID]*ProducerRecord, len(s.Producers))
	for id, p := range s.Producers {
		c.Producers[id] = p.Clone()
	}
	c.Consumers = make(map[EndpointID]*ConsumerRecord, len(s.Consumers))
	for id, cr := range s.Consumers {
		c.Consumers[id] = cr.Clone()
	}
	c.Transports = make(map[EndpointID]*TransportRecord, len(s.Transports))
	for id, t := range s.Transports {
		c.Transports[id] = t.Clone()
	}
	c.Events = s.Events.CloneWith(SessionEvent.Clone)
	return &c
}
