package domain

import "time"

// GlobalMetrics is the process-wide aggregate. Uptime and Timestamp are only
// filled on snapshots.
type GlobalMetrics struct {
	TotalCalls           int64               `json:"total_calls"`
	ActiveCalls          int64               `json:"active_calls"`
	TotalParticipants    int64               `json:"total_participants"`
	AverageCallDuration  time.Duration       `json:"average_call_duration"`
	TotalDataTransferred uint64              `json:"total_data_transferred"`
	Errors               map[ErrorKind]int64 `json:"errors"`
	Timestamp            time.Time           `json:"timestamp"`
	Uptime               time.Duration       `json:"uptime"`
}

func NewGlobalMetrics() GlobalMetrics {
	errs := make(map[ErrorKind]int64, len(ErrorKinds))
	for _, k := range ErrorKinds {
		errs[k] = 0
	}
	return GlobalMetrics{Errors: errs}
}

func (g GlobalMetrics) Clone() GlobalMetrics {
	errs := make(map[ErrorKind]int64, len(g.Errors))
	for k, v := range g.Errors {
		errs[k] = v
	}
	g.Errors = errs
	return g
}

type RoomSessionSummary struct {
	SessionID         SessionID         `json:"session_id"`
	PeerID            PeerID            `json:"peer_id"`
	DisplayName       string            `json:"display_name"`
	StartTime         time.Time         `json:"start_time"`
	Duration          time.Duration     `json:"duration"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`
	IsActive          bool              `json:"is_active"`
}

type RoomAnalytics struct {
	RoomID                   RoomID               `json:"room_id"`
	ActiveParticipants       int                  `json:"active_participants"`
	TotalParticipants        int                  `json:"total_participants"`
	AverageConnectionQuality float64              `json:"average_connection_quality"`
	Sessions                 []RoomSessionSummary `json:"sessions"`
	RecentErrors             []SessionEvent       `json:"recent_errors,omitempty"`
	Timestamp                time.Time            `json:"timestamp"`
}

type RealtimeStats struct {
	SessionID         SessionID          `json:"session_id"`
	ConnectionQuality ConnectionQuality  `json:"connection_quality"`
	AudioStats        AudioStats         `json:"audio_stats"`
	VideoStats        VideoStats         `json:"video_stats"`
	Producers         []*ProducerRecord  `json:"producers"`
	Consumers         []*ConsumerRecord  `json:"consumers"`
	Transports        []*TransportRecord `json:"transports"`
	RecentEvents      []SessionEvent     `json:"recent_events"`
}

// InstanceInfo describes one analytics process in a multi-instance deployment.
type InstanceInfo struct {
	InstanceID       string    `json:"instance_id"`
	Address          string    `json:"address"`
	StartedAt        time.Time `json:"started_at"`
	LastSeen         time.Time `json:"last_seen"`
	ActiveCalls      int64     `json:"active_calls"`
	TotalCalls       int64     `json:"total_calls"`
	DashboardClients int       `json:"dashboard_clients"`
}
