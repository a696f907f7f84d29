package domain

import "time"

// ScoreHistorySize caps the per-endpoint score history.
const ScoreHistorySize = 100

// Score is the payload of a media engine score event.
type Score struct {
	Score          float64   `json:"score"`
	ProducerScore  float64   `json:"producer_score"`
	ProducerScores []float64 `json:"producer_scores,omitempty"`
}

type ScoreEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Score          float64   `json:"score"`
	ProducerScore  float64   `json:"producer_score"`
	ProducerScores []float64 `json:"producer_scores,omitempty"`
}

func (e ScoreEntry) Clone() ScoreEntry {
	if e.ProducerScores != nil {
		e.ProducerScores = append([]float64(nil), e.ProducerScores...)
	}
	return e
}

type ScoreHistory = BoundedLog[ScoreEntry]

func NewScoreEntry(now time.Time, s Score) ScoreEntry {
	var scores []float64
	if len(s.ProducerScores) > 0 {
		scores = append([]float64(nil), s.ProducerScores...)
	}
	return ScoreEntry{
		Timestamp:      now,
		Score:          s.Score,
		ProducerScore:  s.ProducerScore,
		ProducerScores: scores,
	}
}

type ProducerStats struct {
	PacketsLost uint64  `json:"packets_lost"`
	PacketsSent uint64  `json:"packets_sent"`
	BytesSent   uint64  `json:"bytes_sent"`
	Framerate   float64 `json:"framerate,omitempty"`
}

type ProducerRecord struct {
	ID        EndpointID    `json:"id"`
	Kind      MediaKind     `json:"kind"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Stats     ProducerStats `json:"stats"`
	Scores    *ScoreHistory `json:"scores"`
}

func NewProducerRecord(id EndpointID, kind MediaKind, now time.Time) *ProducerRecord {
	return &ProducerRecord{
		ID:        id,
		Kind:      kind,
		StartTime: now,
		Scores:    NewBoundedLog[ScoreEntry](ScoreHistorySize),
	}
}

func (p *ProducerRecord) Clone() *ProducerRecord {
	c := *p
	c.EndTime = cloneTime(p.EndTime)
	c.Scores = p.Scores.CloneWith(ScoreEntry.Clone)
	return &c
}

type ConsumerStats struct {
	PacketsLost     uint64 `json:"packets_lost"`
	PacketsReceived uint64 `json:"packets_received"`
	BytesReceived   uint64 `json:"bytes_received"`
}

type ConsumerRecord struct {
	ID         EndpointID    `json:"id"`
	ProducerID EndpointID    `json:"producer_id"`
	Kind       MediaKind     `json:"kind"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    *time.Time    `json:"end_time,omitempty"`
	Stats      ConsumerStats `json:"stats"`
	Scores     *ScoreHistory `json:"scores"`
}

func NewConsumerRecord(id, producerID EndpointID, kind MediaKind, now time.Time) *ConsumerRecord {
	return &ConsumerRecord{
		ID:         id,
		ProducerID: producerID,
		Kind:       kind,
		StartTime:  now,
		Scores:     NewBoundedLog[ScoreEntry](ScoreHistorySize),
	}
}

func (c *ConsumerRecord) Clone() *ConsumerRecord {
	out := *c
	out.EndTime = cloneTime(c.EndTime)
	out.Scores = c.Scores.CloneWith(ScoreEntry.Clone)
	return &out
}

// TransportState covers connection, ICE and DTLS state values reported by the media engine.
type TransportState string

const (
	TransportStateNew          TransportState = "new"
	TransportStateChecking     TransportState = "checking"
	TransportStateConnecting   TransportState = "connecting"
	TransportStateConnected    TransportState = "connected"
	TransportStateCompleted    TransportState = "completed"
	TransportStateDisconnected TransportState = "disconnected"
	TransportStateFailed       TransportState = "failed"
	TransportStateClosed       TransportState = "closed"
)

type TransportStateKind string

const (
	StateKindConnection TransportStateKind = "connectionstatechange"
	StateKindICE        TransportStateKind = "icestatechange"
	StateKindDTLS       TransportStateKind = "dtlsstatechange"
)

type TransportEvent struct {
	Type      TransportStateKind `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	State     TransportState     `json:"state"`
}

type TransportStats struct {
	BytesReceived        uint64        `json:"bytes_received"`
	BytesSent            uint64        `json:"bytes_sent"`
	PacketsReceived      uint64        `json:"packets_received"`
	PacketsSent          uint64        `json:"packets_sent"`
	PacketLossPercentage float64       `json:"packet_loss_percentage"`
	RoundTripTime        time.Duration `json:"round_trip_time"`
}

type TransportRecord struct {
	ID              EndpointID                  `json:"id"`
	Type            string                      `json:"type"`
	StartTime       time.Time                   `json:"start_time"`
	EndTime         *time.Time                  `json:"end_time,omitempty"`
	ConnectionState TransportState              `json:"connection_state"`
	ICEState        TransportState              `json:"ice_state"`
	DTLSState       TransportState              `json:"dtls_state"`
	Stats           TransportStats              `json:"stats"`
	Events          *BoundedLog[TransportEvent] `json:"events"`
}

func NewTransportRecord(id EndpointID, typ string, now time.Time, eventLogSize int) *TransportRecord {
	return &TransportRecord{
		ID:              id,
		Type:            typ,
		StartTime:       now,
		ConnectionState: TransportStateNew,
		ICEState:        TransportStateNew,
		DTLSState:       TransportStateNew,
		Events:          NewBoundedLog[TransportEvent](eventLogSize),
	}
}

func (t *TransportRecord) Clone() *TransportRecord {
	c := *t
	c.EndTime = cloneTime(t.EndTime)
	c.Events = t.Events.Clone()
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
