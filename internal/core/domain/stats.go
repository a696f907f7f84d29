package domain

import "time"

// StatType discriminates the samples returned by an endpoint stats query.
type StatType string

const (
	StatTypeOutboundRTP   StatType = "outbound-rtp"
	StatTypeInboundRTP    StatType = "inbound-rtp"
	StatTypeTransport     StatType = "transport"
	StatTypeCandidatePair StatType = "candidate-pair"
)

// StatSample is one record of a stats query. Counters are cumulative over the
// endpoint's lifetime; only the fields relevant to Type are populated.
type StatSample struct {
	Type StatType  `json:"type"`
	Kind MediaKind `json:"kind,omitempty"`

	PacketsSent     uint64 `json:"packets_sent,omitempty"`
	BytesSent       uint64 `json:"bytes_sent,omitempty"`
	PacketsReceived uint64 `json:"packets_received,omitempty"`
	BytesReceived   uint64 `json:"bytes_received,omitempty"`
	PacketsLost     uint64 `json:"packets_lost,omitempty"`

	Jitter           float64 `json:"jitter,omitempty"`
	FramesPerSecond  float64 `json:"frames_per_second,omitempty"`
	KeyFramesDecoded uint64  `json:"key_frames_decoded,omitempty"`
	FrameWidth       int     `json:"frame_width,omitempty"`
	FrameHeight      int     `json:"frame_height,omitempty"`

	Nominated            bool          `json:"nominated,omitempty"`
	CurrentRoundTripTime time.Duration `json:"current_round_trip_time,omitempty"`
}
