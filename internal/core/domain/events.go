package domain

import "time"

// SessionEventType names entries of a session's event log.
type SessionEventType string

const (
	EventProducerCreated        SessionEventType = "producer_created"
	EventProducerClosed         SessionEventType = "producer_closed"
	EventConsumerCreated        SessionEventType = "consumer_created"
	EventConsumerClosed         SessionEventType = "consumer_closed"
	EventConsumerProducerClosed SessionEventType = "consumer_producer_closed"
	EventTransportCreated       SessionEventType = "transport_created"
	EventTransportClosed        SessionEventType = "transport_closed"
	EventError                  SessionEventType = "error"
)

// SessionEvent is one entry in a session's bounded event log. Error fields are
// only set for EventError entries.
type SessionEvent struct {
	Type      SessionEventType  `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
	ErrorKind ErrorKind         `json:"error_type,omitempty"`
	Message   string            `json:"message,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

func (e SessionEvent) Clone() SessionEvent {
	e.Data = cloneStrings(e.Data)
	e.Context = cloneStrings(e.Context)
	return e
}

// CloneEvents deep copies a slice of session events.
func CloneEvents(events []SessionEvent) []SessionEvent {
	out := make([]SessionEvent, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type EventLog = BoundedLog[SessionEvent]

func NewEventLog(limit int) *EventLog {
	return NewBoundedLog[SessionEvent](limit)
}

// EventName identifies a message on the outward publish/subscribe surface.
type EventName string

const (
	CallSessionStarted             EventName = "callSessionStarted"
	CallSessionEnded               EventName = "callSessionEnded"
	ProducerTracked                EventName = "producerTracked"
	ConsumerTracked                EventName = "consumerTracked"
	TransportTracked               EventName = "transportTracked"
	ProducerScoreEvent             EventName = "producerScore"
	ConsumerScoreEvent             EventName = "consumerScore"
	ProducerClosed                 EventName = "producerClosed"
	ConsumerClosed                 EventName = "consumerClosed"
	ConsumerProducerClosed         EventName = "consumerProducerClosed"
	TransportConnectionStateChange EventName = "transportConnectionStateChange"
	TransportIceStateChange        EventName = "transportIceStateChange"
	TransportDtlsStateChange       EventName = "transportDtlsStateChange"
	ErrorRecorded                  EventName = "errorRecorded"
	ConnectionQualityUpdate        EventName = "connectionQualityUpdate"
	GlobalMetricsEvent             EventName = "globalMetrics"
	RoomAnalyticsEvent             EventName = "roomAnalytics"
)

// Event is a published notification. Payload holds one of the *Payload types
// below, a *CallSession, GlobalMetrics or RoomAnalytics, depending on Name.
type Event struct {
	Name      EventName `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	SessionID SessionID `json:"session_id,omitempty"`
	RoomID    RoomID    `json:"room_id,omitempty"`
	Payload   any       `json:"payload"`
}

type ProducerTrackedPayload struct {
	Producer *ProducerRecord `json:"producer"`
}

type ConsumerTrackedPayload struct {
	Consumer *ConsumerRecord `json:"consumer"`
}

type TransportTrackedPayload struct {
	Transport *TransportRecord `json:"transport"`
}

type ScorePayload struct {
	EndpointID EndpointID `json:"endpoint_id"`
	Score      Score      `json:"score"`
}

type EndpointClosedPayload struct {
	EndpointID EndpointID `json:"endpoint_id"`
	ProducerID EndpointID `json:"producer_id,omitempty"`
}

type TransportStatePayload struct {
	TransportID EndpointID     `json:"transport_id"`
	State       TransportState `json:"state"`
}

type ErrorPayload struct {
	Event SessionEvent `json:"error_event"`
}

type QualityPayload struct {
	Quality ConnectionQuality `json:"quality"`
}
