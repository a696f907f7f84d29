package monitoring

import (
	"callscope/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector turns bus events into Prometheus series. It is
// attached with SubscribeAll.
type PrometheusCollector struct {
	// Counters
	callsStartedTotal prometheus.Counter
	callsEndedTotal   prometheus.Counter
	errorsTotal       *prometheus.CounterVec
	endpointsTracked  *prometheus.CounterVec
	transportStates   *prometheus.CounterVec

	// Gauges fed by the periodic snapshots
	activeCalls          prometheus.Gauge
	totalParticipants    prometheus.Gauge
	dataTransferredBytes prometheus.Gauge
	roomParticipants     *prometheus.GaugeVec
	roomQuality          *prometheus.GaugeVec

	// Histograms
	callDuration      prometheus.Histogram
	endpointScore     *prometheus.HistogramVec
	connectionQuality prometheus.Histogram
}

// NewPrometheusCollector registers the collector's series on reg, or on the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		callsStartedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscope_calls_started_total",
			Help: "Total number of call sessions started",
		}),

		callsEndedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscope_calls_ended_total",
			Help: "Total number of call sessions ended",
		}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscope_errors_total",
			Help: "Errors recorded against sessions by kind",
		}, []string{"kind"}),

		endpointsTracked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscope_endpoints_tracked_total",
			Help: "Media endpoints attached to sessions",
		}, []string{"endpoint"}),

		transportStates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscope_transport_state_changes_total",
			Help: "Transport state transitions by layer and new state",
		}, []string{"layer", "state"}),

		activeCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callscope_active_calls",
			Help: "Sessions currently active",
		}),

		totalParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callscope_participants_total",
			Help: "Participants seen since start",
		}),

		dataTransferredBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callscope_data_transferred_bytes",
			Help: "Media bytes sent and received across all sessions",
		}),

		roomParticipants: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callscope_room_active_participants",
			Help: "Active participants per room",
		}, []string{"room_id"}),

		roomQuality: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callscope_room_connection_quality",
			Help: "Average connection quality of active sessions per room (1-5)",
		}, []string{"room_id"}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callscope_call_duration_seconds",
			Help:    "Duration of ended call sessions",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),

		endpointScore: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callscope_endpoint_score",
			Help:    "Scores reported by the media engine",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}, []string{"endpoint"}),

		connectionQuality: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callscope_connection_quality_score",
			Help:    "Derived session connection quality (1-5)",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
	}
}

// HandleEvent records ev.
func (p *PrometheusCollector) HandleEvent(ev domain.Event) {
	switch ev.Name {
	case domain.CallSessionStarted:
		p.callsStartedTotal.Inc()
	case domain.CallSessionEnded:
		p.callsEndedTotal.Inc()
		if s, ok := ev.Payload.(*domain.CallSession); ok {
			p.callDuration.Observe(s.Duration.Seconds())
		}
	case domain.ProducerTracked:
		p.endpointsTracked.WithLabelValues("producer").Inc()
	case domain.ConsumerTracked:
		p.endpointsTracked.WithLabelValues("consumer").Inc()
	case domain.TransportTracked:
		p.endpointsTracked.WithLabelValues("transport").Inc()
	case domain.ProducerScoreEvent:
		p.observeScore("producer", ev.Payload)
	case domain.ConsumerScoreEvent:
		p.observeScore("consumer", ev.Payload)
	case domain.ConnectionQualityUpdate:
		if q, ok := ev.Payload.(domain.QualityPayload); ok {
			p.connectionQuality.Observe(q.Quality.Score)
		}
	case domain.TransportConnectionStateChange:
		p.recordTransportState("connection", ev.Payload)
	case domain.TransportIceStateChange:
		p.recordTransportState("ice", ev.Payload)
	case domain.TransportDtlsStateChange:
		p.recordTransportState("dtls", ev.Payload)
	case domain.ErrorRecorded:
		if e, ok := ev.Payload.(domain.ErrorPayload); ok {
			p.errorsTotal.WithLabelValues(string(e.Event.ErrorKind)).Inc()
		}
	case domain.GlobalMetricsEvent:
		if g, ok := ev.Payload.(domain.GlobalMetrics); ok {
			p.UpdateGlobalMetrics(g)
		}
	case domain.RoomAnalyticsEvent:
		if r, ok := ev.Payload.(domain.RoomAnalytics); ok {
			p.UpdateRoomMetrics(r)
		}
	}
}

func (p *PrometheusCollector) observeScore(endpoint string, payload any) {
	if s, ok := payload.(domain.ScorePayload); ok {
		p.endpointScore.WithLabelValues(endpoint).Observe(s.Score.Score)
	}
}

func (p *PrometheusCollector) recordTransportState(layer string, payload any) {
	if s, ok := payload.(domain.TransportStatePayload); ok {
		p.transportStates.WithLabelValues(layer, string(s.State)).Inc()
	}
}

func (p *PrometheusCollector) UpdateGlobalMetrics(g domain.GlobalMetrics) {
	p.activeCalls.Set(float64(g.ActiveCalls))
	p.totalParticipants.Set(float64(g.TotalParticipants))
	p.dataTransferredBytes.Set(float64(g.TotalDataTransferred))
}

// UpdateRoomMetrics sets the per-room gauges. Rooms without active
// participants are dropped from the series.
func (p *PrometheusCollector) UpdateRoomMetrics(r domain.RoomAnalytics) {
	room := string(r.RoomID)
	if r.ActiveParticipants == 0 {
		p.roomParticipants.DeleteLabelValues(room)
		p.roomQuality.DeleteLabelValues(room)
		return
	}
	p.roomParticipants.WithLabelValues(room).Set(float64(r.ActiveParticipants))
	p.roomQuality.WithLabelValues(room).Set(r.AverageConnectionQuality)
}
