package monitoring

import (
	"testing"
	"time"

	"callscope/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_SessionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	ended := domain.NewCallSession("room1", "peerA", "Alice", domain.Device{}, time.Unix(0, 0), 10)
	ended.End(time.Unix(90, 0))

	p.HandleEvent(domain.Event{Name: domain.CallSessionStarted})
	p.HandleEvent(domain.Event{Name: domain.CallSessionEnded, Payload: ended})
	p.HandleEvent(domain.Event{Name: domain.ProducerTracked})
	p.HandleEvent(domain.Event{Name: domain.TransportTracked})
	p.HandleEvent(domain.Event{Name: domain.ErrorRecorded, Payload: domain.ErrorPayload{
		Event: domain.SessionEvent{Type: domain.EventError, ErrorKind: domain.ErrorTransportFailure},
	}})
	p.HandleEvent(domain.Event{Name: domain.TransportDtlsStateChange, Payload: domain.TransportStatePayload{
		TransportID: "t1", State: domain.TransportStateFailed,
	}})

	assert.Equal(t, 1.0, testutil.ToFloat64(p.callsStartedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.callsEndedTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(p.callDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.endpointsTracked.WithLabelValues("producer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.errorsTotal.WithLabelValues("transport_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transportStates.WithLabelValues("dtls", "failed")))
}

func TestPrometheusCollector_Snapshots(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	p.HandleEvent(domain.Event{Name: domain.GlobalMetricsEvent, Payload: domain.GlobalMetrics{
		ActiveCalls: 3, TotalParticipants: 7, TotalDataTransferred: 4096,
	}})
	p.HandleEvent(domain.Event{Name: domain.RoomAnalyticsEvent, Payload: domain.RoomAnalytics{
		RoomID: "room1", ActiveParticipants: 2, AverageConnectionQuality: 4,
	}})

	assert.Equal(t, 3.0, testutil.ToFloat64(p.activeCalls))
	assert.Equal(t, 4096.0, testutil.ToFloat64(p.dataTransferredBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.roomParticipants.WithLabelValues("room1")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.roomQuality.WithLabelValues("room1")))

	p.HandleEvent(domain.Event{Name: domain.RoomAnalyticsEvent, Payload: domain.RoomAnalytics{RoomID: "room1"}})
	assert.Equal(t, 0, testutil.CollectAndCount(p.roomParticipants))
}

func TestPrometheusCollector_IgnoresUnexpectedPayloads(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	assert.NotPanics(t, func() {
		p.HandleEvent(domain.Event{Name: domain.ProducerScoreEvent, Payload: "nope"})
		p.HandleEvent(domain.Event{Name: domain.GlobalMetricsEvent})
		p.HandleEvent(domain.Event{Name: "unknown"})
	})
	assert.Equal(t, 0, testutil.CollectAndCount(p.endpointScore))
}
