package services

import (
	"fmt"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
)

// TrackTransport starts monitoring a network transport of a session. ICE and
// DTLS states are only followed when the source reports them.
func (s *AnalyticsService) TrackTransport(roomID domain.RoomID, peerID domain.PeerID, transportID domain.EndpointID, source ports.TransportSource) error {
	if s.isClosed() {
		return ErrAnalyticsClosed
	}
	id := domain.NewSessionID(roomID, peerID)
	now := s.now()

	var record *domain.TransportRecord
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		t := domain.NewTransportRecord(transportID, source.Type(), now, s.opts.TransportEventLogSize)
		e.session.Transports[transportID] = t
		e.session.Events.Append(domain.SessionEvent{
			Type:      domain.EventTransportCreated,
			Timestamp: now,
			Data:      map[string]string{"transport_id": string(transportID), "type": t.Type},
		})
		record = t.Clone()
		return nil
	})
	if err != nil {
		s.logger.Warnw("Session not found for transport tracking",
			"session_id", id,
			"transport_id", transportID,
		)
		return sessionNotFound(id)
	}

	poller := newStatsPoller(source, s.opts.TransportPollInterval,
		func(samples []domain.StatSample) {
			s.applyTransportStats(id, transportID, samples)
		},
		func(err error) {
			s.logger.Errorw("Error getting transport stats",
				"session_id", id,
				"transport_id", transportID,
				"error", err,
			)
		},
	)
	m := s.newMonitor(transportEndpoint, transportID, id, poller)
	if err := s.register(m); err != nil {
		return err
	}

	m.subscribe(source.OnConnectionStateChange(guardValue(s, "transport_connection_state", transportID, func(state domain.TransportState) {
		s.onTransportState(id, roomID, peerID, transportID, domain.StateKindConnection, state)
	})))
	if ice, ok := source.(ports.ICEStateSource); ok {
		m.subscribe(ice.OnICEStateChange(guardValue(s, "transport_ice_state", transportID, func(state domain.TransportState) {
			s.onTransportState(id, roomID, peerID, transportID, domain.StateKindICE, state)
		})))
	}
	if dtls, ok := source.(ports.DTLSStateSource); ok {
		m.subscribe(dtls.OnDTLSStateChange(guardValue(s, "transport_dtls_state", transportID, func(state domain.TransportState) {
			s.onTransportState(id, roomID, peerID, transportID, domain.StateKindDTLS, state)
		})))
	}
	m.subscribe(source.OnClose(s.guard("transport_close", transportID, func() {
		s.onTransportClose(id, transportID)
		m.stop()
	})))

	s.logger.Debugw("Transport tracked",
		"session_id", id,
		"transport_id", transportID,
		"type", record.Type,
	)
	s.publish(domain.TransportTracked, id, roomID, domain.TransportTrackedPayload{Transport: record})
	return nil
}

var transportStateEvents = map[domain.TransportStateKind]domain.EventName{
	domain.StateKindConnection: domain.TransportConnectionStateChange,
	domain.StateKindICE:        domain.TransportIceStateChange,
	domain.StateKindDTLS:       domain.TransportDtlsStateChange,
}

func (s *AnalyticsService) onTransportState(id domain.SessionID, roomID domain.RoomID, peerID domain.PeerID, transportID domain.EndpointID, kind domain.TransportStateKind, state domain.TransportState) {
	now := s.now()
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		t, ok := e.session.Transports[transportID]
		if !ok {
			return errEndpointNotFound
		}
		switch kind {
		case domain.StateKindConnection:
			t.ConnectionState = state
		case domain.StateKindICE:
			t.ICEState = state
		case domain.StateKindDTLS:
			t.DTLSState = state
		}
		t.Events.Append(domain.TransportEvent{Type: kind, Timestamp: now, State: state})
		return nil
	})
	if err != nil {
		s.logger.Debugw("Dropping transport state change",
			"session_id", id,
			"transport_id", transportID,
			"state", state,
			"error", err,
		)
		return
	}

	s.logger.Debugw("Transport state changed",
		"session_id", id,
		"transport_id", transportID,
		"kind", kind,
		"state", state,
	)
	if isTransportFailure(kind, state) {
		s.RecordError(roomID, peerID, domain.ErrorTransportFailure,
			fmt.Errorf("transport %s state changed to %s", stateLabel(kind), state),
			map[string]string{"transport_id": string(transportID), "state": string(state)},
		)
	}
	s.publish(transportStateEvents[kind], id, roomID, domain.TransportStatePayload{
		TransportID: transportID,
		State:       state,
	})
}

func isTransportFailure(kind domain.TransportStateKind, state domain.TransportState) bool {
	if kind == domain.StateKindICE {
		return false
	}
	switch state {
	case domain.TransportStateFailed, domain.TransportStateDisconnected, domain.TransportStateClosed:
		return true
	}
	return false
}

func stateLabel(kind domain.TransportStateKind) string {
	switch kind {
	case domain.StateKindICE:
		return "ICE"
	case domain.StateKindDTLS:
		return "DTLS"
	}
	return "connection"
}

func (s *AnalyticsService) onTransportClose(id domain.SessionID, transportID domain.EndpointID) {
	now := s.now()
	_ = s.registry.mutate(id, func(e *sessionEntry) error {
		t, ok := e.session.Transports[transportID]
		if !ok {
			return errEndpointNotFound
		}
		if t.EndTime == nil {
			end := now
			t.EndTime = &end
		}
		e.session.Events.Append(domain.SessionEvent{
			Type:      domain.EventTransportClosed,
			Timestamp: now,
			Data:      map[string]string{"transport_id": string(transportID)},
		})
		return nil
	})
}

// applyTransportStats records transport counters and the nominated candidate
// pair's round trip time, which also becomes the session RTT. Bandwidth is the
// bit rate over the interval since the previous poll.
func (s *AnalyticsService) applyTransportStats(id domain.SessionID, transportID domain.EndpointID, samples []domain.StatSample) {
	now := s.now()
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		t, ok := e.session.Transports[transportID]
		if !ok {
			return errEndpointNotFound
		}
		quality := &e.session.Stats.ConnectionQuality

		for _, st := range samples {
			switch st.Type {
			case domain.StatTypeTransport:
				t.Stats.BytesReceived = st.BytesReceived
				t.Stats.BytesSent = st.BytesSent
				t.Stats.PacketsReceived = st.PacketsReceived
				t.Stats.PacketsSent = st.PacketsSent
				if total := st.PacketsReceived + st.PacketsLost; total > 0 {
					t.Stats.PacketLossPercentage = float64(st.PacketsLost) / float64(total) * 100
				}

				moved := e.delta(transportID, "bytes_received", st.BytesReceived) +
					e.delta(transportID, "bytes_sent", st.BytesSent)
				if last, ok := e.polledAt[transportID]; ok {
					if elapsed := now.Sub(last); elapsed > 0 {
						quality.Bandwidth = uint64(float64(moved*8) / elapsed.Seconds())
					}
				}
				e.polledAt[transportID] = now
			case domain.StatTypeCandidatePair:
				if !st.Nominated {
					continue
				}
				t.Stats.RoundTripTime = st.CurrentRoundTripTime
				quality.RTT = st.CurrentRoundTripTime
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Debugw("Dropping transport stats",
			"session_id", id,
			"transport_id", transportID,
			"error", err,
		)
	}
}

