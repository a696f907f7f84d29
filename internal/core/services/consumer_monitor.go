package services

import (
	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
)

// TrackConsumer starts monitoring an inbound media endpoint of a session.
// Every consumer score recomputes the session's connection quality.
func (s *AnalyticsService) TrackConsumer(roomID domain.RoomID, peerID domain.PeerID, consumerID, producerID domain.EndpointID, kind domain.MediaKind, source ports.ConsumerSource) error {
	if s.isClosed() {
		return ErrAnalyticsClosed
	}
	id := domain.NewSessionID(roomID, peerID)
	now := s.now()

	var record *domain.ConsumerRecord
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		c := domain.NewConsumerRecord(consumerID, producerID, kind, now)
		e.session.Consumers[consumerID] = c
		e.session.Events.Append(domain.SessionEvent{
			Type:      domain.EventConsumerCreated,
			Timestamp: now,
			Data: map[string]string{
				"consumer_id": string(consumerID),
				"producer_id": string(producerID),
				"kind":        string(kind),
			},
		})
		record = c.Clone()
		return nil
	})
	if err != nil {
		s.logger.Warnw("Session not found for consumer tracking",
			"session_id", id,
			"consumer_id", consumerID,
		)
		return sessionNotFound(id)
	}

	poller := newStatsPoller(source, s.opts.ConsumerPollInterval,
		func(samples []domain.StatSample) {
			s.applyConsumerStats(id, consumerID, samples)
		},
		func(err error) {
			s.logger.Errorw("Error getting consumer stats",
				"session_id", id,
				"consumer_id", consumerID,
				"error", err,
			)
		},
	)
	m := s.newMonitor(consumerEndpoint, consumerID, id, poller)
	if err := s.register(m); err != nil {
		return err
	}
	m.subscribe(source.OnScore(guardValue(s, "consumer_score", consumerID, func(score domain.Score) {
		s.onConsumerScore(id, roomID, consumerID, score)
	})))
	m.subscribe(source.OnProducerClose(s.guard("consumer_producer_close", consumerID, func() {
		s.onConsumerProducerClose(id, roomID, consumerID)
	})))
	m.subscribe(source.OnClose(s.guard("consumer_close", consumerID, func() {
		s.onConsumerClose(id, roomID, consumerID)
		m.stop()
	})))

	s.logger.Debugw("Consumer tracked",
		"session_id", id,
		"consumer_id", consumerID,
		"producer_id", producerID,
		"kind", kind,
	)
	s.publish(domain.ConsumerTracked, id, roomID, domain.ConsumerTrackedPayload{Consumer: record})
	return nil
}

func (s *AnalyticsService) onConsumerScore(id domain.SessionID, roomID domain.RoomID, consumerID domain.EndpointID, score domain.Score) {
	now := s.now()
	var quality domain.ConnectionQuality
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		c, ok := e.session.Consumers[consumerID]
		if !ok {
			return errEndpointNotFound
		}
		c.Scores.Append(domain.NewScoreEntry(now, score))
		quality = s.quality.Apply(e.session)
		return nil
	})
	if err != nil {
		s.logger.Debugw("Dropping consumer score",
			"session_id", id,
			"consumer_id", consumerID,
			"error", err,
		)
		return
	}
	s.publish(domain.ConsumerScoreEvent, id, roomID, domain.ScorePayload{
		EndpointID: consumerID,
		Score:      copyScore(score),
	})
	s.publish(domain.ConnectionQualityUpdate, id, roomID, domain.QualityPayload{Quality: quality})
}

func (s *AnalyticsService) onConsumerProducerClose(id domain.SessionID, roomID domain.RoomID, consumerID domain.EndpointID) {
	now := s.now()
	var producerID domain.EndpointID
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		c, ok := e.session.Consumers[consumerID]
		if !ok {
			return errEndpointNotFound
		}
		producerID = c.ProducerID
		e.session.Events.Append(domain.SessionEvent{
			Type:      domain.EventConsumerProducerClosed,
			Timestamp: now,
			Data: map[string]string{
				"consumer_id": string(consumerID),
				"producer_id": string(producerID),
			},
		})
		return nil
	})
	if err != nil {
		return
	}
	s.publish(domain.ConsumerProducerClosed, id, roomID, domain.EndpointClosedPayload{
		EndpointID: consumerID,
		ProducerID: producerID,
	})
}

func (s *AnalyticsService) onConsumerClose(id domain.SessionID, roomID domain.RoomID, consumerID domain.EndpointID) {
	now := s.now()
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		c, ok := e.session.Consumers[consumerID]
		if !ok {
			return errEndpointNotFound
		}
		if c.EndTime == nil {
			end := now
			c.EndTime = &end
		}
		e.session.Events.Append(domain.SessionEvent{
			Type:      domain.EventConsumerClosed,
			Timestamp: now,
			Data:      map[string]string{"consumer_id": string(consumerID)},
		})
		return nil
	})
	if err != nil {
		s.logger.Debugw("Consumer closed after session purge",
			"session_id", id,
			"consumer_id", consumerID,
		)
		return
	}
	s.publish(domain.ConsumerClosed, id, roomID, domain.EndpointClosedPayload{EndpointID: consumerID})
}

func (s *AnalyticsService) applyConsumerStats(id domain.SessionID, consumerID domain.EndpointID, samples []domain.StatSample) {
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		c, ok := e.session.Consumers[consumerID]
		if !ok {
			return errEndpointNotFound
		}

		var received, bytes, lost, keyFrames uint64
		var jitter float64
		var width, height int
		found := false
		for _, st := range samples {
			if st.Type != domain.StatTypeInboundRTP {
				continue
			}
			found = true
			received += st.PacketsReceived
			bytes += st.BytesReceived
			lost += st.PacketsLost
			keyFrames += st.KeyFramesDecoded
			jitter = st.Jitter
			if st.FrameWidth > 0 && st.FrameHeight > 0 {
				width, height = st.FrameWidth, st.FrameHeight
			}
		}
		if !found {
			return nil
		}

		c.Stats.PacketsReceived = received
		c.Stats.BytesReceived = bytes
		c.Stats.PacketsLost = lost

		dReceived := e.delta(consumerID, "packets_received", received)
		dBytes := e.delta(consumerID, "bytes_received", bytes)
		dLost := e.delta(consumerID, "packets_lost", lost)

		stats := &e.session.Stats
		switch c.Kind {
		case domain.KindAudio:
			stats.Audio.PacketsReceived += dReceived
			stats.Audio.BytesReceived += dBytes
			stats.Audio.PacketsLost += dLost
			stats.Audio.Jitter = jitter
		case domain.KindVideo:
			stats.Video.PacketsReceived += dReceived
			stats.Video.BytesReceived += dBytes
			stats.Video.PacketsLost += dLost
			stats.Video.KeyFramesDecoded = keyFrames
			if width > 0 && height > 0 {
				stats.Video.Resolution = domain.Resolution{Width: width, Height: height}
			}
		}
		stats.ConnectionQuality.PacketLoss = receiveLossPercentage(stats)
		s.registry.addTransferredLocked(dBytes)
		return nil
	})
	if err != nil {
		s.logger.Debugw("Dropping consumer stats",
			"session_id", id,
			"consumer_id", consumerID,
			"error", err,
		)
	}
}

// receiveLossPercentage is the share of inbound packets lost across both media kinds.
func receiveLossPercentage(stats *domain.SessionStats) float64 {
	lost := stats.Audio.PacketsLost + stats.Video.PacketsLost
	total := stats.Audio.PacketsReceived + stats.Video.PacketsReceived + lost
	if total == 0 {
		return 0
	}
	return float64(lost) / float64(total) * 100
}
