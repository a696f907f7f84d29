package services

import (
	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
)

// TrackProducer starts monitoring an outbound media endpoint of a session.
func (s *AnalyticsService) TrackProducer(roomID domain.RoomID, peerID domain.PeerID, producerID domain.EndpointID, kind domain.MediaKind, source ports.ProducerSource) error {
	if s.isClosed() {
		return ErrAnalyticsClosed
	}
	id := domain.NewSessionID(roomID, peerID)
	now := s.now()

	var record *domain.ProducerRecord
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		p := domain.NewProducerRecord(producerID, kind, now)
		e.session.Producers[producerID] = p
		e.session.Events.Append(domain.SessionEvent{
			Type:      domain.EventProducerCreated,
			Timestamp: now,
			Data:      map[string]string{"producer_id": string(producerID), "kind": string(kind)},
		})
		record = p.Clone()
		return nil
	})
	if err != nil {
		s.logger.Warnw("Session not found for producer tracking",
			"session_id", id,
			"producer_id", producerID,
		)
		return sessionNotFound(id)
	}

	poller := newStatsPoller(source, s.opts.ProducerPollInterval,
		func(samples []domain.StatSample) {
			s.applyProducerStats(id, producerID, samples)
		},
		func(err error) {
			s.logger.Errorw("Error getting producer stats",
				"session_id", id,
				"producer_id", producerID,
				"error", err,
			)
		},
	)
	m := s.newMonitor(producerEndpoint, producerID, id, poller)
	if err := s.register(m); err != nil {
		return err
	}
	m.subscribe(source.OnScore(guardValue(s, "producer_score", producerID, func(score domain.Score) {
		s.onProducerScore(id, roomID, producerID, score)
	})))
	m.subscribe(source.OnClose(s.guard("producer_close", producerID, func() {
		s.onProducerClose(id, roomID, producerID)
		m.stop()
	})))

	s.logger.Debugw("Producer tracked",
		"session_id", id,
		"producer_id", producerID,
		"kind", kind,
	)
	s.publish(domain.ProducerTracked, id, roomID, domain.ProducerTrackedPayload{Producer: record})
	return nil
}

func (s *AnalyticsService) onProducerScore(id domain.SessionID, roomID domain.RoomID, producerID domain.EndpointID, score domain.Score) {
	now := s.now()
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		p, ok := e.session.Producers[producerID]
		if !ok {
			return errEndpointNotFound
		}
		p.Scores.Append(domain.NewScoreEntry(now, score))
		switch p.Kind {
		case domain.KindAudio:
			e.session.Stats.Audio.Score = score.Score
		case domain.KindVideo:
			e.session.Stats.Video.Score = score.Score
		}
		return nil
	})
	if err != nil {
		s.logger.Debugw("Dropping producer score",
			"session_id", id,
			"producer_id", producerID,
			"error", err,
		)
		return
	}
	s.publish(domain.ProducerScoreEvent, id, roomID, domain.ScorePayload{
		EndpointID: producerID,
		Score:      copyScore(score),
	})
}

func (s *AnalyticsService) onProducerClose(id domain.SessionID, roomID domain.RoomID, producerID domain.EndpointID) {
	now := s.now()
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		p, ok := e.session.Producers[producerID]
		if !ok {
			return errEndpointNotFound
		}
		if p.EndTime == nil {
			end := now
			p.EndTime = &end
		}
		e.session.Events.Append(domain.SessionEvent{
			Type:      domain.EventProducerClosed,
			Timestamp: now,
			Data:      map[string]string{"producer_id": string(producerID)},
		})
		return nil
	})
	if err != nil {
		s.logger.Debugw("Producer closed after session purge",
			"session_id", id,
			"producer_id", producerID,
		)
		return
	}
	s.publish(domain.ProducerClosed, id, roomID, domain.EndpointClosedPayload{EndpointID: producerID})
}

// applyProducerStats folds outbound-rtp samples into the producer record and
// the session aggregates. Record counters hold the latest cumulative values
// while session and global totals grow by the increase since the last poll.
// Session packet loss is measured on the receive side only.
func (s *AnalyticsService) applyProducerStats(id domain.SessionID, producerID domain.EndpointID, samples []domain.StatSample) {
	err := s.registry.mutate(id, func(e *sessionEntry) error {
		p, ok := e.session.Producers[producerID]
		if !ok {
			return errEndpointNotFound
		}

		var sent, bytes, lost uint64
		var framerate float64
		found := false
		for _, st := range samples {
			if st.Type != domain.StatTypeOutboundRTP {
				continue
			}
			found = true
			sent += st.PacketsSent
			bytes += st.BytesSent
			lost += st.PacketsLost
			framerate = max(framerate, st.FramesPerSecond)
		}
		if !found {
			return nil
		}

		p.Stats.PacketsSent = sent
		p.Stats.BytesSent = bytes
		p.Stats.PacketsLost = lost

		dSent := e.delta(producerID, "packets_sent", sent)
		dBytes := e.delta(producerID, "bytes_sent", bytes)

		switch p.Kind {
		case domain.KindAudio:
			a := &e.session.Stats.Audio
			a.PacketsSent += dSent
			a.BytesSent += dBytes
		case domain.KindVideo:
			v := &e.session.Stats.Video
			v.PacketsSent += dSent
			v.BytesSent += dBytes
			v.Framerate = framerate
			p.Stats.Framerate = framerate
		}
		s.registry.addTransferredLocked(dBytes)
		return nil
	})
	if err != nil {
		s.logger.Debugw("Dropping producer stats",
			"session_id", id,
			"producer_id", producerID,
			"error", err,
		)
	}
}

func copyScore(score domain.Score) domain.Score {
	if score.ProducerScores != nil {
		score.ProducerScores = append([]float64(nil), score.ProducerScores...)
	}
	return score
}
