package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/pkg/tracing"

	"go.uber.org/zap"
)

var ErrAnalyticsClosed = errors.New("analytics service closed")

// AnalyticsOptions tunes retention, poll cadence and log caps.
type AnalyticsOptions struct {
	RetentionPeriod       time.Duration
	ProducerPollInterval  time.Duration
	ConsumerPollInterval  time.Duration
	TransportPollInterval time.Duration
	SessionEventLogSize   int
	TransportEventLogSize int
	RecentEventsLimit     int
}

func DefaultAnalyticsOptions() AnalyticsOptions {
	return AnalyticsOptions{
		RetentionPeriod:       time.Hour,
		ProducerPollInterval:  5 * time.Second,
		ConsumerPollInterval:  5 * time.Second,
		TransportPollInterval: 10 * time.Second,
		SessionEventLogSize:   500,
		TransportEventLogSize: 100,
		RecentEventsLimit:     10,
	}
}

// withDefaults fills unset fields from DefaultAnalyticsOptions.
func (o AnalyticsOptions) withDefaults() AnalyticsOptions {
	d := DefaultAnalyticsOptions()
	if o.RetentionPeriod <= 0 {
		o.RetentionPeriod = d.RetentionPeriod
	}
	if o.ProducerPollInterval <= 0 {
		o.ProducerPollInterval = d.ProducerPollInterval
	}
	if o.ConsumerPollInterval <= 0 {
		o.ConsumerPollInterval = d.ConsumerPollInterval
	}
	if o.TransportPollInterval <= 0 {
		o.TransportPollInterval = d.TransportPollInterval
	}
	if o.SessionEventLogSize <= 0 {
		o.SessionEventLogSize = d.SessionEventLogSize
	}
	if o.TransportEventLogSize <= 0 {
		o.TransportEventLogSize = d.TransportEventLogSize
	}
	if o.RecentEventsLimit <= 0 {
		o.RecentEventsLimit = d.RecentEventsLimit
	}
	return o
}

type Option func(*AnalyticsService)

func WithClock(now func() time.Time) Option {
	return func(s *AnalyticsService) {
		s.now = now
	}
}

func WithOptions(opts AnalyticsOptions) Option {
	return func(s *AnalyticsService) {
		s.opts = opts
	}
}

func WithQualityService(q *QualityService) Option {
	return func(s *AnalyticsService) {
		s.quality = q
	}
}

// AnalyticsService aggregates session, endpoint and process-wide telemetry.
// It is safe for concurrent use.
type AnalyticsService struct {
	registry  *sessionRegistry
	publisher ports.EventPublisher
	logger    *zap.SugaredLogger
	quality   *QualityService
	opts      AnalyticsOptions
	now       func() time.Time
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc

	monitorsMu sync.Mutex
	monitors   map[monitorKey]*endpointMonitor
	closed     bool
}

func NewAnalyticsService(publisher ports.EventPublisher, logger *zap.SugaredLogger, options ...Option) *AnalyticsService {
	s := &AnalyticsService{
		registry:  newSessionRegistry(),
		publisher: publisher,
		logger:    logger,
		quality:   NewQualityService(),
		opts:      DefaultAnalyticsOptions(),
		now:       time.Now,
		monitors:  make(map[monitorKey]*endpointMonitor),
	}
	for _, opt := range options {
		opt(s)
	}
	s.opts = s.opts.withDefaults()
	if s.publisher == nil {
		s.publisher = discardPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	s.startTime = s.now()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

type discardPublisher struct{}

func (discardPublisher) Publish(domain.Event) {}

func (s *AnalyticsService) StartSession(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, displayName string, device domain.Device) (*domain.CallSession, error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "StartSession", string(roomID), string(peerID))
	defer span.End()

	session := domain.NewCallSession(roomID, peerID, displayName, device, s.now(), s.opts.SessionEventLogSize)
	snapshot, err := s.registry.add(session)
	if err != nil {
		s.logger.Warnw("Call session already active",
			"session_id", session.SessionID,
		)
		tracing.RecordError(ctx, err)
		return nil, err
	}

	s.logger.Infow("Call session started",
		"session_id", snapshot.SessionID,
		"room_id", roomID,
		"peer_id", peerID,
	)
	s.publish(domain.CallSessionStarted, snapshot.SessionID, roomID, snapshot.Clone())
	return snapshot, nil
}

func (s *AnalyticsService) EndSession(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (*domain.CallSession, error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "EndSession", string(roomID), string(peerID))
	defer span.End()

	id := domain.NewSessionID(roomID, peerID)
	snapshot, generation, err := s.registry.end(ctx, id, s.now())
	if err != nil {
		s.logger.Warnw("Cannot end call session",
			"session_id", id,
			"error", err,
		)
		tracing.RecordError(ctx, err)
		return nil, err
	}

	s.registry.expireAfter(id, generation, s.opts.RetentionPeriod, func(removed *domain.CallSession) {
		s.logger.Debugw("Call session purged after retention",
			"session_id", removed.SessionID,
		)
	})

	tracing.AddSpanAttributes(ctx, tracing.DurationKey.Int64(snapshot.Duration.Milliseconds()))
	s.logger.Infow("Call session ended",
		"session_id", id,
		"duration_ms", snapshot.Duration.Milliseconds(),
	)
	s.publish(domain.CallSessionEnded, id, roomID, snapshot.Clone())
	return snapshot, nil
}

// RecordError appends an error event to the session when it exists and counts
// it globally when the kind is known. It never fails.
func (s *AnalyticsService) RecordError(roomID domain.RoomID, peerID domain.PeerID, kind domain.ErrorKind, cause error, errContext map[string]string) {
	id := domain.NewSessionID(roomID, peerID)
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	event := domain.SessionEvent{
		Type:      domain.EventError,
		Timestamp: s.now(),
		ErrorKind: kind,
		Message:   message,
		Context:   copyContext(errContext),
	}

	_ = s.registry.mutate(id, func(e *sessionEntry) error {
		e.session.Events.Append(event.Clone())
		return nil
	})
	s.registry.countError(kind)

	if !kind.Valid() {
		s.logger.Warnw("Error kind not counted",
			"session_id", id,
			"error_type", kind,
			"error", domain.ErrUnknownErrorKind,
		)
	}
	s.logger.Errorw("Error recorded",
		"session_id", id,
		"error_type", kind,
		"error", message,
	)
	s.publish(domain.ErrorRecorded, id, roomID, domain.ErrorPayload{Event: event})
}

func copyContext(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return domain.SessionEvent{Context: m}.Clone().Context
}

func (s *AnalyticsService) GetSessionAnalytics(id domain.SessionID) (*domain.CallSession, error) {
	var out *domain.CallSession
	err := s.registry.view(id, func(e *sessionEntry) {
		out = e.session.Clone()
	})
	return out, err
}

func (s *AnalyticsService) GetRoomAnalytics(roomID domain.RoomID) domain.RoomAnalytics {
	now := s.now()
	room := domain.RoomAnalytics{
		RoomID:    roomID,
		Sessions:  []domain.RoomSessionSummary{},
		Timestamp: now,
	}
	var qualitySum float64
	s.registry.each(func(e *sessionEntry) {
		sess := e.session
		if sess.RoomID != roomID {
			return
		}
		room.TotalParticipants++
		if sess.IsActive() {
			room.ActiveParticipants++
		}
		qualitySum += sess.Stats.ConnectionQuality.Score
		room.Sessions = append(room.Sessions, domain.RoomSessionSummary{
			SessionID:         sess.SessionID,
			PeerID:            sess.PeerID,
			DisplayName:       sess.DisplayName,
			StartTime:         sess.StartTime,
			Duration:          sess.Elapsed(now),
			ConnectionQuality: sess.Stats.ConnectionQuality,
			IsActive:          sess.IsActive(),
		})
		for _, ev := range sess.Events.Items() {
			if ev.Type == domain.EventError {
				room.RecentErrors = append(room.RecentErrors, ev.Clone())
			}
		}
	})
	if room.TotalParticipants > 0 {
		room.AverageConnectionQuality = qualitySum / float64(room.TotalParticipants)
	}

	sort.Slice(room.Sessions, func(i, j int) bool {
		return room.Sessions[i].StartTime.Before(room.Sessions[j].StartTime)
	})
	sort.SliceStable(room.RecentErrors, func(i, j int) bool {
		return room.RecentErrors[i].Timestamp.Before(room.RecentErrors[j].Timestamp)
	})
	if limit := s.opts.RecentEventsLimit; len(room.RecentErrors) > limit {
		room.RecentErrors = room.RecentErrors[len(room.RecentErrors)-limit:]
	}
	return room
}

// ListRoomAnalytics returns one snapshot per room holding a retained session.
func (s *AnalyticsService) ListRoomAnalytics() []domain.RoomAnalytics {
	rooms := s.roomIDs()
	out := make([]domain.RoomAnalytics, 0, len(rooms))
	for _, roomID := range rooms {
		out = append(out, s.GetRoomAnalytics(roomID))
	}
	return out
}

func (s *AnalyticsService) roomIDs() []domain.RoomID {
	seen := make(map[domain.RoomID]struct{})
	s.registry.each(func(e *sessionEntry) {
		seen[e.session.RoomID] = struct{}{}
	})
	rooms := make([]domain.RoomID, 0, len(seen))
	for roomID := range seen {
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

func (s *AnalyticsService) GetGlobalMetrics() domain.GlobalMetrics {
	now := s.now()
	m := s.registry.globalMetrics()
	m.Timestamp = now
	m.Uptime = now.Sub(s.startTime)
	return m
}

func (s *AnalyticsService) GetRealtimeStats(id domain.SessionID) (*domain.RealtimeStats, error) {
	var out *domain.RealtimeStats
	err := s.registry.view(id, func(e *sessionEntry) {
		sess := e.session
		out = &domain.RealtimeStats{
			SessionID:         sess.SessionID,
			ConnectionQuality: sess.Stats.ConnectionQuality,
			AudioStats:        sess.Stats.Audio,
			VideoStats:        sess.Stats.Video,
			Producers:         make([]*domain.ProducerRecord, 0, len(sess.Producers)),
			Consumers:         make([]*domain.ConsumerRecord, 0, len(sess.Consumers)),
			Transports:        make([]*domain.TransportRecord, 0, len(sess.Transports)),
			RecentEvents:      domain.CloneEvents(sess.Events.Last(s.opts.RecentEventsLimit)),
		}
		for _, p := range sess.Producers {
			out.Producers = append(out.Producers, p.Clone())
		}
		for _, c := range sess.Consumers {
			out.Consumers = append(out.Consumers, c.Clone())
		}
		for _, t := range sess.Transports {
			out.Transports = append(out.Transports, t.Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out.Producers, func(i, j int) bool { return out.Producers[i].StartTime.Before(out.Producers[j].StartTime) })
	sort.Slice(out.Consumers, func(i, j int) bool { return out.Consumers[i].StartTime.Before(out.Consumers[j].StartTime) })
	sort.Slice(out.Transports, func(i, j int) bool { return out.Transports[i].StartTime.Before(out.Transports[j].StartTime) })
	return out, nil
}

// Uptime reports how long the service has been running.
func (s *AnalyticsService) Uptime() time.Duration {
	return s.now().Sub(s.startTime)
}

// Close stops every poll loop, detaches all source handlers and cancels
// pending retention timers. Tracking after Close returns ErrAnalyticsClosed.
func (s *AnalyticsService) Close() {
	s.monitorsMu.Lock()
	if s.closed {
		s.monitorsMu.Unlock()
		return
	}
	s.closed = true
	monitors := make([]*endpointMonitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.monitorsMu.Unlock()

	s.cancel()
	for _, m := range monitors {
		m.stop()
		<-m.poller.stopped()
	}
	s.registry.stopTimers()
	s.logger.Infow("Analytics service closed",
		"monitors", len(monitors),
	)
}

// Ready returns ErrAnalyticsClosed once Close has been called.
func (s *AnalyticsService) Ready(ctx context.Context) error {
	if s.isClosed() {
		return ErrAnalyticsClosed
	}
	return ctx.Err()
}

// ActiveMonitors counts endpoints currently being polled.
func (s *AnalyticsService) ActiveMonitors() int {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	return len(s.monitors)
}

func (s *AnalyticsService) isClosed() bool {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	return s.closed
}

func (s *AnalyticsService) publish(name domain.EventName, sessionID domain.SessionID, roomID domain.RoomID, payload any) {
	s.publisher.Publish(domain.Event{
		Name:      name,
		Timestamp: s.now(),
		SessionID: sessionID,
		RoomID:    roomID,
		Payload:   payload,
	})
}

func sessionNotFound(id domain.SessionID) error {
	return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
}

var _ ports.AnalyticsService = (*AnalyticsService)(nil)

