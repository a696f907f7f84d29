package services

import (
	"sync"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
)

type endpointKind string

const (
	producerEndpoint  endpointKind = "producer"
	consumerEndpoint  endpointKind = "consumer"
	transportEndpoint endpointKind = "transport"
)

type monitorKey struct {
	kind endpointKind
	id   domain.EndpointID
}

// endpointMonitor owns the handler subscriptions and the poll loop of one
// tracked endpoint. stop is idempotent.
type endpointMonitor struct {
	key     monitorKey
	session domain.SessionID
	poller  *statsPoller
	onStop  func(*endpointMonitor)

	mu      sync.Mutex
	unsubs  []ports.Unsubscribe
	stopped bool
}

func (m *endpointMonitor) subscribe(unsub ports.Unsubscribe) {
	if unsub == nil {
		return
	}
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		unsub()
		return
	}
	m.unsubs = append(m.unsubs, unsub)
	m.mu.Unlock()
}

func (m *endpointMonitor) stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	m.poller.stop()
	for _, unsub := range unsubs {
		unsub()
	}
	if m.onStop != nil {
		m.onStop(m)
	}
}

func (s *AnalyticsService) newMonitor(kind endpointKind, id domain.EndpointID, sessionID domain.SessionID, poller *statsPoller) *endpointMonitor {
	return &endpointMonitor{
		key:     monitorKey{kind: kind, id: id},
		session: sessionID,
		poller:  poller,
		onStop:  s.forget,
	}
}

// register starts the monitor's poll loop. A monitor already registered for
// the same endpoint is replaced and stopped.
func (s *AnalyticsService) register(m *endpointMonitor) error {
	s.monitorsMu.Lock()
	if s.closed {
		s.monitorsMu.Unlock()
		return ErrAnalyticsClosed
	}
	prev := s.monitors[m.key]
	s.monitors[m.key] = m
	m.poller.start(s.ctx)
	s.monitorsMu.Unlock()

	if prev != nil {
		prev.stop()
	}
	return nil
}

func (s *AnalyticsService) forget(m *endpointMonitor) {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	if s.monitors[m.key] == m {
		delete(s.monitors, m.key)
	}
}

// activeMonitors reports how many endpoints are currently being watched.
func (s *AnalyticsService) activeMonitors() int {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	return len(s.monitors)
}

// guard keeps a panicking source handler from unwinding into the source.
func (s *AnalyticsService) guard(handler string, id domain.EndpointID, fn func()) func() {
	return func() {
		defer s.recoverHandler(handler, id)
		fn()
	}
}

func guardValue[T any](s *AnalyticsService, handler string, id domain.EndpointID, fn func(T)) func(T) {
	return func(v T) {
		defer s.recoverHandler(handler, id)
		fn(v)
	}
}

func (s *AnalyticsService) recoverHandler(handler string, id domain.EndpointID) {
	if r := recover(); r != nil {
		s.logger.Errorw("Recovered panic in source handler",
			"handler", handler,
			"endpoint_id", id,
			"panic", r,
		)
	}
}
