package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"callscope/internal/core/domain"

	"github.com/looplab/fsm"
)

// Session lifecycle states. A session is active until EndSession, ended while
// it sits in the retention window and archived once purged from memory.
const (
	lifecycleActive   = "active"
	lifecycleEnded    = "ended"
	lifecycleArchived = "archived"

	lifecycleEnd     = "end"
	lifecycleArchive = "archive"
)

var errEndpointNotFound = errors.New("endpoint not tracked")

func newSessionLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		lifecycleActive,
		fsm.Events{
			{Name: lifecycleEnd, Src: []string{lifecycleActive}, Dst: lifecycleEnded},
			{Name: lifecycleArchive, Src: []string{lifecycleEnded}, Dst: lifecycleArchived},
		},
		fsm.Callbacks{},
	)
}

type counterKey struct {
	endpoint domain.EndpointID
	counter  string
}

type sessionEntry struct {
	session    *domain.CallSession
	generation uint64
	lifecycle  *fsm.FSM
	counters   map[counterKey]uint64
	polledAt   map[domain.EndpointID]time.Time
	retention  *time.Timer
}

// delta returns how much a cumulative endpoint counter grew since the last
// sample. A value below the previous one is a counter reset and counts in full.
func (e *sessionEntry) delta(endpoint domain.EndpointID, counter string, value uint64) uint64 {
	key := counterKey{endpoint: endpoint, counter: counter}
	prev, seen := e.counters[key]
	e.counters[key] = value
	if !seen || value < prev {
		return value
	}
	return value - prev
}

// sessionRegistry owns every session and the global metrics. All access goes
// through its lock; callers receive deep copies.
type sessionRegistry struct {
	mu         sync.RWMutex
	sessions   map[domain.SessionID]*sessionEntry
	metrics    domain.GlobalMetrics
	generation uint64
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[domain.SessionID]*sessionEntry),
		metrics:  domain.NewGlobalMetrics(),
	}
}

// add registers a new active session. An ended session still held for
// retention is replaced; a live one is left untouched.
func (r *sessionRegistry) add(s *domain.CallSession) (*domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[s.SessionID]; ok {
		if prev.session.IsActive() {
			return nil, domain.ErrSessionExists
		}
		if prev.retention != nil {
			prev.retention.Stop()
		}
	}

	r.generation++
	r.sessions[s.SessionID] = &sessionEntry{
		session:    s,
		generation: r.generation,
		lifecycle:  newSessionLifecycle(),
		counters:   make(map[counterKey]uint64),
		polledAt:   make(map[domain.EndpointID]time.Time),
	}
	r.metrics.TotalCalls++
	r.metrics.ActiveCalls++
	r.metrics.TotalParticipants++

	return s.Clone(), nil
}

// end closes an active session and returns its copy and generation.
func (r *sessionRegistry) end(ctx context.Context, id domain.SessionID, now time.Time) (*domain.CallSession, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, 0, domain.ErrSessionNotFound
	}
	if err := e.lifecycle.Event(ctx, lifecycleEnd); err != nil {
		return nil, 0, domain.ErrSessionEnded
	}

	e.session.End(now)
	r.metrics.ActiveCalls--
	r.metrics.TotalParticipants--
	r.metrics.AverageCallDuration = r.averageDurationLocked()

	return e.session.Clone(), e.generation, nil
}

func (r *sessionRegistry) averageDurationLocked() time.Duration {
	var total time.Duration
	var completed int64
	for _, e := range r.sessions {
		if e.session.IsActive() {
			continue
		}
		total += e.session.Duration
		completed++
	}
	if completed == 0 {
		return 0
	}
	return total / time.Duration(completed)
}

// expireAfter purges the session once d elapses unless it has been replaced
// by a newer generation in the meantime.
func (r *sessionRegistry) expireAfter(id domain.SessionID, generation uint64, d time.Duration, onRemoved func(*domain.CallSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.generation != generation {
		return
	}
	e.retention = time.AfterFunc(d, func() {
		if s := r.remove(id, generation); s != nil && onRemoved != nil {
			onRemoved(s)
		}
	})
}

func (r *sessionRegistry) remove(id domain.SessionID, generation uint64) *domain.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.generation != generation {
		return nil
	}
	if err := e.lifecycle.Event(context.Background(), lifecycleArchive); err != nil {
		return nil
	}
	delete(r.sessions, id)
	return e.session
}

// mutate runs fn under the write lock against the session's entry.
func (r *sessionRegistry) mutate(id domain.SessionID, fn func(e *sessionEntry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	return fn(e)
}

// view runs fn under the read lock. fn must not modify the entry.
func (r *sessionRegistry) view(id domain.SessionID, fn func(e *sessionEntry)) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	fn(e)
	return nil
}

func (r *sessionRegistry) each(fn func(e *sessionEntry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.sessions {
		fn(e)
	}
}

func (r *sessionRegistry) lifecycleState(id domain.SessionID) (string, error) {
	var state string
	err := r.view(id, func(e *sessionEntry) {
		state = e.lifecycle.Current()
	})
	return state, err
}

// countError bumps the global counter for a known kind. Unknown kinds are ignored.
func (r *sessionRegistry) countError(kind domain.ErrorKind) {
	if !kind.Valid() {
		return
	}
	r.mu.Lock()
	r.metrics.Errors[kind]++
	r.mu.Unlock()
}

func (r *sessionRegistry) globalMetrics() domain.GlobalMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics.Clone()
}

// addTransferredLocked must be called from within mutate.
func (r *sessionRegistry) addTransferredLocked(n uint64) {
	r.metrics.TotalDataTransferred += n
}

// stopTimers cancels all pending retention timers.
func (r *sessionRegistry) stopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.sessions {
		if e.retention != nil {
			e.retention.Stop()
			e.retention = nil
		}
	}
}
