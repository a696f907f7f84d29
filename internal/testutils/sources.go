// Package testutils holds in-memory stat sources and a recording publisher
// for exercising the analytics engine without a media server.
package testutils

import (
	"context"
	"sync"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/pkg/listeners"
)

// statsStub answers GetStats with the configured samples or error.
type statsStub struct {
	mu      sync.Mutex
	samples []domain.StatSample
	err     error
	panicV  any
	calls   int
}

func (s *statsStub) SetStats(samples ...domain.StatSample) {
	s.mu.Lock()
	s.samples = samples
	s.mu.Unlock()
}

func (s *statsStub) SetStatsError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetStatsPanic makes the next queries panic with v.
func (s *statsStub) SetStatsPanic(v any) {
	s.mu.Lock()
	s.panicV = v
	s.mu.Unlock()
}

func (s *statsStub) StatsCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *statsStub) GetStats(ctx context.Context) ([]domain.StatSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panicV != nil {
		panic(s.panicV)
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.StatSample, len(s.samples))
	copy(out, s.samples)
	return out, nil
}

type FakeProducer struct {
	statsStub
	score listeners.Registry[domain.Score]
	close listeners.Signal
}

func NewFakeProducer() *FakeProducer {
	return &FakeProducer{}
}

func (p *FakeProducer) OnScore(handler func(domain.Score)) ports.Unsubscribe {
	return p.score.Add(handler)
}

func (p *FakeProducer) OnClose(handler func()) ports.Unsubscribe {
	return p.close.Add(handler)
}

func (p *FakeProducer) EmitScore(score domain.Score) { p.score.Emit(score) }
func (p *FakeProducer) EmitClose()                   { p.close.Emit() }

// Handlers reports how many handlers are still attached.
func (p *FakeProducer) Handlers() int {
	return p.score.Len() + p.close.Len()
}

type FakeConsumer struct {
	FakeProducer
	producerClose listeners.Signal
}

func NewFakeConsumer() *FakeConsumer {
	return &FakeConsumer{}
}

func (c *FakeConsumer) OnProducerClose(handler func()) ports.Unsubscribe {
	return c.producerClose.Add(handler)
}

func (c *FakeConsumer) EmitProducerClose() { c.producerClose.Emit() }

func (c *FakeConsumer) Handlers() int {
	return c.FakeProducer.Handlers() + c.producerClose.Len()
}

// FakePlainTransport reports connection state only.
type FakePlainTransport struct {
	statsStub
	typ   string
	state listeners.Registry[domain.TransportState]
	close listeners.Signal
}

func NewFakePlainTransport() *FakePlainTransport {
	return &FakePlainTransport{typ: "PlainTransport"}
}

func (t *FakePlainTransport) Type() string { return t.typ }

func (t *FakePlainTransport) OnConnectionStateChange(handler func(domain.TransportState)) ports.Unsubscribe {
	return t.state.Add(handler)
}

func (t *FakePlainTransport) OnClose(handler func()) ports.Unsubscribe {
	return t.close.Add(handler)
}

func (t *FakePlainTransport) EmitConnectionState(s domain.TransportState) { t.state.Emit(s) }
func (t *FakePlainTransport) EmitClose()                                  { t.close.Emit() }

func (t *FakePlainTransport) Handlers() int {
	return t.state.Len() + t.close.Len()
}

// FakeWebRtcTransport additionally reports ICE and DTLS states.
type FakeWebRtcTransport struct {
	FakePlainTransport
	ice  listeners.Registry[domain.TransportState]
	dtls listeners.Registry[domain.TransportState]
}

func NewFakeWebRtcTransport() *FakeWebRtcTransport {
	return &FakeWebRtcTransport{FakePlainTransport: FakePlainTransport{typ: "WebRtcTransport"}}
}

func (t *FakeWebRtcTransport) OnICEStateChange(handler func(domain.TransportState)) ports.Unsubscribe {
	return t.ice.Add(handler)
}

func (t *FakeWebRtcTransport) OnDTLSStateChange(handler func(domain.TransportState)) ports.Unsubscribe {
	return t.dtls.Add(handler)
}

func (t *FakeWebRtcTransport) EmitICEState(s domain.TransportState)  { t.ice.Emit(s) }
func (t *FakeWebRtcTransport) EmitDTLSState(s domain.TransportState) { t.dtls.Emit(s) }

func (t *FakeWebRtcTransport) Handlers() int {
	return t.FakePlainTransport.Handlers() + t.ice.Len() + t.dtls.Len()
}

var (
	_ ports.ProducerSource  = (*FakeProducer)(nil)
	_ ports.ConsumerSource  = (*FakeConsumer)(nil)
	_ ports.TransportSource = (*FakePlainTransport)(nil)
	_ ports.ICEStateSource  = (*FakeWebRtcTransport)(nil)
	_ ports.DTLSStateSource = (*FakeWebRtcTransport)(nil)
)

// RecordingPublisher keeps every published event.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *RecordingPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *RecordingPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

// Named returns the events published under name, in order.
func (p *RecordingPublisher) Named(name domain.EventName) []domain.Event {
	var out []domain.Event
	for _, ev := range p.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (p *RecordingPublisher) Count(name domain.EventName) int {
	return len(p.Named(name))
}
