package rtpmeter

import (
	"context"
	"math"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/pkg/listeners"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// ConsumerMeter tracks reception of one RTP stream: sequence gaps, RFC 3550
// interarrival jitter and byte counts. ReceiverReport builds the RTCP report
// for the stream and emits the matching score.
type ConsumerMeter struct {
	ssrc      uint32
	kind      domain.MediaKind
	clockRate uint32

	mu         sync.Mutex
	started    bool
	baseSeq    uint32
	maxSeq     uint16
	cycles     uint32
	received   uint64
	bytes      uint64
	jitter     float64 // RTP timestamp units
	transit    int64
	hasTransit bool

	// interval state for fraction lost
	priorExpected uint64
	priorReceived uint64
	closed        bool

	score         listeners.Registry[domain.Score]
	close         listeners.Signal
	producerClose listeners.Signal
}

// NewConsumerMeter meters the stream ssrc sampled at clockRate Hz
// (48000 for Opus, 90000 for video).
func NewConsumerMeter(ssrc uint32, kind domain.MediaKind, clockRate uint32) *ConsumerMeter {
	if clockRate == 0 {
		clockRate = 90000
	}
	return &ConsumerMeter{ssrc: ssrc, kind: kind, clockRate: clockRate}
}

// Receive decodes raw and records it as arrived at arrival.
func (m *ConsumerMeter) Receive(raw []byte, arrival time.Time) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return err
	}
	m.ReadRTP(&pkt, len(raw), arrival)
	return nil
}

// ReadRTP records pkt, size bytes on the wire, as arrived at arrival.
func (m *ConsumerMeter) ReadRTP(pkt *rtp.Packet, size int, arrival time.Time) {
	if pkt.SSRC != m.ssrc {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received++
	m.bytes += uint64(size)
	m.updateSequence(pkt.SequenceNumber)
	m.updateJitter(pkt.Timestamp, arrival)
}

func (m *ConsumerMeter) updateSequence(seq uint16) {
	if !m.started {
		m.started = true
		m.baseSeq = uint32(seq)
		m.maxSeq = seq
		return
	}
	// Forward distance below half the sequence space means a newer packet.
	if delta := seq - m.maxSeq; delta != 0 && delta < 0x8000 {
		if seq < m.maxSeq {
			m.cycles += 1 << 16
		}
		m.maxSeq = seq
	}
}

func (m *ConsumerMeter) updateJitter(timestamp uint32, arrival time.Time) {
	rate := int64(m.clockRate)
	arrivalUnits := arrival.Unix()*rate + int64(arrival.Nanosecond())*rate/int64(time.Second)
	transit := arrivalUnits - int64(timestamp)
	if m.hasTransit {
		d := math.Abs(float64(transit - m.transit))
		m.jitter += (d - m.jitter) / 16
	}
	m.transit = transit
	m.hasTransit = true
}

func (m *ConsumerMeter) expectedLocked() uint64 {
	if !m.started {
		return 0
	}
	return uint64(m.cycles) + uint64(m.maxSeq) - uint64(m.baseSeq) + 1
}

func (m *ConsumerMeter) lostLocked() uint64 {
	expected := m.expectedLocked()
	if expected <= m.received {
		return 0
	}
	return expected - m.received
}

// ReceiverReport builds the RTCP report for the interval since the previous
// call and emits the score derived from its fraction lost.
func (m *ConsumerMeter) ReceiverReport(senderSSRC uint32) *rtcp.ReceiverReport {
	m.mu.Lock()
	expected := m.expectedLocked()
	intervalExpected := expected - m.priorExpected
	intervalReceived := m.received - m.priorReceived
	m.priorExpected = expected
	m.priorReceived = m.received

	var fraction uint8
	if intervalExpected > 0 && intervalReceived < intervalExpected {
		fraction = uint8((intervalExpected - intervalReceived) * 256 / intervalExpected)
	}
	report := rtcp.ReceptionReport{
		SSRC:               m.ssrc,
		FractionLost:       fraction,
		TotalLost:          uint32(min(m.lostLocked(), 0xFFFFFF)),
		LastSequenceNumber: m.cycles | uint32(m.maxSeq),
		Jitter:             uint32(m.jitter),
	}
	m.mu.Unlock()

	s := ScoreFromFractionLost(fraction)
	m.score.Emit(domain.Score{Score: s, ProducerScore: s})

	return &rtcp.ReceiverReport{
		SSRC:    senderSSRC,
		Reports: []rtcp.ReceptionReport{report},
	}
}

func (m *ConsumerMeter) GetStats(ctx context.Context) ([]domain.StatSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	return []domain.StatSample{{
		Type:            domain.StatTypeInboundRTP,
		Kind:            m.kind,
		PacketsReceived: m.received,
		BytesReceived:   m.bytes,
		PacketsLost:     m.lostLocked(),
		Jitter:          m.jitter / float64(m.clockRate),
	}}, nil
}

func (m *ConsumerMeter) OnScore(handler func(domain.Score)) ports.Unsubscribe {
	return m.score.Add(handler)
}

func (m *ConsumerMeter) OnClose(handler func()) ports.Unsubscribe {
	return m.close.Add(handler)
}

func (m *ConsumerMeter) OnProducerClose(handler func()) ports.Unsubscribe {
	return m.producerClose.Add(handler)
}

// ProducerClosed tells observers the upstream producer went away.
func (m *ConsumerMeter) ProducerClosed() {
	m.producerClose.Emit()
}

// Close signals close handlers once.
func (m *ConsumerMeter) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.close.Emit()
}

var _ ports.ConsumerSource = (*ConsumerMeter)(nil)
