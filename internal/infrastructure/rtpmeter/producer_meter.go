// Package rtpmeter derives producer and consumer statistics from the RTP and
// RTCP packets an application forwards, for hosts that handle media
// themselves instead of querying a media server.
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

// ProducerMeter counts outgoing RTP packets of one stream and turns the
// receiver reports that come back for it into loss figures and scores.
type ProducerMeter struct {
	ssrc uint32
	kind domain.MediaKind
	now  func() time.Time

	mu          sync.Mutex
	packetsSent uint64
	bytesSent   uint64
	packetsLost uint64
	frames      uint64
	lastFrames  uint64
	lastPoll    time.Time
	framerate   float64
	closed      bool

	score listeners.Registry[domain.Score]
	close listeners.Signal
}

func NewProducerMeter(ssrc uint32, kind domain.MediaKind) *ProducerMeter {
	return &ProducerMeter{ssrc: ssrc, kind: kind, now: time.Now}
}

// WriteRTP records pkt as sent. A set marker bit ends a video frame.
func (m *ProducerMeter) WriteRTP(pkt *rtp.Packet) {
	if pkt.SSRC != m.ssrc {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsSent++
	m.bytesSent += uint64(pkt.MarshalSize())
	if pkt.Marker {
		m.frames++
	}
}

// HandleRTCP applies the reception reports addressed to this stream and
// emits a score for each. Other packets are ignored.
func (m *ProducerMeter) HandleRTCP(pkts []rtcp.Packet) {
	for _, pkt := range pkts {
		var reports []rtcp.ReceptionReport
		switch p := pkt.(type) {
		case *rtcp.ReceiverReport:
			reports = p.Reports
		case *rtcp.SenderReport:
			reports = p.Reports
		default:
			continue
		}
		for _, r := range reports {
			if r.SSRC != m.ssrc {
				continue
			}
			m.mu.Lock()
			m.packetsLost = uint64(r.TotalLost)
			m.mu.Unlock()

			s := ScoreFromFractionLost(r.FractionLost)
			m.score.Emit(domain.Score{Score: s, ProducerScore: s})
		}
	}
}

// ScoreFromFractionLost maps an RTCP fraction lost (n/256) onto the 0-10
// score scale: 10 without loss, 0 from 20% loss on.
func ScoreFromFractionLost(fraction uint8) float64 {
	loss := float64(fraction) / 256
	return math.Round(math.Max(0, 10*(1-loss*5)))
}

func (m *ProducerMeter) GetStats(ctx context.Context) ([]domain.StatSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kind == domain.KindVideo && !m.lastPoll.IsZero() {
		if elapsed := now.Sub(m.lastPoll).Seconds(); elapsed > 0 {
			m.framerate = float64(m.frames-m.lastFrames) / elapsed
		}
	}
	m.lastPoll = now
	m.lastFrames = m.frames

	return []domain.StatSample{{
		Type:            domain.StatTypeOutboundRTP,
		Kind:            m.kind,
		PacketsSent:     m.packetsSent,
		BytesSent:       m.bytesSent,
		PacketsLost:     m.packetsLost,
		FramesPerSecond: m.framerate,
	}}, nil
}

func (m *ProducerMeter) OnScore(handler func(domain.Score)) ports.Unsubscribe {
	return m.score.Add(handler)
}

func (m *ProducerMeter) OnClose(handler func()) ports.Unsubscribe {
	return m.close.Add(handler)
}

// Close signals close handlers once.
func (m *ProducerMeter) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.close.Emit()
}

var _ ports.ProducerSource = (*ProducerMeter)(nil)
