package webrtc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/pkg/listeners"

	"github.com/pion/webrtc/v3"
)

// TransportType is what PeerConnectionTransport reports from Type.
const TransportType = "WebRtcTransport"

type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// NewPeerConnection builds a PeerConnection using the configured ICE servers
// and UDP port range.
func NewPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
}

// PeerConnectionTransport exposes a pion PeerConnection as a transport stat
// source. It takes over the connection, ICE and DTLS state callbacks of pc;
// register further observers through the On* methods instead.
type PeerConnectionTransport struct {
	pc *webrtc.PeerConnection

	connection listeners.Registry[domain.TransportState]
	ice        listeners.Registry[domain.TransportState]
	dtls       listeners.Registry[domain.TransportState]
	closed     listeners.Signal
	closeOnce  sync.Once
}

func NewPeerConnectionTransport(pc *webrtc.PeerConnection) *PeerConnectionTransport {
	t := &PeerConnectionTransport{pc: pc}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		emitState(&t.connection, state)
		if state == webrtc.PeerConnectionStateClosed {
			t.closeOnce.Do(t.closed.Emit)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		emitState(&t.ice, state)
	})
	if sctp := pc.SCTP(); sctp != nil {
		if dtls := sctp.Transport(); dtls != nil {
			dtls.OnStateChange(func(state webrtc.DTLSTransportState) {
				emitState(&t.dtls, state)
			})
		}
	}
	return t
}

var knownStates = map[domain.TransportState]struct{}{
	domain.TransportStateNew:          {},
	domain.TransportStateChecking:     {},
	domain.TransportStateConnecting:   {},
	domain.TransportStateConnected:    {},
	domain.TransportStateCompleted:    {},
	domain.TransportStateDisconnected: {},
	domain.TransportStateFailed:       {},
	domain.TransportStateClosed:       {},
}

// ParseState maps a pion state onto the shared state vocabulary. Pion's
// state names already match it; anything else is reported as unknown.
func ParseState(state fmt.Stringer) (domain.TransportState, bool) {
	s := domain.TransportState(state.String())
	_, ok := knownStates[s]
	return s, ok
}

func emitState(reg *listeners.Registry[domain.TransportState], state fmt.Stringer) {
	if s, ok := ParseState(state); ok {
		reg.Emit(s)
	}
}

func (t *PeerConnectionTransport) Type() string { return TransportType }

func (t *PeerConnectionTransport) OnConnectionStateChange(handler func(domain.TransportState)) ports.Unsubscribe {
	return t.connection.Add(handler)
}

func (t *PeerConnectionTransport) OnICEStateChange(handler func(domain.TransportState)) ports.Unsubscribe {
	return t.ice.Add(handler)
}

func (t *PeerConnectionTransport) OnDTLSStateChange(handler func(domain.TransportState)) ports.Unsubscribe {
	return t.dtls.Add(handler)
}

// OnClose fires once, when the connection state reaches closed.
func (t *PeerConnectionTransport) OnClose(handler func()) ports.Unsubscribe {
	return t.closed.Add(handler)
}

func (t *PeerConnectionTransport) GetStats(ctx context.Context) ([]domain.StatSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SamplesFromReport(t.pc.GetStats()), nil
}

// SamplesFromReport converts a pion stats report into transport and
// candidate pair samples. Loss reported by inbound RTP streams is summed into
// the transport sample.
func SamplesFromReport(report webrtc.StatsReport) []domain.StatSample {
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var lost uint64
	for _, id := range ids {
		if in, ok := report[id].(webrtc.InboundRTPStreamStats); ok && in.PacketsLost > 0 {
			lost += uint64(in.PacketsLost)
		}
	}

	var samples []domain.StatSample
	for _, id := range ids {
		switch st := report[id].(type) {
		case webrtc.TransportStats:
			samples = append(samples, domain.StatSample{
				Type:            domain.StatTypeTransport,
				BytesSent:       st.BytesSent,
				BytesReceived:   st.BytesReceived,
				PacketsSent:     uint64(st.PacketsSent),
				PacketsReceived: uint64(st.PacketsReceived),
				PacketsLost:     lost,
			})
		case webrtc.ICECandidatePairStats:
			samples = append(samples, domain.StatSample{
				Type:                 domain.StatTypeCandidatePair,
				Nominated:            st.Nominated,
				CurrentRoundTripTime: secondsToDuration(st.CurrentRoundTripTime),
				BytesSent:            st.BytesSent,
				BytesReceived:        st.BytesReceived,
			})
		}
	}
	return samples
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var (
	_ ports.TransportSource = (*PeerConnectionTransport)(nil)
	_ ports.ICEStateSource  = (*PeerConnectionTransport)(nil)
	_ ports.DTLSStateSource = (*PeerConnectionTransport)(nil)
)
