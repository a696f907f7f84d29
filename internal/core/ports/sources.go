package ports

import (
	"context"

	"callscope/internal/core/domain"
)

// Unsubscribe detaches a handler registered on a source. Calling it more than
// once is a no-op.
type Unsubscribe func()

// StatSource is the stats query every media endpoint answers.
type StatSource interface {
	GetStats(ctx context.Context) ([]domain.StatSample, error)
}

type ProducerSource interface {
	StatSource
	OnScore(handler func(domain.Score)) Unsubscribe
	OnClose(handler func()) Unsubscribe
}

type ConsumerSource interface {
	ProducerSource
	OnProducerClose(handler func()) Unsubscribe
}

type TransportSource interface {
	StatSource
	// Type names the transport flavour, for example "WebRtcTransport" or "PlainTransport".
	Type() string
	OnConnectionStateChange(handler func(domain.TransportState)) Unsubscribe
	OnClose(handler func()) Unsubscribe
}

// ICEStateSource is implemented by transports that run interactive connectivity establishment.
type ICEStateSource interface {
	OnICEStateChange(handler func(domain.TransportState)) Unsubscribe
}

// DTLSStateSource is implemented by transports that negotiate DTLS.
type DTLSStateSource interface {
	OnDTLSStateChange(handler func(domain.TransportState)) Unsubscribe
}
