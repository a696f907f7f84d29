package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExists    = errors.New("session already active")
	ErrSessionEnded     = errors.New("session already ended")
	ErrRecordNotFound   = errors.New("call record not found")
	ErrUnknownErrorKind = errors.New("unknown error kind")
)

// ErrorKind classifies failures signalled by the media engine.
type ErrorKind string

const (
	ErrorConnectionFailure ErrorKind = "connection_failure"
	ErrorProducerFailure   ErrorKind = "producer_failure"
	ErrorConsumerFailure   ErrorKind = "consumer_failure"
	ErrorTransportFailure  ErrorKind = "transport_failure"
)

var ErrorKinds = []ErrorKind{
	ErrorConnectionFailure,
	ErrorProducerFailure,
	ErrorConsumerFailure,
	ErrorTransportFailure,
}

func (k ErrorKind) Valid() bool {
	switch k {
	case ErrorConnectionFailure, ErrorProducerFailure, ErrorConsumerFailure, ErrorTransportFailure:
		return true
	}
	return false
}
