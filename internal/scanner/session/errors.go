package session

import "errors"

var (
	// ErrInvalidPhase is returned when Start or Stop is not allowed in the
	// current phase.
	ErrInvalidPhase = errors.New("operation not allowed in current phase")
	// ErrReplyTimeout resolves a request whose retries were exhausted.
	ErrReplyTimeout = errors.New("no reply from device")
	// ErrRequestRefused resolves a request the device answered with a
	// non-zero result.
	ErrRequestRefused = errors.New("device refused request")
	// ErrClosed is returned after Close and resolves requests pending at
	// Close.
	ErrClosed = errors.New("controller closed")

	ErrNilHandler   = errors.New("laser scan handler must not be nil")
	ErrNilTransport = errors.New("control and data transports are required")
)
