package network

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrAlreadyReceiving is returned when StartAsyncReceiving is called twice.
	ErrAlreadyReceiving = errors.New("transport already receiving")
	// ErrReadOnly is returned by Write on receive-only transports.
	ErrReadOnly = errors.New("transport is receive-only")
	// ErrSendQueueFull is recorded when AsyncSend has to drop a datagram.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrSendFailed wraps errors from AsyncSend reported through OnError.
	ErrSendFailed = errors.New("async send failed")
)

// ReceiveHandlers are the callbacks a transport invokes from its receive
// goroutine. OnError and OnTimeout may be nil.
type ReceiveHandlers struct {
	// OnData receives one datagram. The slice is owned by the callee.
	OnData func(data []byte)
	// OnError reports a receive or send failure. The transport keeps running.
	OnError func(err error)
	// OnTimeout reports that nothing arrived within the receive timeout.
	OnTimeout func()
}

func (h ReceiveHandlers) data(b []byte) {
	if h.OnData != nil {
		h.OnData(b)
	}
}

func (h ReceiveHandlers) err(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h ReceiveHandlers) timeout() {
	if h.OnTimeout != nil {
		h.OnTimeout()
	}
}

// Transport is a datagram channel to or from the device.
//
// AsyncSend must not block and must not invoke any ReceiveHandlers callback
// on the caller's goroutine; send failures are reported through OnError
// later. Write sends synchronously.
type Transport interface {
	StartAsyncReceiving(h ReceiveHandlers) error
	AsyncSend(data []byte)
	Write(ctx context.Context, data []byte) error
	Close() error
}
