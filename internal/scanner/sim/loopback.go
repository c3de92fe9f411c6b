package sim

import (
	"context"
	"sync"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner/network"
)

// ControlLoopback is a control-channel Transport answered by an in-process
// Device. Replies are delivered on their own goroutine.
type ControlLoopback struct {
	dev *Device

	mu        sync.Mutex
	handlers  network.ReceiveHandlers
	receiving bool
	closed    bool
	wg        sync.WaitGroup
}

var _ network.Transport = (*ControlLoopback)(nil)

func NewControlLoopback(dev *Device) *ControlLoopback {
	return &ControlLoopback{dev: dev}
}

func (l *ControlLoopback) StartAsyncReceiving(h network.ReceiveHandlers) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return network.ErrClosed
	}
	if l.receiving {
		return network.ErrAlreadyReceiving
	}
	l.handlers = h
	l.receiving = true
	return nil
}

func (l *ControlLoopback) AsyncSend(data []byte) {
	packet := append([]byte(nil), data...)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		reply, err := l.dev.HandleRequest(packet)
		if err != nil {
			monitoring.Debugf("sim: dropping undecodable request: %v", err)
			return
		}
		l.mu.Lock()
		h, ok := l.handlers, l.receiving && !l.closed
		l.mu.Unlock()
		if ok && h.OnData != nil {
			h.OnData(reply)
		}
	}()
}

func (l *ControlLoopback) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.AsyncSend(data)
	return nil
}

// Close waits for in-flight replies to be delivered.
func (l *ControlLoopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
