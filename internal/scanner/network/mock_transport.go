package network

import (
	"context"
	"sync"
)

// CallLog records transport calls across several MockTransports so tests can
// check their relative order.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// Calls returns the recorded calls in order.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// MockTransport is an in-memory Transport for tests. Datagrams sent through
// it are recorded; received datagrams are injected with InjectData.
type MockTransport struct {
	name string
	// Log, if set, records "<name>.<call>" entries.
	Log *CallLog
	// StartReceivingErr is returned by StartAsyncReceiving if set.
	StartReceivingErr error
	// WriteErr is returned by Write if set.
	WriteErr error

	mu        sync.Mutex
	handlers  ReceiveHandlers
	receiving bool
	closed    bool
	sent      [][]byte
	sendHook  func([]byte)
	closeErr  error
}

// NewMockTransport creates a mock named name, e.g. "control".
func NewMockTransport(name string) *MockTransport {
	return &MockTransport{name: name}
}

func (m *MockTransport) StartAsyncReceiving(h ReceiveHandlers) error {
	m.Log.add(m.name + ".StartAsyncReceiving")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartReceivingErr != nil {
		return m.StartReceivingErr
	}
	if m.closed {
		return ErrClosed
	}
	if m.receiving {
		return ErrAlreadyReceiving
	}
	m.handlers = h
	m.receiving = true
	return nil
}

// AsyncSend records data. A hook installed with OnSend runs on its own
// goroutine.
func (m *MockTransport) AsyncSend(data []byte) {
	m.Log.add(m.name + ".AsyncSend")
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	packet := append([]byte(nil), data...)
	m.sent = append(m.sent, packet)
	hook := m.sendHook
	m.mu.Unlock()
	if hook != nil {
		go hook(packet)
	}
}

func (m *MockTransport) Write(ctx context.Context, data []byte) error {
	m.Log.add(m.name + ".Write")
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	return nil
}

func (m *MockTransport) Close() error {
	m.Log.add(m.name + ".Close")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

// SetCloseError makes Close return err.
func (m *MockTransport) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// OnSend installs a hook called with every AsyncSend datagram.
func (m *MockTransport) OnSend(hook func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendHook = hook
}

// Sent returns a copy of every datagram sent so far.
func (m *MockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, p := range m.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Receiving reports whether StartAsyncReceiving succeeded.
func (m *MockTransport) Receiving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receiving
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockTransport) current() (ReceiveHandlers, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers, m.receiving && !m.closed
}

// InjectData delivers data to OnData on the calling goroutine. It is a no-op
// until receiving has started.
func (m *MockTransport) InjectData(data []byte) {
	if h, ok := m.current(); ok {
		h.data(append([]byte(nil), data...))
	}
}

// InjectError delivers err to OnError on the calling goroutine.
func (m *MockTransport) InjectError(err error) {
	if h, ok := m.current(); ok {
		h.err(err)
	}
}

// InjectTimeout invokes OnTimeout on the calling goroutine.
func (m *MockTransport) InjectTimeout() {
	if h, ok := m.current(); ok {
		h.timeout()
	}
}
