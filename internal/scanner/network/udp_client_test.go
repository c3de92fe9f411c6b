package network

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"
)

// recorder collects transport callbacks for assertions.
type recorder struct {
	mu       sync.Mutex
	data     [][]byte
	errs     []error
	timeouts int
}

func (r *recorder) handlers() ReceiveHandlers {
	return ReceiveHandlers{
		OnData: func(b []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.data = append(r.data, b)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnTimeout: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.timeouts++
		},
	}
}

func (r *recorder) snapshot() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data), len(r.errs), r.timeouts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newMockClient(t *testing.T, sock *MockUDPSocket, cfg UDPClientConfig) *UDPClient {
	t.Helper()
	factory := &MockUDPSocketFactory{Socket: sock}
	cfg.SocketFactory = factory
	if !cfg.LocalAddr.IsValid() {
		cfg.LocalAddr = netip.MustParseAddrPort("127.0.0.1:55055")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	c, err := NewUDPClient(cfg)
	if err != nil {
		t.Fatalf("NewUDPClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if len(factory.ListenCalls) != 1 || factory.ListenCalls[0].Network != "udp4" {
		t.Fatalf("Expected one udp4 listen call, got %+v", factory.ListenCalls)
	}
	return c
}

func TestUDPClient_DeliversDatagrams(t *testing.T) {
	sock := NewMockUDPSocket(
		MockUDPPacket{Data: []byte{1, 2, 3}},
		MockUDPPacket{Data: []byte{4}},
	)
	c := newMockClient(t, sock, UDPClientConfig{Name: "data", RcvBuf: 1 << 20})

	if sock.ReadBufferSize() != 1<<20 {
		t.Errorf("Expected receive buffer %d, got %d", 1<<20, sock.ReadBufferSize())
	}

	var r recorder
	if err := c.StartAsyncReceiving(r.handlers()); err != nil {
		t.Fatalf("StartAsyncReceiving failed: %v", err)
	}
	if err := c.StartAsyncReceiving(r.handlers()); !errors.Is(err, ErrAlreadyReceiving) {
		t.Errorf("Expected ErrAlreadyReceiving, got %v", err)
	}

	waitFor(t, "two datagrams", func() bool { n, _, _ := r.snapshot(); return n == 2 })

	r.mu.Lock()
	if string(r.data[0]) != "\x01\x02\x03" || string(r.data[1]) != "\x04" {
		t.Errorf("Unexpected datagrams %v", r.data)
	}
	r.mu.Unlock()

	if got := c.Stats().Snapshot(); got.PacketsReceived != 2 || got.BytesReceived != 4 {
		t.Errorf("Unexpected stats %+v", got)
	}
}

func TestUDPClient_ReportsReadErrorsAndKeepsRunning(t *testing.T) {
	sock := NewMockUDPSocket()
	c := newMockClient(t, sock, UDPClientConfig{Name: "control"})

	var r recorder
	if err := c.StartAsyncReceiving(r.handlers()); err != nil {
		t.Fatalf("StartAsyncReceiving failed: %v", err)
	}

	sock.InjectReadError(errors.New("connection refused"))
	waitFor(t, "error callback", func() bool { _, e, _ := r.snapshot(); return e == 1 })

	sock.Inject([]byte{9}, nil)
	waitFor(t, "datagram after error", func() bool { n, _, _ := r.snapshot(); return n == 1 })

	if got := c.Stats().Snapshot().ReadErrors; got != 1 {
		t.Errorf("Expected 1 read error, got %d", got)
	}
}

func TestUDPClient_ReceiveTimeout(t *testing.T) {
	sock := NewMockUDPSocket()
	c := newMockClient(t, sock, UDPClientConfig{Name: "control", ReceiveTimeout: 20 * time.Millisecond})

	var r recorder
	if err := c.StartAsyncReceiving(r.handlers()); err != nil {
		t.Fatalf("StartAsyncReceiving failed: %v", err)
	}
	waitFor(t, "timeout callback", func() bool { _, _, n := r.snapshot(); return n >= 1 })
}

func TestUDPClient_SendsToRemote(t *testing.T) {
	sock := NewMockUDPSocket()
	remote := netip.MustParseAddrPort("127.0.0.100:3000")
	c := newMockClient(t, sock, UDPClientConfig{Name: "control", RemoteAddr: remote})

	c.AsyncSend([]byte("start"))
	if err := c.Write(context.Background(), []byte("stop")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, "two writes", func() bool { return len(sock.Written()) == 2 })
	for _, w := range sock.Written() {
		if w.Addr.AddrPort() != remote {
			t.Errorf("Expected write to %v, got %v", remote, w.Addr)
		}
	}
	if got := c.Stats().Snapshot().PacketsSent; got != 2 {
		t.Errorf("Expected 2 packets sent, got %d", got)
	}
}

func TestUDPClient_AsyncSendErrorReportedLater(t *testing.T) {
	sock := NewMockUDPSocket()
	sock.WriteError = errors.New("network unreachable")
	c := newMockClient(t, sock, UDPClientConfig{
		Name:       "control",
		RemoteAddr: netip.MustParseAddrPort("127.0.0.100:3000"),
	})

	var r recorder
	if err := c.StartAsyncReceiving(r.handlers()); err != nil {
		t.Fatalf("StartAsyncReceiving failed: %v", err)
	}
	c.AsyncSend([]byte("start"))
	waitFor(t, "send error", func() bool { _, e, _ := r.snapshot(); return e == 1 })

	r.mu.Lock()
	err := r.errs[0]
	r.mu.Unlock()
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("Expected ErrSendFailed, got %v", err)
	}
	if !errors.Is(err, sock.WriteError) {
		t.Errorf("Expected the socket error to be wrapped, got %v", err)
	}
}

func TestUDPClient_WriteWithoutRemote(t *testing.T) {
	c := newMockClient(t, NewMockUDPSocket(), UDPClientConfig{Name: "data"})
	if err := c.Write(context.Background(), []byte{1}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
}

func TestUDPClient_Close(t *testing.T) {
	sock := NewMockUDPSocket()
	c := newMockClient(t, sock, UDPClientConfig{Name: "data"})

	var r recorder
	if err := c.StartAsyncReceiving(r.handlers()); err != nil {
		t.Fatalf("StartAsyncReceiving failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sock.Closed() {
		t.Error("socket should be closed")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := c.StartAsyncReceiving(r.handlers()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := c.Write(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Write, got %v", err)
	}
	c.AsyncSend([]byte{1}) // must not panic or block
}

func TestUDPClient_ListenError(t *testing.T) {
	factory := &MockUDPSocketFactory{Error: errors.New("address in use")}
	_, err := NewUDPClient(UDPClientConfig{
		LocalAddr:     netip.MustParseAddrPort("127.0.0.1:1"),
		SocketFactory: factory,
	})
	if err == nil {
		t.Fatal("Expected listen error")
	}
}

func TestUDPClient_RealLoopback(t *testing.T) {
	device, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("loopback UDP unavailable: %v", err)
	}
	defer device.Close()

	c, err := NewUDPClient(UDPClientConfig{
		Name:       "control",
		LocalAddr:  netip.MustParseAddrPort("127.0.0.1:0"),
		RemoteAddr: device.LocalAddr().(*net.UDPAddr).AddrPort(),
	})
	if err != nil {
		t.Fatalf("NewUDPClient failed: %v", err)
	}
	defer c.Close()

	var r recorder
	if err := c.StartAsyncReceiving(r.handlers()); err != nil {
		t.Fatalf("StartAsyncReceiving failed: %v", err)
	}
	c.AsyncSend([]byte("ping"))

	buf := make([]byte, 16)
	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := device.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("device read failed: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("Expected ping, got %q", buf[:n])
	}
	if _, err := device.WriteToUDP([]byte("pong"), from); err != nil {
		t.Fatalf("device write failed: %v", err)
	}
	waitFor(t, "pong", func() bool { n, _, _ := r.snapshot(); return n == 1 })
}
