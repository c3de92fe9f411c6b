package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
)

const (
	maxDatagramSize     = 65507
	defaultPollInterval = 100 * time.Millisecond
	defaultSendQueue    = 64
)

// UDPClientConfig contains configuration options for a UDPClient.
type UDPClientConfig struct {
	// Name labels log lines, e.g. "control" or "data".
	Name string
	// LocalAddr is the host address the socket binds to.
	LocalAddr netip.AddrPort
	// RemoteAddr receives AsyncSend and Write datagrams. It may be left
	// unset on receive-only channels.
	RemoteAddr netip.AddrPort
	RcvBuf     int
	// ReceiveTimeout triggers OnTimeout after this long without a datagram.
	// Zero disables timeout notifications.
	ReceiveTimeout time.Duration
	// PollInterval bounds how long a single read blocks. Defaults to 100ms.
	PollInterval time.Duration
	// Forwarder, if set, receives a copy of every datagram.
	Forwarder     *PacketForwarder
	SocketFactory UDPSocketFactory
	Stats         *TransportStats
}

// UDPClient is a Transport over one bound UDP socket.
type UDPClient struct {
	cfg    UDPClientConfig
	sock   UDPSocket
	remote *net.UDPAddr
	stats  *TransportStats

	sendCh  chan []byte
	closing chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	handlers  ReceiveHandlers
	receiving bool
	closed    bool
}

// NewUDPClient binds the local socket and starts the send goroutine.
func NewUDPClient(cfg UDPClientConfig) (*UDPClient, error) {
	if cfg.Name == "" {
		cfg.Name = "udp"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	factory := cfg.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	stats := cfg.Stats
	if stats == nil {
		stats = &TransportStats{}
	}

	sock, err := factory.ListenUDP("udp4", net.UDPAddrFromAddrPort(cfg.LocalAddr))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to listen on %s: %w", cfg.Name, cfg.LocalAddr, err)
	}
	if cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Warnf("%s: failed to set UDP receive buffer size to %d: %v", cfg.Name, cfg.RcvBuf, err)
		}
	}

	c := &UDPClient{
		cfg:     cfg,
		sock:    sock,
		stats:   stats,
		sendCh:  make(chan []byte, defaultSendQueue),
		closing: make(chan struct{}),
	}
	if cfg.RemoteAddr.IsValid() {
		c.remote = net.UDPAddrFromAddrPort(cfg.RemoteAddr)
	}

	c.wg.Add(1)
	go c.sendLoop()
	monitoring.Debugf("%s: UDP socket bound on %s", cfg.Name, sock.LocalAddr())
	return c, nil
}

// Stats returns the client's counters.
func (c *UDPClient) Stats() *TransportStats { return c.stats }

// LocalAddr returns the bound address.
func (c *UDPClient) LocalAddr() net.Addr { return c.sock.LocalAddr() }

// StartAsyncReceiving starts the receive goroutine.
func (c *UDPClient) StartAsyncReceiving(h ReceiveHandlers) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.receiving {
		return ErrAlreadyReceiving
	}
	c.handlers = h
	c.receiving = true
	c.wg.Add(1)
	go c.receiveLoop(h)
	return nil
}

// AsyncSend queues data for the send goroutine. If the queue is full the
// datagram is dropped and counted.
func (c *UDPClient) AsyncSend(data []byte) {
	packet := append([]byte(nil), data...)
	select {
	case <-c.closing:
		return
	default:
	}
	select {
	case c.sendCh <- packet:
	default:
		c.stats.AddDropped()
		monitoring.Warnf("%s: %v, dropped %d byte datagram", c.cfg.Name, ErrSendQueueFull, len(data))
	}
}

// Write sends data synchronously.
func (c *UDPClient) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	return c.writeTo(data)
}

func (c *UDPClient) writeTo(data []byte) error {
	if c.remote == nil {
		return fmt.Errorf("%s: %w", c.cfg.Name, ErrReadOnly)
	}
	if _, err := c.sock.WriteToUDP(data, c.remote); err != nil {
		c.stats.AddWriteError()
		return fmt.Errorf("%s: write to %s: %w", c.cfg.Name, c.remote, err)
	}
	c.stats.AddSent(len(data))
	return nil
}

func (c *UDPClient) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closing:
			return
		case packet := <-c.sendCh:
			if err := c.writeTo(packet); err != nil {
				err = fmt.Errorf("%w: %w", ErrSendFailed, err)
				c.mu.Lock()
				h := c.handlers
				c.mu.Unlock()
				if h.OnError != nil {
					h.err(err)
				} else {
					monitoring.Warnf("%v", err)
				}
			}
		}
	}
}

func (c *UDPClient) receiveLoop(h ReceiveHandlers) {
	defer c.wg.Done()

	buffer := make([]byte, maxDatagramSize)
	lastData := time.Now()
	for {
		select {
		case <-c.closing:
			return
		default:
		}

		// Set read deadline to allow checking for close
		_ = c.sock.SetReadDeadline(time.Now().Add(c.cfg.PollInterval))

		n, _, err := c.sock.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if c.cfg.ReceiveTimeout > 0 && time.Since(lastData) >= c.cfg.ReceiveTimeout {
					lastData = time.Now()
					h.timeout()
				}
				continue
			}
			if c.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			c.stats.AddReadError()
			h.err(fmt.Errorf("%s: read: %w", c.cfg.Name, err))
			continue
		}

		lastData = time.Now()
		packet := make([]byte, n)
		copy(packet, buffer[:n])
		c.stats.AddReceived(n)

		if c.cfg.Forwarder != nil {
			c.cfg.Forwarder.ForwardAsync(packet)
		}
		h.data(packet)
	}
}

func (c *UDPClient) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Close stops both goroutines and closes the socket. It is safe to call more
// than once.
func (c *UDPClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closing)
	c.mu.Unlock()

	err := c.sock.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("%s: close: %w", c.cfg.Name, err)
	}
	return nil
}
