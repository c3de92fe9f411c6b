package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
)

// PacketForwarder copies data-channel datagrams to another address, e.g. a
// second host running a viewer. Forwarding never blocks the receive path.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       PacketStats
	logInterval time.Duration
	address     string

	done      chan struct{}
	closeOnce sync.Once
}

// NewPacketForwarder creates a forwarder that sends packets to addr
// ("host:port").
func NewPacketForwarder(addr string, stats PacketStats, logInterval time.Duration) (*PacketForwarder, error) {
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if stats == nil {
		stats = &TransportStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}

	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     addr,
		done:        make(chan struct{}),
	}, nil
}

// Start runs the forwarding goroutine until ctx is done or Close is called.
// Write errors are summarised once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					monitoring.Warnf("Dropped %d forwarded packets due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding data packets to %s", f.address)
}

// ForwardAsync queues a copy of packet. If the queue is full the packet is
// dropped and counted.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := append([]byte(nil), packet...)
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.channel <- packetCopy:
	default:
		f.stats.AddDropped()
	}
}

// Close stops forwarding and closes the UDP connection.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
