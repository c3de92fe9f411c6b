package network

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
)

// PacketStats interface for packet statistics tracking
type PacketStats interface {
	AddDropped()
}

// TransportStats counts traffic through one transport. The zero value is
// ready to use and safe for concurrent use.
type TransportStats struct {
	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsSent     atomic.Uint64
	bytesSent       atomic.Uint64
	readErrors      atomic.Uint64
	writeErrors     atomic.Uint64
	dropped         atomic.Uint64
}

// TransportStatsSnapshot is a point-in-time copy of TransportStats.
type TransportStatsSnapshot struct {
	PacketsReceived uint64 `json:"packets_received"`
	BytesReceived   uint64 `json:"bytes_received"`
	PacketsSent     uint64 `json:"packets_sent"`
	BytesSent       uint64 `json:"bytes_sent"`
	ReadErrors      uint64 `json:"read_errors"`
	WriteErrors     uint64 `json:"write_errors"`
	Dropped         uint64 `json:"dropped"`
}

func (s *TransportStats) AddReceived(bytes int) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(bytes))
}

func (s *TransportStats) AddSent(bytes int) {
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(bytes))
}

func (s *TransportStats) AddReadError()  { s.readErrors.Add(1) }
func (s *TransportStats) AddWriteError() { s.writeErrors.Add(1) }

// AddDropped counts a datagram dropped by a full queue.
func (s *TransportStats) AddDropped() { s.dropped.Add(1) }

// Snapshot returns the current counter values.
func (s *TransportStats) Snapshot() TransportStatsSnapshot {
	return TransportStatsSnapshot{
		PacketsReceived: s.packetsReceived.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		PacketsSent:     s.packetsSent.Load(),
		BytesSent:       s.bytesSent.Load(),
		ReadErrors:      s.readErrors.Load(),
		WriteErrors:     s.writeErrors.Load(),
		Dropped:         s.dropped.Load(),
	}
}

func (s TransportStatsSnapshot) String() string {
	return fmt.Sprintf("rx %d pkts/%d B, tx %d pkts/%d B, errors r%d/w%d, dropped %d",
		s.PacketsReceived, s.BytesReceived, s.PacketsSent, s.BytesSent, s.ReadErrors, s.WriteErrors, s.Dropped)
}

// LogStats writes a one-line summary through the package logger.
func (s *TransportStats) LogStats(name string) {
	monitoring.Logf("%s transport: %s", name, s.Snapshot())
}
