package network

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPacketForwarder_ForwardsCopies(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("loopback UDP unavailable: %v", err)
	}
	defer server.Close()

	stats := &TransportStats{}
	forwarder, err := NewPacketForwarder(server.LocalAddr().String(), stats, time.Second)
	if err != nil {
		t.Fatalf("Failed to create forwarder: %v", err)
	}
	defer forwarder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forwarder.Start(ctx)

	packet := []byte{0xCA, 0xFE}
	forwarder.ForwardAsync(packet)
	packet[0] = 0 // the forwarder must have taken a copy

	buf := make([]byte, 16)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Failed to receive forwarded packet: %v", err)
	}
	if n != 2 || buf[0] != 0xCA || buf[1] != 0xFE {
		t.Errorf("Unexpected forwarded packet %x", buf[:n])
	}
}

func TestPacketForwarder_DropsWhenFull(t *testing.T) {
	stats := &TransportStats{}
	forwarder, err := NewPacketForwarder("127.0.0.1:9", stats, time.Second)
	if err != nil {
		t.Fatalf("Failed to create forwarder: %v", err)
	}
	defer forwarder.Close()

	// Not started: the queue fills and further packets are dropped.
	for i := 0; i < cap(forwarder.channel)+5; i++ {
		forwarder.ForwardAsync([]byte{byte(i)})
	}
	if got := stats.Snapshot().Dropped; got != 5 {
		t.Errorf("Expected 5 dropped packets, got %d", got)
	}
}

func TestPacketForwarder_CloseIsIdempotent(t *testing.T) {
	forwarder, err := NewPacketForwarder("127.0.0.1:9", nil, 0)
	if err != nil {
		t.Fatalf("Failed to create forwarder: %v", err)
	}
	if err := forwarder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := forwarder.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	forwarder.ForwardAsync([]byte{1}) // must not panic
}
