package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
)

// PCAPReplayConfig configures a PCAPReplay.
type PCAPReplayConfig struct {
	Path string
	// UDPPort keeps only datagrams sent to this destination port. Zero keeps
	// every UDP datagram.
	UDPPort uint16
	// SpeedMultiplier paces delivery by capture timestamps (1.0 = real time,
	// 2.0 = twice as fast). Zero replays as fast as possible.
	SpeedMultiplier float64
	Stats           *TransportStats
}

// PCAPReplay is a receive-only Transport that plays back the UDP payloads of
// a capture file, e.g. a recorded data channel. It reads classic pcap files
// without libpcap.
type PCAPReplay struct {
	cfg   PCAPReplayConfig
	file  *os.File
	src   *gopacket.PacketSource
	stats *TransportStats

	closing chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	receiving bool
	closed    bool
}

// NewPCAPReplay opens the capture and validates its header.
func NewPCAPReplay(cfg PCAPReplayConfig) (*PCAPReplay, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", cfg.Path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP header of %s: %w", cfg.Path, err)
	}
	stats := cfg.Stats
	if stats == nil {
		stats = &TransportStats{}
	}
	src := gopacket.NewPacketSource(r, r.LinkType())

	return &PCAPReplay{
		cfg:     cfg,
		file:    f,
		src:     src,
		stats:   stats,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Done is closed when the capture has been fully replayed or the replay was
// closed.
func (p *PCAPReplay) Done() <-chan struct{} { return p.done }

// Stats returns the replay counters.
func (p *PCAPReplay) Stats() *TransportStats { return p.stats }

// StartAsyncReceiving starts playback.
func (p *PCAPReplay) StartAsyncReceiving(h ReceiveHandlers) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.receiving {
		return ErrAlreadyReceiving
	}
	p.receiving = true
	p.wg.Add(1)
	go p.replay(h)
	return nil
}

func (p *PCAPReplay) replay(h ReceiveHandlers) {
	defer p.wg.Done()
	defer close(p.done)

	var (
		count     int
		firstCap  time.Time
		wallStart time.Time
	)
	startTime := time.Now()
	for {
		select {
		case <-p.closing:
			return
		default:
		}

		packet, err := p.src.NextPacket()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("PCAP replay complete: %d datagrams in %v", count, time.Since(startTime))
			return
		}
		if err != nil {
			p.stats.AddReadError()
			h.err(fmt.Errorf("pcap replay: %w", err))
			return
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if p.cfg.UDPPort != 0 && uint16(udp.DstPort) != p.cfg.UDPPort {
			continue
		}

		if p.cfg.SpeedMultiplier > 0 {
			ts := packet.Metadata().Timestamp
			if firstCap.IsZero() {
				firstCap, wallStart = ts, time.Now()
			} else {
				due := wallStart.Add(time.Duration(float64(ts.Sub(firstCap)) / p.cfg.SpeedMultiplier))
				if !p.sleepUntil(due) {
					return
				}
			}
		}

		count++
		payload := append([]byte(nil), udp.Payload...)
		p.stats.AddReceived(len(payload))
		h.data(payload)
	}
}

func (p *PCAPReplay) sleepUntil(t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.closing:
		return false
	}
}

// AsyncSend discards data; a capture cannot be written to.
func (p *PCAPReplay) AsyncSend([]byte) {}

// Write always fails with ErrReadOnly.
func (p *PCAPReplay) Write(context.Context, []byte) error { return ErrReadOnly }

// Close stops playback and closes the file.
func (p *PCAPReplay) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	receiving := p.receiving
	close(p.closing)
	p.mu.Unlock()

	p.wg.Wait()
	if !receiving {
		close(p.done)
	}
	return p.file.Close()
}
