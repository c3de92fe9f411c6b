package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner/network"
)

// DefaultFrameInterval matches the device's 33 Hz scan rate.
const DefaultFrameInterval = 30 * time.Millisecond

// ServerConfig contains configuration options for a Server.
type ServerConfig struct {
	// ControlAddr is where requests are received and replies sent from.
	ControlAddr netip.AddrPort
	// DataAddr is the source address of monitoring frames.
	DataAddr      netip.AddrPort
	FrameInterval time.Duration
	SocketFactory network.UDPSocketFactory
	Stats         *network.TransportStats
}

// Server serves a Device over UDP.
type Server struct {
	dev     *Device
	cfg     ServerConfig
	control network.UDPSocket
	data    network.UDPSocket
	stats   *network.TransportStats
}

// NewServer binds the control and data sockets.
func NewServer(dev *Device, cfg ServerConfig) (*Server, error) {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.SocketFactory == nil {
		cfg.SocketFactory = network.RealUDPSocketFactory{}
	}
	if cfg.Stats == nil {
		cfg.Stats = &network.TransportStats{}
	}

	control, err := cfg.SocketFactory.ListenUDP("udp4", net.UDPAddrFromAddrPort(cfg.ControlAddr))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on control address %s: %w", cfg.ControlAddr, err)
	}
	data, err := cfg.SocketFactory.ListenUDP("udp4", net.UDPAddrFromAddrPort(cfg.DataAddr))
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("failed to listen on data address %s: %w", cfg.DataAddr, err)
	}
	return &Server{dev: dev, cfg: cfg, control: control, data: data, stats: cfg.Stats}, nil
}

// ControlAddr returns the bound control address.
func (s *Server) ControlAddr() net.Addr { return s.control.LocalAddr() }

// DataAddr returns the bound data source address.
func (s *Server) DataAddr() net.Addr { return s.data.LocalAddr() }

// Stats returns the server's counters.
func (s *Server) Stats() *network.TransportStats { return s.stats }

// Run answers requests and streams frames until ctx is cancelled. It closes
// both sockets before returning.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveControl(gctx) })
	g.Go(func() error { return s.streamFrames(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return multierr.Combine(s.control.Close(), s.data.Close())
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (s *Server) serveControl(ctx context.Context) error {
	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = s.control.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := s.control.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.stats.AddReadError()
			return fmt.Errorf("control read: %w", err)
		}
		s.stats.AddReceived(n)

		reply, err := s.dev.HandleRequest(buf[:n])
		if err != nil {
			monitoring.Debugf("sim: ignoring request from %s: %v", from, err)
			continue
		}
		if _, err := s.control.WriteToUDP(reply, from); err != nil {
			s.stats.AddWriteError()
			monitoring.Warnf("sim: failed to reply to %s: %v", from, err)
			continue
		}
		s.stats.AddSent(len(reply))
	}
}

func (s *Server) streamFrames(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, ok := s.dev.NextFrame()
		if !ok {
			continue
		}
		target, err := s.dev.Target()
		if err != nil {
			continue
		}
		payload := frame.Serialize()
		if _, err := s.data.WriteToUDP(payload, net.UDPAddrFromAddrPort(target)); err != nil {
			s.stats.AddWriteError()
			monitoring.Debugf("sim: failed to send frame to %s: %v", target, err)
			continue
		}
		s.stats.AddSent(len(payload))
	}
}
