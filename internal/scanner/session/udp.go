package session

import (
	"fmt"
	"time"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/scanner/network"
)

// UDPOptions tune the sockets created by NewUDPTransports.
type UDPOptions struct {
	RcvBuf int
	// ReceiveTimeout on the control channel feeds reply timeouts in addition
	// to the controller's own timer. Zero disables it.
	ReceiveTimeout time.Duration
	// Forwarder receives a copy of every data-channel datagram.
	Forwarder     *network.PacketForwarder
	SocketFactory network.UDPSocketFactory
}

// NewUDPTransports binds the control and data sockets for cfg. The control
// socket sends to the device's control port; the data socket is receive-only.
func NewUDPTransports(cfg config.SessionConfig, opts UDPOptions) (control, data *network.UDPClient, err error) {
	control, err = network.NewUDPClient(network.UDPClientConfig{
		Name:           "control",
		LocalAddr:      cfg.HostControlAddr(),
		RemoteAddr:     cfg.DeviceControlAddr(),
		ReceiveTimeout: opts.ReceiveTimeout,
		SocketFactory:  opts.SocketFactory,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("control channel: %w", err)
	}

	data, err = network.NewUDPClient(network.UDPClientConfig{
		Name:          "data",
		LocalAddr:     cfg.HostDataAddr(),
		RcvBuf:        opts.RcvBuf,
		Forwarder:     opts.Forwarder,
		SocketFactory: opts.SocketFactory,
	})
	if err != nil {
		control.Close()
		return nil, nil, fmt.Errorf("data channel: %w", err)
	}
	return control, data, nil
}
