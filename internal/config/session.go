package config

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// Device-side constants of the scanner.
const (
	DefaultDeviceControlPort uint16 = 3000 // device listens for start/stop here
	DefaultDeviceDataPort    uint16 = 2000 // device sends monitoring frames from here

	MinScanAngle scanner.TenthOfDegree = 0    // 0.0°
	MaxScanAngle scanner.TenthOfDegree = 2750 // 275.0°

	MinResolution     scanner.TenthOfDegree = 1   // 0.1°
	MaxResolution     scanner.TenthOfDegree = 100 // 10.0°
	DefaultResolution scanner.TenthOfDegree = 1
)

// ErrInvalidSessionConfig is wrapped by every SessionConfig validation error.
var ErrInvalidSessionConfig = errors.New("invalid session config")

// SessionConfig describes one start/stop session with a single device. Build
// it with NewSessionConfig; consumers treat a constructed value as valid and
// never mutate it.
type SessionConfig struct {
	HostIP          netip.Addr
	HostDataPort    uint16
	HostControlPort uint16

	DeviceIP          netip.Addr
	DeviceDataPort    uint16
	DeviceControlPort uint16

	ScanRange  scanner.ScanRange
	Resolution scanner.TenthOfDegree

	IntensitiesEnabled bool
	DiagnosticsEnabled bool
}

// NewSessionConfig fills in device port and resolution defaults and validates
// the result.
func NewSessionConfig(c SessionConfig) (SessionConfig, error) {
	if c.DeviceControlPort == 0 {
		c.DeviceControlPort = DefaultDeviceControlPort
	}
	if c.DeviceDataPort == 0 {
		c.DeviceDataPort = DefaultDeviceDataPort
	}
	if c.Resolution == 0 {
		c.Resolution = DefaultResolution
	}
	if err := c.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return c, nil
}

// Validate checks addresses, ports, the scan range and the resolution.
func (c SessionConfig) Validate() error {
	if !c.HostIP.Is4() {
		return fmt.Errorf("%w: host ip %v is not an IPv4 address", ErrInvalidSessionConfig, c.HostIP)
	}
	if !c.DeviceIP.Is4() {
		return fmt.Errorf("%w: device ip %v is not an IPv4 address", ErrInvalidSessionConfig, c.DeviceIP)
	}
	if c.HostDataPort == 0 || c.HostControlPort == 0 {
		return fmt.Errorf("%w: host ports must be non-zero (data=%d control=%d)", ErrInvalidSessionConfig, c.HostDataPort, c.HostControlPort)
	}
	if c.HostDataPort == c.HostControlPort {
		return fmt.Errorf("%w: host data and control port must differ (%d)", ErrInvalidSessionConfig, c.HostDataPort)
	}
	r := c.ScanRange
	if r.Start < MinScanAngle || r.End > MaxScanAngle {
		return fmt.Errorf("%w: scan range %v outside [%v, %v]", ErrInvalidSessionConfig, r, MinScanAngle, MaxScanAngle)
	}
	if r.End <= r.Start {
		return fmt.Errorf("%w: scan range end must be greater than start, got %v", ErrInvalidSessionConfig, r)
	}
	if c.Resolution < MinResolution || c.Resolution > MaxResolution {
		return fmt.Errorf("%w: resolution %v outside [%v, %v]", ErrInvalidSessionConfig, c.Resolution, MinResolution, MaxResolution)
	}
	return nil
}

// HostDataAddr is the local address the data channel binds to.
func (c SessionConfig) HostDataAddr() netip.AddrPort {
	return netip.AddrPortFrom(c.HostIP, c.HostDataPort)
}

// HostControlAddr is the local address the control channel binds to.
func (c SessionConfig) HostControlAddr() netip.AddrPort {
	return netip.AddrPortFrom(c.HostIP, c.HostControlPort)
}

// DeviceDataAddr is the address monitoring frames arrive from.
func (c SessionConfig) DeviceDataAddr() netip.AddrPort {
	return netip.AddrPortFrom(c.DeviceIP, c.DeviceDataPort)
}

// DeviceControlAddr is the address start and stop requests are sent to.
func (c SessionConfig) DeviceControlAddr() netip.AddrPort {
	return netip.AddrPortFrom(c.DeviceIP, c.DeviceControlPort)
}
