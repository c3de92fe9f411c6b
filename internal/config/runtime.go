package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// DefaultConfigPath is where the tools look for a runtime config when no
// --config flag is given.
const DefaultConfigPath = "configs/psenscan.yml"

// ScannerConfig is the YAML form of SessionConfig. Angles are in degrees.
type ScannerConfig struct {
	HostIP            string  `yaml:"host_ip"`
	HostDataPort      uint16  `yaml:"host_udp_port_data"`
	HostControlPort   uint16  `yaml:"host_udp_port_control"`
	DeviceIP          string  `yaml:"device_ip"`
	DeviceDataPort    uint16  `yaml:"device_udp_port_data"`
	DeviceControlPort uint16  `yaml:"device_udp_port_control"`
	AngleStart        float64 `yaml:"angle_start"` // degrees
	AngleEnd          float64 `yaml:"angle_end"`   // degrees
	Resolution        float64 `yaml:"resolution"`  // degrees
	Intensities       bool    `yaml:"intensities"`
	Diagnostics       bool    `yaml:"diagnostics"`
	FrameID           string  `yaml:"frame_id"`
}

// SessionTiming controls reply timeouts and retries.
type SessionTiming struct {
	ReplyTimeout   time.Duration `yaml:"reply_timeout"`
	MaxRetries     int           `yaml:"max_retries"` // -1 retries forever
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

type NetworkConfig struct {
	RcvBuf      int    `yaml:"rcvbuf"`
	ForwardAddr string `yaml:"forward_addr"` // host:port, empty disables forwarding
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type MonitorConfig struct {
	Listen     string `yaml:"listen"`      // HTTP debug server, empty disables
	GRPCListen string `yaml:"grpc_listen"` // gRPC health, empty disables
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the runtime configuration of cmd/psenscan.
type Config struct {
	Scanner ScannerConfig `yaml:"scanner"`
	Session SessionTiming `yaml:"session"`
	Network NetworkConfig `yaml:"network"`
	Storage StorageConfig `yaml:"storage"`
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`
}

// Defaults returns a Config that is usable against a device at its factory
// address.
func Defaults() *Config {
	return &Config{
		Scanner: ScannerConfig{
			HostIP:            "192.168.0.50",
			HostDataPort:      55115,
			HostControlPort:   55116,
			DeviceIP:          "192.168.0.10",
			DeviceDataPort:    DefaultDeviceDataPort,
			DeviceControlPort: DefaultDeviceControlPort,
			AngleStart:        0,
			AngleEnd:          275,
			Resolution:        0.1,
			Intensities:       true,
			FrameID:           "scanner",
		},
		Session: SessionTiming{
			ReplyTimeout:   time.Second,
			MaxRetries:     3,
			ReceiveTimeout: 5 * time.Second,
			StopTimeout:    3 * time.Second,
		},
		Network: NetworkConfig{
			RcvBuf: 4 << 20,
		},
		Storage: StorageConfig{
			Enabled: false,
			DBPath:  "scanner.db",
		},
		Monitor: MonitorConfig{
			Listen: "localhost:8082",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config. Fields omitted from the file keep their Defaults
// values, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yml" && ext != ".yaml" {
		return nil, fmt.Errorf("config file must have .yml or .yaml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", cleanPath, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse yaml %s: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the config that SessionConfig does not cover.
func (c *Config) Validate() error {
	if c.Session.ReplyTimeout <= 0 {
		return fmt.Errorf("session.reply_timeout must be positive, got %v", c.Session.ReplyTimeout)
	}
	if c.Session.MaxRetries < -1 {
		return fmt.Errorf("session.max_retries must be >= -1, got %d", c.Session.MaxRetries)
	}
	if c.Session.ReceiveTimeout < 0 {
		return fmt.Errorf("session.receive_timeout must not be negative, got %v", c.Session.ReceiveTimeout)
	}
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required when storage is enabled")
	}
	if _, err := c.SessionConfig(); err != nil {
		return err
	}
	return nil
}

// SessionConfig converts the scanner section into a validated SessionConfig.
func (c *Config) SessionConfig() (SessionConfig, error) {
	s := c.Scanner
	hostIP, err := netip.ParseAddr(s.HostIP)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("%w: host_ip: %v", ErrInvalidSessionConfig, err)
	}
	deviceIP, err := netip.ParseAddr(s.DeviceIP)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("%w: device_ip: %v", ErrInvalidSessionConfig, err)
	}
	return NewSessionConfig(SessionConfig{
		HostIP:             hostIP,
		HostDataPort:       s.HostDataPort,
		HostControlPort:    s.HostControlPort,
		DeviceIP:           deviceIP,
		DeviceDataPort:     s.DeviceDataPort,
		DeviceControlPort:  s.DeviceControlPort,
		ScanRange:          scanner.ScanRange{Start: scanner.FromDegrees(s.AngleStart), End: scanner.FromDegrees(s.AngleEnd)},
		Resolution:         scanner.FromDegrees(s.Resolution),
		IntensitiesEnabled: s.Intensities,
		DiagnosticsEnabled: s.Diagnostics,
	})
}
