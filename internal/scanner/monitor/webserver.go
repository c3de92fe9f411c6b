// Package monitor serves the debug HTTP interface of a running scanner
// session and reports its health over gRPC.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/httputil"
	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/network"
	"github.com/banshee-data/safety.scanner/internal/scanner/session"
	"github.com/banshee-data/safety.scanner/internal/version"
)

// SessionSource is the read-only view of a session the monitor needs.
// *session.Controller implements it.
type SessionSource interface {
	Phase() session.Phase
	Session() config.SessionConfig
	Stats() *session.Stats
}

// WebServerConfig contains configuration options for a WebServer.
type WebServerConfig struct {
	Address string
	Source  SessionSource
	// Transports are listed on the status page by name.
	Transports map[string]*network.TransportStats
}

// WebServer serves session status, the latest scan as a chart and the
// tsweb debug pages.
type WebServer struct {
	address    string
	source     SessionSource
	transports map[string]*network.TransportStats
	mux        *http.ServeMux
	server     *http.Server
	started    time.Time

	mu     sync.Mutex
	latest *scanner.LaserScan
	scans  uint64
}

func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:    cfg.Address,
		source:     cfg.Source,
		transports: cfg.Transports,
		mux:        http.NewServeMux(),
		started:    time.Now(),
	}
	ws.setupRoutes()
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Mux returns the server's mux so other components can attach their admin
// routes.
func (ws *WebServer) Mux() *http.ServeMux { return ws.mux }

// HandleScan remembers scan as the latest one.
func (ws *WebServer) HandleScan(scan scanner.LaserScan) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.latest = &scan
	ws.scans++
}

// Latest returns the most recent scan.
func (ws *WebServer) Latest() (scanner.LaserScan, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.latest == nil {
		return scanner.LaserScan{}, false
	}
	return *ws.latest, true
}

// Run feeds scans from ch into HandleScan until ch is closed or ctx is done.
func (ws *WebServer) Run(ctx context.Context, ch <-chan scanner.LaserScan) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan, ok := <-ch:
			if !ok {
				return nil
			}
			ws.HandleScan(scan)
		}
	}
}

func (ws *WebServer) setupRoutes() {
	ws.mux.HandleFunc("/api/status", ws.handleStatus)

	debug := tsweb.Debugger(ws.mux)
	debug.Handle("scan/chart", "Latest scan (chart)", http.HandlerFunc(ws.handleScanChart))
	debug.Handle("scan/plot.png", "Latest scan (PNG)", http.HandlerFunc(ws.handleScanPlot))
	debug.KVFunc("session phase", func() any { return ws.source.Phase().String() })
	debug.KVFunc("scans seen", func() any {
		ws.mu.Lock()
		defer ws.mu.Unlock()
		return ws.scans
	})
}

type statusResponse struct {
	Version    string                                    `json:"version"`
	Phase      string                                    `json:"phase"`
	Device     string                                    `json:"device"`
	ScanRange  string                                    `json:"scan_range"`
	Resolution string                                    `json:"resolution"`
	Uptime     string                                    `json:"uptime"`
	Scans      uint64                                    `json:"scans"`
	LastScan   *lastScanStatus                           `json:"last_scan,omitempty"`
	Counters   map[string]map[string]int64               `json:"counters"`
	Transports map[string]network.TransportStatsSnapshot `json:"transports,omitempty"`
}

type lastScanStatus struct {
	ScanCounter uint32 `json:"scan_counter"`
	Timestamp   string `json:"timestamp"`
	Beams       int    `json:"beams"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}

	cfg := ws.source.Session()
	resp := statusResponse{
		Version:    version.String(),
		Phase:      ws.source.Phase().String(),
		Device:     cfg.DeviceControlAddr().String(),
		ScanRange:  cfg.ScanRange.String(),
		Resolution: cfg.Resolution.String(),
		Uptime:     time.Since(ws.started).Round(time.Second).String(),
		Counters:   ws.source.Stats().Snapshot(),
	}

	ws.mu.Lock()
	resp.Scans = ws.scans
	if ws.latest != nil {
		resp.LastScan = &lastScanStatus{
			ScanCounter: ws.latest.ScanCounter,
			Timestamp:   ws.latest.Timestamp.UTC().Format(time.RFC3339Nano),
			Beams:       len(ws.latest.Ranges),
		}
	}
	ws.mu.Unlock()

	if len(ws.transports) > 0 {
		resp.Transports = make(map[string]network.TransportStatsSnapshot, len(ws.transports))
		for name, s := range ws.transports {
			resp.Transports[name] = s.Snapshot()
		}
	}

	httputil.WriteJSONOK(w, resp)
}

// Start serves HTTP until ctx is cancelled, then shuts the server down.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return err
	}
	return ws.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		errCh <- ws.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Warnf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Warnf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
	return nil
}
