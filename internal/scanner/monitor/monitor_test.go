package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/network"
	"github.com/banshee-data/safety.scanner/internal/scanner/session"
)

type fakeSource struct {
	phase session.Phase
	cfg   config.SessionConfig
	stats *session.Stats
}

func (f *fakeSource) Phase() session.Phase          { return f.phase }
func (f *fakeSource) Session() config.SessionConfig { return f.cfg }
func (f *fakeSource) Stats() *session.Stats         { return f.stats }

func newTestServer(t *testing.T) (*WebServer, *fakeSource) {
	t.Helper()
	cfg, err := config.NewSessionConfig(config.SessionConfig{
		HostIP:          netip.MustParseAddr("127.0.0.1"),
		HostDataPort:    50505,
		HostControlPort: 55055,
		DeviceIP:        netip.MustParseAddr("127.0.0.100"),
		ScanRange:       scanner.ScanRange{Start: 0, End: 2750},
	})
	if err != nil {
		t.Fatalf("NewSessionConfig failed: %v", err)
	}
	src := &fakeSource{phase: session.PhaseActive, cfg: cfg, stats: session.NewStats()}
	src.stats.Frames.Add("delivered", 3)

	data := &network.TransportStats{}
	data.AddReceived(100)
	ws := NewWebServer(WebServerConfig{
		Address:    "127.0.0.1:0",
		Source:     src,
		Transports: map[string]*network.TransportStats{"data": data},
	})
	return ws, src
}

func get(ws *WebServer, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	ws.Mux().ServeHTTP(w, req)
	return w
}

func testScan() scanner.LaserScan {
	return scanner.LaserScan{
		AngleMin:    0,
		AngleMax:    900,
		Resolution:  450,
		Timestamp:   time.Unix(1700000000, 0),
		ScanCounter: 12,
		Ranges:      []float64{1, math.Inf(1), 2},
	}
}

func TestWebServer_Status(t *testing.T) {
	ws, _ := newTestServer(t)
	ws.HandleScan(testScan())

	w := get(ws, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if resp.Version == "" {
		t.Error("expected a version string")
	}
	if resp.Phase != "Active" {
		t.Errorf("expected phase Active, got %q", resp.Phase)
	}
	if resp.Device != "127.0.0.100:3000" {
		t.Errorf("unexpected device %q", resp.Device)
	}
	if resp.Scans != 1 || resp.LastScan == nil || resp.LastScan.ScanCounter != 12 {
		t.Errorf("unexpected scan status %+v", resp.LastScan)
	}
	if got := resp.Counters["frames"]["delivered"]; got != 3 {
		t.Errorf("expected 3 delivered frames, got %d", got)
	}
	if got := resp.Transports["data"].PacketsReceived; got != 1 {
		t.Errorf("expected 1 received packet, got %d", got)
	}
}

func TestWebServer_StatusMethodNotAllowed(t *testing.T) {
	ws, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	w := httptest.NewRecorder()
	ws.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestWebServer_ScanViewsNeedAScan(t *testing.T) {
	ws, _ := newTestServer(t)
	for _, path := range []string{"/debug/scan/chart", "/debug/scan/plot.png"} {
		if w := get(ws, path); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestWebServer_ScanChart(t *testing.T) {
	ws, _ := newTestServer(t)
	ws.HandleScan(testScan())

	w := get(ws, "/debug/scan/chart")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Laser scan") {
		t.Error("expected chart page title")
	}
}

func TestWebServer_ScanPlot(t *testing.T) {
	ws, _ := newTestServer(t)
	ws.HandleScan(testScan())

	w := get(ws, "/debug/scan/plot.png")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected a PNG body")
	}
}

func TestScanPoints(t *testing.T) {
	xys, maxAbs := scanPoints(testScan())
	if len(xys) != 2 {
		t.Fatalf("expected 2 points, got %d", len(xys))
	}
	if math.Abs(xys[0].X-1) > 1e-9 || math.Abs(xys[0].Y) > 1e-9 {
		t.Errorf("expected first point at (1,0), got %+v", xys[0])
	}
	// The third beam is at 90 degrees.
	if math.Abs(xys[1].X) > 1e-9 || math.Abs(xys[1].Y-2) > 1e-9 {
		t.Errorf("expected second point at (0,2), got %+v", xys[1])
	}
	if math.Abs(maxAbs-2) > 1e-9 {
		t.Errorf("expected maxAbs 2, got %v", maxAbs)
	}
}

func TestWebServer_RunAndServe(t *testing.T) {
	ws, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- ws.Serve(ctx, ln) }()

	scans := make(chan scanner.LaserScan, 1)
	scans <- testScan()
	close(scans)
	if err := ws.Run(ctx, scans); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHealthReporter_FollowsPhase(t *testing.T) {
	h := NewHealthReporter()
	ctx := context.Background()
	req := &healthpb.HealthCheckRequest{Service: HEALTH_SERVICE}

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := h.hs.Check(ctx, req)
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING initially, got %v", got)
	}
	h.ObservePhase(session.PhaseAwaitingStartReply, session.PhaseActive)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING while active, got %v", got)
	}
	h.ObservePhase(session.PhaseActive, session.PhaseAwaitingStopReply)
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING while stopping, got %v", got)
	}
}

func TestHealthReporter_Serve(t *testing.T) {
	h := NewHealthReporter()
	h.ObservePhase(session.PhaseIdle, session.PhaseActive)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- h.Serve(ctx, ln) }()

	conn, err := grpc.NewClient(ln.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: HEALTH_SERVICE})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", resp.GetStatus())
	}

	cancel()
	if err := <-serveErr; err != nil {
		t.Errorf("Serve returned %v", err)
	}
}
