package sqlite

import (
	"math"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "scanner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSessionConfig(t *testing.T) config.SessionConfig {
	t.Helper()
	cfg, err := config.NewSessionConfig(config.SessionConfig{
		HostIP:          netip.MustParseAddr("127.0.0.1"),
		HostDataPort:    50505,
		HostControlPort: 55055,
		DeviceIP:        netip.MustParseAddr("127.0.0.100"),
		ScanRange:       scanner.ScanRange{Start: 0, End: 2750},
	})
	require.NoError(t, err)
	return cfg
}

func TestOpen_AppliesMigrationsAndPragmas(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	var journalMode string
	require.NoError(t, s.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, s.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestStore_SessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	start := time.Unix(1700000000, 0)

	require.NoError(t, s.CreateSession(SessionRecord{
		ID:         "s1",
		Device:     "127.0.0.100:3000",
		Host:       "127.0.0.1:50505",
		ScanRange:  scanner.ScanRange{Start: 10, End: 2700},
		Resolution: 2,
		StartedAt:  start,
	}))
	require.NoError(t, s.RecordTransition("s1", "Idle", "AwaitingStartReply", start))
	require.NoError(t, s.EndSession("s1", start.Add(time.Minute), "AwaitingStopReply"))

	sessions, err := s.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	got := sessions[0]
	assert.Equal(t, scanner.ScanRange{Start: 10, End: 2700}, got.ScanRange)
	assert.Equal(t, scanner.TenthOfDegree(2), got.Resolution)
	assert.True(t, got.StartedAt.Equal(start))
	assert.True(t, got.EndedAt.Equal(start.Add(time.Minute)))
	assert.Equal(t, "AwaitingStopReply", got.FinalPhase)

	err = s.EndSession("missing", start, "Idle")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestStore_RecordScan(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateSession(SessionRecord{ID: "s1", StartedAt: time.Unix(0, 0)}))

	ts := time.Unix(1700000000, 500)
	require.NoError(t, s.RecordScan("s1", scanner.LaserScan{
		AngleMin:      100,
		AngleMax:      120,
		Resolution:    10,
		Timestamp:     ts,
		ScanCounter:   9,
		Ranges:        []float64{2, 1, math.Inf(1)},
		ActiveZoneset: 3,
	}))
	require.NoError(t, s.RecordScan("s1", scanner.LaserScan{
		Resolution:  10,
		Timestamp:   ts,
		ScanCounter: 10,
		Ranges:      []float64{math.Inf(1)},
	}))

	scans, err := s.Scans("s1")
	require.NoError(t, err)
	require.Len(t, scans, 2)

	first := scans[0]
	assert.Equal(t, uint32(9), first.ScanCounter)
	assert.True(t, first.Timestamp.Equal(ts))
	assert.Equal(t, 3, first.Summary.Beams)
	assert.Equal(t, 2, first.Summary.Valid)
	assert.Equal(t, 1.0, first.Summary.MinRange)
	assert.Equal(t, 2.0, first.Summary.MaxRange)
	assert.Equal(t, scanner.TenthOfDegree(110), first.Summary.NearestAngle)
	assert.Equal(t, uint8(3), first.ActiveZoneset)

	assert.Equal(t, 0, scans[1].Summary.Valid)
	assert.Equal(t, 0.0, scans[1].Summary.MinRange)
}

func TestRecorder_RecordsSessions(t *testing.T) {
	s := openTestStore(t)
	rec := NewRecorder(s, testSessionConfig(t))
	clock := time.Unix(1700000000, 0)
	rec.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	// A scan outside a session is dropped.
	rec.HandleScan(scanner.LaserScan{Ranges: []float64{1}, Timestamp: clock})

	rec.ObservePhase(session.PhaseIdle, session.PhaseAwaitingStartReply)
	id := rec.SessionID()
	require.NotEmpty(t, id)
	rec.ObservePhase(session.PhaseAwaitingStartReply, session.PhaseActive)
	rec.HandleScan(scanner.LaserScan{Ranges: []float64{1}, Timestamp: clock, Resolution: 1})
	rec.ObservePhase(session.PhaseActive, session.PhaseAwaitingStopReply)
	rec.ObservePhase(session.PhaseAwaitingStopReply, session.PhaseIdle)
	assert.Empty(t, rec.SessionID())

	// A stop from Idle opens no session.
	rec.ObservePhase(session.PhaseIdle, session.PhaseAwaitingStopReply)
	assert.Empty(t, rec.SessionID())

	transitions, err := s.Transitions(id)
	require.NoError(t, err)
	var got []string
	for _, tr := range transitions {
		got = append(got, tr.From+"->"+tr.To)
	}
	assert.Equal(t, []string{
		"Idle->AwaitingStartReply",
		"AwaitingStartReply->Active",
		"Active->AwaitingStopReply",
		"AwaitingStopReply->Idle",
	}, got)

	scans, err := s.Scans(id)
	require.NoError(t, err)
	assert.Len(t, scans, 1)

	sessions, err := s.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "127.0.0.100:3000", sessions[0].Device)
	assert.Equal(t, "AwaitingStopReply", sessions[0].FinalPhase)
	assert.False(t, sessions[0].EndedAt.IsZero())
}

func TestAttachAdminRoutes_Sessions(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateSession(SessionRecord{ID: "abc", StartedAt: time.Unix(1700000000, 0)}))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"id":"abc"`), w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/debug/sessions?limit=x", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
