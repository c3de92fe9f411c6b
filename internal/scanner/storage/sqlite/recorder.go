package sqlite

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/session"
)

// Recorder writes a session's lifecycle and scans to a Store. Install
// ObservePhase as a controller phase observer and feed scans through Run or
// HandleScan.
//
// A session row is opened on every Idle -> AwaitingStartReply transition and
// closed when the phase returns to Idle.
type Recorder struct {
	store *Store
	cfg   config.SessionConfig
	now   func() time.Time

	mu        sync.Mutex
	sessionID string
}

func NewRecorder(store *Store, cfg config.SessionConfig) *Recorder {
	return &Recorder{store: store, cfg: cfg, now: time.Now}
}

// SessionID returns the id of the open session, or "" between sessions.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// ObservePhase has the signature of session.PhaseObserver.
func (r *Recorder) ObservePhase(from, to session.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	if r.sessionID == "" {
		if to != session.PhaseAwaitingStartReply {
			// a stop without a session in progress is not recorded
			return
		}
		id := uuid.NewString()
		err := r.store.CreateSession(SessionRecord{
			ID:          id,
			Device:      r.cfg.DeviceControlAddr().String(),
			Host:        r.cfg.HostDataAddr().String(),
			ScanRange:   r.cfg.ScanRange,
			Resolution:  r.cfg.Resolution,
			Intensities: r.cfg.IntensitiesEnabled,
			StartedAt:   now,
		})
		if err != nil {
			monitoring.Warnf("recorder: %v", err)
			return
		}
		r.sessionID = id
	}

	if err := r.store.RecordTransition(r.sessionID, from.String(), to.String(), now); err != nil {
		monitoring.Warnf("recorder: %v", err)
	}
	if to == session.PhaseIdle {
		if err := r.store.EndSession(r.sessionID, now, from.String()); err != nil {
			monitoring.Warnf("recorder: %v", err)
		}
		r.sessionID = ""
	}
}

// HandleScan records scan under the open session. Scans outside a session
// are dropped.
func (r *Recorder) HandleScan(scan scanner.LaserScan) {
	id := r.SessionID()
	if id == "" {
		return
	}
	if err := r.store.RecordScan(id, scan); err != nil {
		monitoring.Warnf("recorder: %v", err)
	}
}

// Run records scans from ch until it is closed or ctx is done.
func (r *Recorder) Run(ctx context.Context, ch <-chan scanner.LaserScan) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan, ok := <-ch:
			if !ok {
				return nil
			}
			r.HandleScan(scan)
		}
	}
}
