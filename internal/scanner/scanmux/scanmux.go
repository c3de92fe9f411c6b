// Package scanmux fans scans out from a session to any number of
// subscribers: the recorder, the monitor and live debug tails.
package scanmux

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/safety.scanner/internal/httputil"
	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/frames"
)

// SUBSCRIBER_BUFFER is the number of scans buffered per subscriber. A
// subscriber that falls further behind misses scans.
const SUBSCRIBER_BUFFER = 16

// ScanMux distributes scans published by a single producer.
type ScanMux struct {
	subscribers  map[string]chan scanner.LaserScan
	subscriberMu sync.Mutex
	closing      bool

	dropped uint64
}

// ScanMuxInterface defines the interface for the ScanMux type.
type ScanMuxInterface interface {
	// Subscribe creates a new channel for receiving scans. The id identifies
	// the channel when unsubscribing.
	Subscribe() (string, <-chan scanner.LaserScan)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Publish hands scan to every subscriber without blocking.
	Publish(scanner.LaserScan)
	// Close closes all subscribed channels.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

var _ ScanMuxInterface = (*ScanMux)(nil)

func NewScanMux() *ScanMux {
	return &ScanMux{subscribers: make(map[string]chan scanner.LaserScan)}
}

func (s *ScanMux) Subscribe() (string, <-chan scanner.LaserScan) {
	id := uuid.NewString()
	ch := make(chan scanner.LaserScan, SUBSCRIBER_BUFFER)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *ScanMux) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Publish has the signature of scanner.LaserScanHandler so the mux can be
// installed directly as a session's handler.
func (s *ScanMux) Publish(scan scanner.LaserScan) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		return
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- scan:
		default:
			// skip slow subscribers so the receive loop never blocks
			s.dropped++
		}
	}
}

// Subscribers returns the number of current subscribers.
func (s *ScanMux) Subscribers() int {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return len(s.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (s *ScanMux) Dropped() uint64 {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return s.dropped
}

func (s *ScanMux) Close() error {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return nil
}

// tailEvent is the JSON payload of one SSE event.
type tailEvent struct {
	ScanCounter   uint32  `json:"scan_counter"`
	Timestamp     string  `json:"timestamp"`
	AngleMin      float64 `json:"angle_min_deg"`
	AngleMax      float64 `json:"angle_max_deg"`
	Beams         int     `json:"beams"`
	Valid         int     `json:"valid"`
	MinRange      float64 `json:"min_range_m"`
	MeanRange     float64 `json:"mean_range_m"`
	NearestAngle  float64 `json:"nearest_angle_deg"`
	ActiveZoneset uint8   `json:"active_zoneset"`
}

func newTailEvent(scan scanner.LaserScan) tailEvent {
	sum := frames.Summarize(scan)
	ev := tailEvent{
		ScanCounter:   scan.ScanCounter,
		Timestamp:     scan.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		AngleMin:      scan.AngleMin.Degrees(),
		AngleMax:      scan.AngleMax.Degrees(),
		Beams:         sum.Beams,
		Valid:         sum.Valid,
		ActiveZoneset: scan.ActiveZoneset,
	}
	if sum.Valid > 0 {
		ev.MinRange = sum.MinRange
		ev.MeanRange = sum.MeanRange
		ev.NearestAngle = sum.NearestAngle.Degrees()
	}
	return ev
}

func (s *ScanMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("scan subscribers", func() any { return s.Subscribers() })
	debug.KVFunc("scan deliveries dropped", func() any { return s.Dropped() })

	// API endpoint to issue Server-Side Events (SSE) with a summary of every
	// scan.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case scan, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(newTailEvent(scan))
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
