package session

import (
	"expvar"

	"tailscale.com/metrics"
)

// Stats counts controller activity by outcome. Publish exposes the counters
// on /debug/varz.
type Stats struct {
	// Frames by result: delivered, dropped_inactive, empty, decode_error.
	Frames metrics.LabelMap
	// Requests by kind: start, stop, resend.
	Requests metrics.LabelMap
	// Replies by result: accepted, refused, stale, decode_error,
	// receive_timeout.
	Replies metrics.LabelMap
	// Failures by cause: timeout, refused, transport, closed, send.
	Failures metrics.LabelMap
}

// NewStats returns labelled, empty counters.
func NewStats() *Stats {
	s := &Stats{}
	s.Frames.Label = "result"
	s.Requests.Label = "kind"
	s.Replies.Label = "result"
	s.Failures.Label = "cause"
	return s
}

// Publish registers the counters with expvar under prefix. It panics if
// called twice with the same prefix.
func (s *Stats) Publish(prefix string) {
	expvar.Publish("counter_"+prefix+"_frames", &s.Frames)
	expvar.Publish("counter_"+prefix+"_requests", &s.Requests)
	expvar.Publish("counter_"+prefix+"_replies", &s.Replies)
	expvar.Publish("counter_"+prefix+"_failures", &s.Failures)
}

// Count returns the value of one counter, for tests and status pages.
func Count(m *metrics.LabelMap, key string) int64 {
	return m.Get(key).Value()
}

// Snapshot returns every counter keyed by group and label.
func (s *Stats) Snapshot() map[string]map[string]int64 {
	return map[string]map[string]int64{
		"frames":   counts(&s.Frames),
		"requests": counts(&s.Requests),
		"replies":  counts(&s.Replies),
		"failures": counts(&s.Failures),
	}
}

func counts(m *metrics.LabelMap) map[string]int64 {
	out := make(map[string]int64)
	m.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			out[kv.Key] = v.Value()
		}
	})
	return out
}
