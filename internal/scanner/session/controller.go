package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/frames"
	"github.com/banshee-data/safety.scanner/internal/scanner/network"
	"github.com/banshee-data/safety.scanner/internal/scanner/protocol"
)

// DefaultReplyTimeout is used when ControllerConfig.ReplyTimeout is zero.
const DefaultReplyTimeout = time.Second

// ControllerConfig contains configuration options for a Controller.
type ControllerConfig struct {
	Session config.SessionConfig
	Control network.Transport
	Data    network.Transport
	Handler scanner.LaserScanHandler

	ReplyTimeout time.Duration
	// MaxRetries bounds resends per request. Zero never resends;
	// UnboundedRetries never gives up.
	MaxRetries int

	// Clock drives the reply timer and scan timestamps. Defaults to the
	// wall clock.
	Clock     clock.Clock
	Observers []PhaseObserver
	Stats     *Stats
}

// Controller runs one session with one device. Start and Stop never block;
// the returned Completion reports the outcome.
//
// All phase changes happen under mu. Frames are handled one at a time under
// frameMu, and the scan handler and phase observers run without mu held.
type Controller struct {
	session   config.SessionConfig
	control   network.Transport
	data      network.Transport
	handler   scanner.LaserScanHandler
	timeout   time.Duration
	clock     clock.Clock
	observers []PhaseObserver
	stats     *Stats

	mu               sync.Mutex
	sm               *StateMachine
	pending          []byte // serialized outstanding request, resent verbatim
	startCompletion  *Completion
	stopCompletion   *Completion
	timer            *clock.Timer
	timerGen         uint64
	controlReceiving bool
	dataReceiving    bool
	closed           bool
	notes            []Transition

	notifyMu sync.Mutex

	frameMu         sync.Mutex
	lastDiagnostics string
}

// NewController validates cfg. No network activity happens until Start or
// Stop.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Handler == nil {
		return nil, ErrNilHandler
	}
	if cfg.Control == nil || cfg.Data == nil {
		return nil, ErrNilTransport
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Stats == nil {
		cfg.Stats = NewStats()
	}

	return &Controller{
		session:   cfg.Session,
		control:   cfg.Control,
		data:      cfg.Data,
		handler:   cfg.Handler,
		timeout:   cfg.ReplyTimeout,
		clock:     cfg.Clock,
		observers: cfg.Observers,
		stats:     cfg.Stats,
		sm:        NewStateMachine(cfg.MaxRetries),
	}, nil
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Phase()
}

// Session returns the session configuration.
func (c *Controller) Session() config.SessionConfig { return c.session }

// Stats returns the controller counters.
func (c *Controller) Stats() *Stats { return c.stats }

// Start asks the device to start streaming. It fails with ErrInvalidPhase
// unless the session is Idle. Receiving starts on the control channel, then
// on the data channel, the first time it is needed.
func (c *Controller) Start() (*Completion, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if p := c.sm.Phase(); p != PhaseIdle {
		c.mu.Unlock()
		return nil, fmt.Errorf("start in phase %s: %w", p, ErrInvalidPhase)
	}
	if err := c.ensureReceivingLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	tr, err := c.sm.Fire(Event{Kind: EventStartRequested})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	comp := newCompletion()
	c.startCompletion = comp
	c.applyLocked(tr)
	c.mu.Unlock()

	c.flushNotifications()
	return comp, nil
}

// Stop asks the device to stop streaming. It is allowed in every phase but
// AwaitingStopReply. A start still awaiting its reply is abandoned: its
// Completion never becomes ready.
func (c *Controller) Stop() (*Completion, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if p := c.sm.Phase(); p == PhaseAwaitingStopReply {
		c.mu.Unlock()
		return nil, fmt.Errorf("stop in phase %s: %w", p, ErrInvalidPhase)
	}
	if err := c.ensureReceivingLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	tr, err := c.sm.Fire(Event{Kind: EventStopRequested})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	comp := newCompletion()
	c.stopCompletion = comp
	c.applyLocked(tr)
	c.mu.Unlock()

	c.flushNotifications()
	return comp, nil
}

// Close stops the reply timer, fails pending requests with ErrClosed and
// closes both transports. It must not be called from the scan handler.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	if c.startCompletion != nil {
		c.startCompletion.resolve(ErrClosed)
		c.startCompletion = nil
		c.stats.Failures.Add("closed", 1)
	}
	if c.stopCompletion != nil {
		c.stopCompletion.resolve(ErrClosed)
		c.stopCompletion = nil
		c.stats.Failures.Add("closed", 1)
	}
	c.mu.Unlock()

	return multierr.Combine(c.control.Close(), c.data.Close())
}

func (c *Controller) ensureReceivingLocked() error {
	if !c.controlReceiving {
		err := c.control.StartAsyncReceiving(network.ReceiveHandlers{
			OnData:    c.handleReply,
			OnError:   c.handleControlError,
			OnTimeout: c.handleControlTimeout,
		})
		if err != nil && !errors.Is(err, network.ErrAlreadyReceiving) {
			return fmt.Errorf("start receiving on control channel: %w", err)
		}
		c.controlReceiving = true
	}
	if !c.dataReceiving {
		err := c.data.StartAsyncReceiving(network.ReceiveHandlers{
			OnData:  c.handleFrame,
			OnError: c.handleDataError,
		})
		if err != nil && !errors.Is(err, network.ErrAlreadyReceiving) {
			return fmt.Errorf("start receiving on data channel: %w", err)
		}
		c.dataReceiving = true
	}
	return nil
}

// applyLocked carries out the actions of tr. Sends only enqueue, so they are
// safe under mu.
func (c *Controller) applyLocked(tr Transition) {
	for _, a := range tr.Actions {
		switch a {
		case ActionSendStart:
			c.pending = protocol.NewStartRequest(c.session, tr.Seq).Serialize()
			c.sendPendingLocked("start")
		case ActionSendStop:
			c.pending = protocol.NewStopRequest(tr.Seq).Serialize()
			c.sendPendingLocked("stop")
		case ActionResendStart, ActionResendStop:
			monitoring.Debugf("scanner session: no reply to request #%d, resending (retry %d)", tr.Seq, c.sm.Retries())
			c.sendPendingLocked("resend")
		case ActionResolveStart:
			c.stopTimerLocked()
			c.resolveLocked(&c.startCompletion, nil)
		case ActionFailStart:
			c.stopTimerLocked()
			c.countFailure(tr.Err)
			c.resolveLocked(&c.startCompletion, tr.Err)
		case ActionAbandonStart:
			c.startCompletion = nil
		case ActionResolveStop:
			c.stopTimerLocked()
			c.resolveLocked(&c.stopCompletion, nil)
		case ActionFailStop:
			c.stopTimerLocked()
			c.countFailure(tr.Err)
			c.resolveLocked(&c.stopCompletion, tr.Err)
		}
	}
	if tr.Changed() {
		c.notes = append(c.notes, tr)
	}
}

func (c *Controller) sendPendingLocked(kind string) {
	c.control.AsyncSend(c.pending)
	c.stats.Requests.Add(kind, 1)
	c.armTimerLocked()
}

func (c *Controller) resolveLocked(slot **Completion, err error) {
	if *slot != nil {
		(*slot).resolve(err)
		*slot = nil
	}
}

func (c *Controller) countFailure(err error) {
	switch {
	case errors.Is(err, ErrReplyTimeout):
		c.stats.Failures.Add("timeout", 1)
	case errors.Is(err, ErrRequestRefused):
		c.stats.Failures.Add("refused", 1)
	default:
		c.stats.Failures.Add("transport", 1)
	}
}

// armTimerLocked replaces the reply timer. A firing from an older timer is
// recognised by its generation and discarded.
func (c *Controller) armTimerLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.timeout, func() {
		go c.onReplyTimer(gen)
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Controller) onReplyTimer(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.fireLocked(Event{Kind: EventReplyTimeout})
	c.mu.Unlock()
	c.flushNotifications()
}

func (c *Controller) fireLocked(ev Event) Transition {
	tr, err := c.sm.Fire(ev)
	if err != nil {
		// Only start and stop requests can be rejected, and they are
		// pre-checked by Start and Stop.
		monitoring.Warnf("scanner session: unexpected state machine error for %s: %v", ev.Kind, err)
		return tr
	}
	c.applyLocked(tr)
	return tr
}

// handleReply is the control channel's OnData.
func (c *Controller) handleReply(data []byte) {
	reply, err := protocol.ParseReply(data)
	if err != nil {
		c.stats.Replies.Add("decode_error", 1)
		monitoring.Debugf("scanner session: ignoring undecodable reply: %v", err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	tr := c.fireLocked(Event{Kind: EventReplyReceived, Reply: reply})
	switch {
	case tr.Has(ActionIgnore):
		c.stats.Replies.Add("stale", 1)
		monitoring.Debugf("scanner session: ignoring %s reply #%d in phase %s", reply.Opcode, reply.Seq, tr.From)
	case reply.Accepted():
		c.stats.Replies.Add("accepted", 1)
	default:
		c.stats.Replies.Add("refused", 1)
	}
	c.mu.Unlock()
	c.flushNotifications()
}

// handleControlTimeout is the control channel's OnTimeout. The reply timer
// armed with each request is the only source of EventReplyTimeout, so a
// receive-timeout tick never resends or spends retry budget.
func (c *Controller) handleControlTimeout() {
	c.stats.Replies.Add("receive_timeout", 1)
	monitoring.Debugf("scanner session: control channel idle")
}

// handleControlError is the control channel's OnError. A failed send counts
// as a lost request while a reply is outstanding: the reply timer resends it.
func (c *Controller) handleControlError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if errors.Is(err, network.ErrSendFailed) && c.timer != nil {
		c.stats.Failures.Add("send", 1)
		c.mu.Unlock()
		monitoring.Warnf("scanner session: %v, waiting for the reply timer to resend", err)
		return
	}
	tr := c.fireLocked(Event{Kind: EventTransportError, Err: fmt.Errorf("control channel: %w", err)})
	c.mu.Unlock()

	if tr.Has(ActionIgnore) {
		monitoring.Warnf("scanner session: control channel error in phase %s: %v", tr.From, err)
	}
	c.flushNotifications()
}

// handleDataError is the data channel's OnError.
func (c *Controller) handleDataError(err error) {
	monitoring.Warnf("scanner session: data channel error: %v", err)
}

// handleFrame is the data channel's OnData. Admission is decided under mu;
// decoding and the handler run outside it.
func (c *Controller) handleFrame(data []byte) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	tr := c.fireLocked(Event{Kind: EventFrameArrived})
	c.mu.Unlock()

	if !tr.Has(ActionDeliverFrame) {
		c.stats.Frames.Add("dropped_inactive", 1)
		return
	}

	frame, err := protocol.ParseMonitoringFrame(data)
	if err != nil {
		c.stats.Frames.Add("decode_error", 1)
		monitoring.Debugf("scanner session: ignoring undecodable frame: %v", err)
		return
	}
	c.noteDiagnostics(frame.Diagnostics)

	scan, ok := frames.ToLaserScan(frame, c.clock.Now())
	if !ok {
		c.stats.Frames.Add("empty", 1)
		return
	}
	c.stats.Frames.Add("delivered", 1)
	c.handler(scan)
}

func (c *Controller) noteDiagnostics(diags []protocol.DiagnosticMessage) {
	s := fmt.Sprint(diags)
	if len(diags) == 0 {
		s = ""
	}
	if s == c.lastDiagnostics {
		return
	}
	c.lastDiagnostics = s
	if s == "" {
		monitoring.Logf("scanner diagnostics cleared")
		return
	}
	monitoring.Warnf("scanner diagnostics: %s", s)
}

// flushNotifications delivers queued phase changes to the observers in the
// order they happened. Whoever holds notifyMu drains the queue, so an
// observer may call Start or Stop without deadlocking.
func (c *Controller) flushNotifications() {
	for {
		if !c.notifyMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			notes := c.notes
			c.notes = nil
			c.mu.Unlock()
			if len(notes) == 0 {
				break
			}
			for _, tr := range notes {
				monitoring.Logf("scanner session: %s -> %s", tr.From, tr.To)
				for _, obs := range c.observers {
					obs(tr.From, tr.To)
				}
			}
		}
		c.notifyMu.Unlock()

		c.mu.Lock()
		empty := len(c.notes) == 0
		c.mu.Unlock()
		if empty {
			return
		}
	}
}
