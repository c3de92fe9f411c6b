package session

import (
	"fmt"

	"github.com/banshee-data/safety.scanner/internal/scanner/protocol"
)

// UnboundedRetries makes the state machine resend forever on reply timeout.
const UnboundedRetries = -1

// EventKind enumerates the inputs of the state machine.
type EventKind int

const (
	EventStartRequested EventKind = iota
	EventStopRequested
	EventReplyReceived
	EventReplyTimeout
	EventFrameArrived
	EventTransportError
)

func (k EventKind) String() string {
	switch k {
	case EventStartRequested:
		return "StartRequested"
	case EventStopRequested:
		return "StopRequested"
	case EventReplyReceived:
		return "ReplyReceived"
	case EventReplyTimeout:
		return "ReplyTimeout"
	case EventFrameArrived:
		return "FrameArrived"
	case EventTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// Event is one input. Reply is set for EventReplyReceived and Err for
// EventTransportError.
type Event struct {
	Kind  EventKind
	Reply protocol.Reply
	Err   error
}

// Action is an effect the controller carries out after a transition.
type Action int

const (
	ActionSendStart Action = iota + 1
	ActionResendStart
	ActionSendStop
	ActionResendStop
	ActionResolveStart
	ActionFailStart
	ActionAbandonStart
	ActionResolveStop
	ActionFailStop
	ActionDeliverFrame
	ActionDropFrame
	ActionIgnore
)

// Transition is the result of firing one event. Seq is the sequence number
// of the outstanding request for send and resend actions; Err is set for
// ActionFailStart and ActionFailStop.
type Transition struct {
	From    Phase
	To      Phase
	Actions []Action
	Seq     uint32
	Err     error
}

// Changed reports whether the phase changed.
func (t Transition) Changed() bool { return t.From != t.To }

// Has reports whether a is among the transition's actions.
func (t Transition) Has(a Action) bool {
	for _, x := range t.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// StateMachine is the pure session phase model. It performs no I/O and is
// not safe for concurrent use; the Controller serializes access.
type StateMachine struct {
	phase      Phase
	pendingSeq uint32
	nextSeq    uint32
	retries    int
	maxRetries int
}

// NewStateMachine returns a machine in PhaseIdle. maxRetries bounds how many
// times a request is resent on timeout; UnboundedRetries never gives up.
func NewStateMachine(maxRetries int) *StateMachine {
	return &StateMachine{maxRetries: maxRetries}
}

func (m *StateMachine) Phase() Phase { return m.phase }

// PendingSeq is the sequence number of the last request sent.
func (m *StateMachine) PendingSeq() uint32 { return m.pendingSeq }

// Retries is the number of resends of the outstanding request.
func (m *StateMachine) Retries() int { return m.retries }

// Fire applies ev and returns the resulting transition. Only start and stop
// requests can fail, with ErrInvalidPhase, and then nothing changes.
func (m *StateMachine) Fire(ev Event) (Transition, error) {
	tr := Transition{From: m.phase, To: m.phase}

	switch ev.Kind {
	case EventStartRequested:
		if m.phase != PhaseIdle {
			return tr, fmt.Errorf("start in phase %s: %w", m.phase, ErrInvalidPhase)
		}
		m.pendingSeq = 0
		m.nextSeq = 1
		m.retries = 0
		m.phase = PhaseAwaitingStartReply
		tr.Actions = []Action{ActionSendStart}

	case EventStopRequested:
		if m.phase == PhaseAwaitingStopReply {
			return tr, fmt.Errorf("stop in phase %s: %w", m.phase, ErrInvalidPhase)
		}
		if m.phase == PhaseAwaitingStartReply {
			tr.Actions = append(tr.Actions, ActionAbandonStart)
		}
		m.pendingSeq = m.nextSeq
		m.nextSeq++
		m.retries = 0
		m.phase = PhaseAwaitingStopReply
		tr.Actions = append(tr.Actions, ActionSendStop)

	case EventReplyReceived:
		tr.Actions = m.onReply(ev.Reply, &tr)

	case EventReplyTimeout:
		tr.Actions = m.onTimeout(&tr)

	case EventFrameArrived:
		if m.phase == PhaseActive {
			tr.Actions = []Action{ActionDeliverFrame}
		} else {
			tr.Actions = []Action{ActionDropFrame}
		}

	case EventTransportError:
		switch m.phase {
		case PhaseAwaitingStartReply:
			m.phase = PhaseIdle
			tr.Actions = []Action{ActionFailStart}
			tr.Err = ev.Err
		case PhaseAwaitingStopReply:
			m.phase = PhaseIdle
			tr.Actions = []Action{ActionFailStop}
			tr.Err = ev.Err
		default:
			tr.Actions = []Action{ActionIgnore}
		}

	default:
		tr.Actions = []Action{ActionIgnore}
	}

	tr.To = m.phase
	tr.Seq = m.pendingSeq
	return tr, nil
}

func (m *StateMachine) onReply(r protocol.Reply, tr *Transition) []Action {
	switch {
	case m.phase == PhaseAwaitingStartReply && r.Answers(protocol.OpcodeStart, m.pendingSeq):
		if r.Accepted() {
			m.phase = PhaseActive
			return []Action{ActionResolveStart}
		}
		m.phase = PhaseIdle
		tr.Err = fmt.Errorf("start #%d: %w (result 0x%02x)", r.Seq, ErrRequestRefused, r.Result)
		return []Action{ActionFailStart}

	case m.phase == PhaseAwaitingStopReply && r.Answers(protocol.OpcodeStop, m.pendingSeq):
		m.phase = PhaseIdle
		if r.Accepted() {
			return []Action{ActionResolveStop}
		}
		tr.Err = fmt.Errorf("stop #%d: %w (result 0x%02x)", r.Seq, ErrRequestRefused, r.Result)
		return []Action{ActionFailStop}
	}
	return []Action{ActionIgnore}
}

func (m *StateMachine) onTimeout(tr *Transition) []Action {
	var resend, fail Action
	switch m.phase {
	case PhaseAwaitingStartReply:
		resend, fail = ActionResendStart, ActionFailStart
	case PhaseAwaitingStopReply:
		resend, fail = ActionResendStop, ActionFailStop
	default:
		return []Action{ActionIgnore}
	}

	if m.maxRetries < 0 || m.retries < m.maxRetries {
		m.retries++
		return []Action{resend}
	}
	tr.Err = fmt.Errorf("request #%d after %d retries: %w", m.pendingSeq, m.retries, ErrReplyTimeout)
	m.phase = PhaseIdle
	return []Action{fail}
}
