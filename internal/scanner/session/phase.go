package session

// Phase is where the session is in its start/stop lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingStartReply
	PhaseActive
	PhaseAwaitingStopReply
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitingStartReply:
		return "AwaitingStartReply"
	case PhaseActive:
		return "Active"
	case PhaseAwaitingStopReply:
		return "AwaitingStopReply"
	default:
		return "Unknown"
	}
}

// PhaseObserver is notified of every phase change, in order.
type PhaseObserver func(from, to Phase)
