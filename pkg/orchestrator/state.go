package orchestrator

// State is the phase of the orchestrator's turn state machine:
// Idle → Sending → Streaming → Committing → Idle, with Failed reachable
// from Sending and Streaming. Every turn ends back in Idle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCommitting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCommitting:
		return "committing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
