package session

// State is the controller's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateAwaitingQuietPeriod
	StateAwaitingFullWindow
	StateTranscribing
	StateFiltering
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingQuietPeriod:
		return "awaiting_quiet_period"
	case StateAwaitingFullWindow:
		return "awaiting_full_window"
	case StateTranscribing:
		return "transcribing"
	case StateFiltering:
		return "filtering"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
