package synckit

import "fmt"

// Phase is the lifecycle phase of the continuous sync loop.
type Phase uint8

const (
	PhaseStopped Phase = iota
	PhaseRunning
	PhaseRetrying
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseRunning:
		return "running"
	case PhaseRetrying:
		return "retrying"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// State is a snapshot of the loop. It is never persisted.
type State struct {
	Phase Phase

	// Attempt counts consecutive failed cycles while Retrying.
	Attempt int

	// LastError is the failure that caused the current Retrying phase.
	LastError error

	// Initial is true until the loop track completes its first cycle.
	Initial bool
}

// Active reports whether a loop goroutine exists.
func (s State) Active() bool {
	return s.Phase != PhaseStopped
}

func (s State) String() string {
	if s.Phase == PhaseRetrying {
		return fmt.Sprintf("retrying(attempt=%d, err=%v)", s.Attempt, s.LastError)
	}
	return s.Phase.String()
}
