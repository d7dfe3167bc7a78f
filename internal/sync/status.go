package sync

// State is the sync session state exposed to status UI collaborators.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateIdle
	StateSyncing
	StateOffline
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateOffline:
		return "offline"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Status is the engine's externally visible condition: the session state,
// the error message when State is StateError, and the number of records
// still awaiting push.
type Status struct {
	State   State
	Err     string
	Pending int
}
