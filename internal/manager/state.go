package manager

// State is the single authoritative lifecycle value for one engine instance.
// Transitions happen only through Manager.transition, serialized behind the
// manager mutex.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateBuilding    State = "building"
	StateBuildFailed State = "build_failed"
	StateGraphReady  State = "graph_ready"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateFrozen      State = "frozen"
	StateStopped     State = "stopped"
	StateFailed      State = "failed"
)

// Reason says why a terminal or failure transition happened, so callers can
// tell "hung" from "errored" without reading process output.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonEngineError     Reason = "engine_error"
	ReasonFreezeTimeout   Reason = "freeze_timeout"
	ReasonUnexpectedExit  Reason = "unexpected_exit"
	ReasonLaunchError     Reason = "launch_error"
	ReasonPortUnavailable Reason = "port_unavailable"
	ReasonFetchError      Reason = "fetch_error"
	ReasonStopRequested   Reason = "stop_requested"
)

// transitions is the allowed edge set. GraphReady directly from Preparing
// covers the resume path when a prior run already built the graph. Stopped
// can re-enter Preparing on a fresh start; Failed requires Reset.
var transitions = map[State][]State{
	StateIdle:        {StatePreparing, StateFailed},
	StatePreparing:   {StateBuilding, StateGraphReady, StateStopped, StateFailed},
	StateBuilding:    {StateGraphReady, StateBuildFailed, StateStopped, StateFailed},
	StateGraphReady:  {StateStarting, StateStopped, StateFailed},
	StateStarting:    {StateRunning, StateStarting, StateStopped, StateFailed},
	StateRunning:     {StateFrozen, StateStopped, StateFailed},
	StateFrozen:      {StateStopped, StateFailed},
	StateBuildFailed: {StatePreparing},
	StateStopped:     {StatePreparing},
	StateFailed:      {StateIdle}, // explicit Reset only
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the current engine instance.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateFailed, StateBuildFailed:
		return true
	}
	return false
}
