package manager

import "testing"

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateIdle, StatePreparing},
		{StatePreparing, StateBuilding},
		{StatePreparing, StateGraphReady}, // previously built graph
		{StateBuilding, StateGraphReady},
		{StateBuilding, StateBuildFailed},
		{StateGraphReady, StateStarting},
		{StateStarting, StateRunning},
		{StateStarting, StateStarting}, // port bind race retry
		{StateRunning, StateFrozen},
		{StateRunning, StateStopped},
		{StateFrozen, StateStopped},
		{StateBuildFailed, StatePreparing},
		{StateStopped, StatePreparing},
		{StateFailed, StateIdle},
	}
	for _, e := range allowed {
		if !canTransition(e.from, e.to) {
			t.Fatalf("edge %s -> %s should be allowed", e.from, e.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateIdle, StateRunning},
		{StateIdle, StateBuilding},
		{StateBuildFailed, StateStarting},
		{StateFailed, StatePreparing}, // Failed requires Reset
		{StateStopped, StateRunning},
		{StateRunning, StateBuilding},
		{StateFrozen, StateRunning},
	}
	for _, e := range denied {
		if canTransition(e.from, e.to) {
			t.Fatalf("edge %s -> %s should be denied", e.from, e.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateStopped, StateFailed, StateBuildFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateIdle, StatePreparing, StateBuilding, StateGraphReady, StateStarting, StateRunning, StateFrozen} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
