package monitor

import "strings"

// Kind classifies an engine output line.
type Kind int

const (
	// KindActivity is any line that matches no marker; it only refreshes the
	// activity timestamp.
	KindActivity Kind = iota
	// KindBuildComplete is the build-phase success marker.
	KindBuildComplete
	// KindServeReady is the serve-phase listening marker.
	KindServeReady
	// KindBindFailure means the engine could not bind its port; the
	// supervisor may retry with a fresh allocation.
	KindBindFailure
	// KindEngineError is a self-reported fatal condition. The process may
	// keep running corrupted and must still be killed.
	KindEngineError
)

func (k Kind) String() string {
	switch k {
	case KindBuildComplete:
		return "build_complete"
	case KindServeReady:
		return "serve_ready"
	case KindBindFailure:
		return "bind_failure"
	case KindEngineError:
		return "engine_error"
	default:
		return "activity"
	}
}

// Marker maps an output substring to an event kind. Classification is by line
// content rather than exit code: the engine may hang without exiting, or
// print a fatal diagnostic and keep running.
type Marker struct {
	Substring string
	Kind      Kind
}

// BuildMarkers is the default marker table for the graph-build phase.
func BuildMarkers() []Marker {
	return []Marker{
		{Substring: "Graph written", Kind: KindBuildComplete},
		{Substring: "OutOfMemoryError", Kind: KindEngineError},
		{Substring: "GraphBuilder encountered an error", Kind: KindEngineError},
		{Substring: "Exception in thread", Kind: KindEngineError},
	}
}

// ServeMarkers is the default marker table for the serve phase. New engine
// versions add markers here without touching the state machine.
func ServeMarkers() []Marker {
	return []Marker{
		{Substring: "Grizzly server running", Kind: KindServeReady},
		{Substring: "Server started on port", Kind: KindServeReady},
		{Substring: "Address already in use", Kind: KindBindFailure},
		{Substring: "OutOfMemoryError", Kind: KindEngineError},
		{Substring: "Exception in thread", Kind: KindEngineError},
	}
}

// Classify returns the kind of the first matching marker, or KindActivity.
func Classify(markers []Marker, line string) Kind {
	for _, m := range markers {
		if m.Substring != "" && strings.Contains(line, m.Substring) {
			return m.Kind
		}
	}
	return KindActivity
}
