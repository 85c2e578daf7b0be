package monitor

import (
	"strings"
	"testing"
	"time"
)

func TestClassifyBuildMarkers(t *testing.T) {
	markers := BuildMarkers()
	cases := []struct {
		line string
		want Kind
	}{
		{"Graph written to /data/graphs/pdx/Graph.obj", KindBuildComplete},
		{"java.lang.OutOfMemoryError: Java heap space", KindEngineError},
		{"GraphBuilder encountered an error and will exit", KindEngineError},
		{"Exception in thread \"main\" java.lang.RuntimeException", KindEngineError},
		{"INFO loading OSM from map-2026.osm", KindActivity},
		{"", KindActivity},
	}
	for _, tc := range cases {
		if got := Classify(markers, tc.line); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestClassifyServeMarkers(t *testing.T) {
	markers := ServeMarkers()
	cases := []struct {
		line string
		want Kind
	}{
		{"Grizzly server running.", KindServeReady},
		{"Server started on port 8080", KindServeReady},
		{"java.net.BindException: Address already in use", KindBindFailure},
		{"routing request for pdx", KindActivity},
	}
	for _, tc := range cases {
		if got := Classify(markers, tc.line); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestParsePort(t *testing.T) {
	cases := map[string]int{
		"Server started on port 8080":                  8080,
		"Grizzly server running on PORT=9191 (hooray)": 9191,
		"listening port: 80":                           80,
		"Grizzly server running.":                      0,
		"port 999999 is not a real number":             0,
	}
	for line, want := range cases {
		if got := parsePort(line); got != want {
			t.Fatalf("parsePort(%q) = %d, want %d", line, got, want)
		}
	}
}

func TestRunEmitsOnlyMarkedEvents(t *testing.T) {
	m := New(ServeMarkers())
	input := strings.Join([]string{
		"INFO loading graph",
		"INFO graph loaded",
		"Server started on port 7777",
		"",
	}, "\n")
	go m.Run(strings.NewReader(input))

	select {
	case ev, ok := <-m.Events():
		if !ok {
			t.Fatalf("channel closed before the ready event")
		}
		if ev.Kind != KindServeReady || ev.Port != 7777 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event within deadline")
	}

	// The channel closes once the stream ends; activity lines never appear.
	select {
	case ev, ok := <-m.Events():
		if ok {
			t.Fatalf("unexpected extra event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed at EOF")
	}

	if m.Lines() != 3 {
		t.Fatalf("want 3 observed lines, got %d", m.Lines())
	}
	if m.LastLine() != "Server started on port 7777" {
		t.Fatalf("last line not tracked: %q", m.LastLine())
	}
}

func TestRecentLinesRing(t *testing.T) {
	m := New(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var sb strings.Builder
		for i := 0; i < recentLineCount+10; i++ {
			sb.WriteString("line\n")
		}
		m.Run(strings.NewReader(sb.String()))
	}()
	<-done
	if got := len(m.RecentLines()); got != recentLineCount {
		t.Fatalf("want %d retained lines, got %d", recentLineCount, got)
	}
}

func TestActivityTimestampAdvances(t *testing.T) {
	m := New(BuildMarkers())
	before := m.LastActivity()
	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	go func() { defer close(done); m.Run(strings.NewReader("some progress\n")) }()
	<-done
	if !m.LastActivity().After(before) {
		t.Fatalf("activity timestamp did not advance")
	}
}
