package monitor

import (
	"bufio"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// How many recent output lines are retained for diagnostics.
const recentLineCount = 20

var portRe = regexp.MustCompile(`(?i)port[ :=]+(\d{2,5})`)

// Event is a classified output signal. Plain activity lines never reach the
// event channel; they only refresh the activity timestamp readable via
// LastActivity. The supervisor is the sole consumer of the channel.
type Event struct {
	Kind Kind
	Line string
	Port int // parsed from a ready line; 0 when absent
	At   time.Time
}

// Monitor consumes one engine process's combined output stream, classifies
// each line against a marker table and timestamps the last observed activity.
// One Monitor is created per EngineProcess; the reader goroutine terminates
// when the stream closes.
type Monitor struct {
	markers []Marker
	events  chan Event

	mu           sync.Mutex
	lastActivity time.Time
	lastLine     string
	recent       []string
	lines        int64
}

func New(markers []Marker) *Monitor {
	return &Monitor{
		markers:      markers,
		events:       make(chan Event, 16),
		lastActivity: time.Now(),
	}
}

// Events returns the single-consumer channel of classified signals. It is
// closed when the output stream ends.
func (m *Monitor) Events() <-chan Event { return m.events }

// Run reads the stream line by line until EOF. It blocks and is meant to be
// the body of the dedicated reader goroutine.
func (m *Monitor) Run(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		m.observe(line)
		kind := Classify(m.markers, line)
		if kind == KindActivity {
			continue
		}
		ev := Event{Kind: kind, Line: line, At: time.Now()}
		if kind == KindServeReady {
			ev.Port = parsePort(line)
		}
		m.events <- ev
	}
	if err := sc.Err(); err != nil {
		slog.Debug("engine output stream closed with error", "error", err)
	}
	close(m.events)
}

func (m *Monitor) observe(line string) {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.lastLine = line
	m.recent = append(m.recent, line)
	if len(m.recent) > recentLineCount {
		m.recent = m.recent[len(m.recent)-recentLineCount:]
	}
	m.lines++
	m.mu.Unlock()
}

// LastActivity returns the timestamp of the most recently observed output
// line. It is monotonically non-decreasing while the process is alive.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// LastLine returns the most recent output line.
func (m *Monitor) LastLine() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLine
}

// RecentLines returns a copy of the retained tail of the output.
func (m *Monitor) RecentLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.recent))
	copy(out, m.recent)
	return out
}

// Lines returns the total number of observed output lines.
func (m *Monitor) Lines() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines
}

// parsePort extracts the bound port from a ready line, 0 if none is present.
func parsePort(line string) int {
	match := portRe.FindStringSubmatch(line)
	if match == nil {
		return 0
	}
	p, err := strconv.Atoi(match[1])
	if err != nil || p <= 0 || p > 65535 {
		return 0
	}
	return p
}
