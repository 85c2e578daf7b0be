package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tripsitter/tripsitter/internal/engine"
	"github.com/tripsitter/tripsitter/internal/fetch"
	"github.com/tripsitter/tripsitter/internal/history"
	"github.com/tripsitter/tripsitter/internal/metrics"
	"github.com/tripsitter/tripsitter/internal/monitor"
)

// Defaults for the central tunables. The idle thresholds balance
// false-positive stalls on long legitimate builds against true hangs.
const (
	DefaultBuildIdleTimeout = 10 * time.Minute
	DefaultStartIdleTimeout = 10 * time.Minute
	DefaultStopGrace        = 10 * time.Second
	DefaultServeRetries     = 3
	DefaultAliveInterval    = 5 * time.Second
)

// Config carries the construction inputs for a Manager.
type Config struct {
	Engine    engine.Spec
	BBox      fetch.BBox
	FixedPort int // 0 means dynamic allocation

	BuildIdleTimeout time.Duration // no build output for this long => hung
	StartIdleTimeout time.Duration // same, during serve startup
	ServeIdleTimeout time.Duration // 0 disables freeze-by-silence while serving
	StopGrace        time.Duration // SIGTERM to SIGKILL escalation window
	ServeRetries     int           // serve launch attempts on port bind races

	SkipFetch   bool   // input data is already on disk
	RequireGTFS bool   // fail Preparing when no transit feed could be fetched
	HealthPath  string // serve-phase HTTP liveness probe path; empty disables

	Fetcher *fetch.Client
	History history.Sink

	// Marker table overrides; defaults cover the known engine versions.
	BuildMarkers []monitor.Marker
	ServeMarkers []monitor.Marker

	// DisableKillHook skips the host-termination cleanup hook; embedders
	// that own signal handling and guarantee Stop can set it.
	DisableKillHook bool
}

func (c *Config) applyDefaults() {
	if c.BuildIdleTimeout <= 0 {
		c.BuildIdleTimeout = DefaultBuildIdleTimeout
	}
	if c.StartIdleTimeout <= 0 {
		c.StartIdleTimeout = DefaultStartIdleTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.ServeRetries <= 0 {
		c.ServeRetries = DefaultServeRetries
	}
	if c.Fetcher == nil {
		c.Fetcher = &fetch.Client{}
	}
	if c.BuildMarkers == nil {
		c.BuildMarkers = monitor.BuildMarkers()
	}
	if c.ServeMarkers == nil {
		c.ServeMarkers = monitor.ServeMarkers()
	}
	if c.Engine.JarURL == "" {
		c.Engine.JarURL = engine.DefaultJarURL
	}
}

// StateError reports the terminal state Start ended in instead of Running.
type StateError struct {
	State  State
	Reason Reason
	Detail string
}

func (e *StateError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("engine supervisor: state=%s reason=%s", e.State, e.Reason)
	}
	return fmt.Sprintf("engine supervisor: state=%s reason=%s: %s", e.State, e.Reason, e.Detail)
}

// Status is a point-in-time view for callers. RecentLines carries the output
// tail so failures can be diagnosed without inspecting the process manually.
type Status struct {
	State       State        `json:"state"`
	Reason      Reason       `json:"reason,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	Phase       engine.Phase `json:"phase,omitempty"`
	PID         int          `json:"pid,omitempty"`
	Port        int          `json:"port,omitempty"`
	LastLine    string       `json:"last_line,omitempty"`
	RecentLines []string     `json:"recent_lines,omitempty"`
	ChangedAt   time.Time    `json:"changed_at"`
}

// Manager is the lifecycle supervisor. It owns the EngineProcess of the
// current phase and is the sole consumer of monitor events; all state
// transitions are serialized behind its mutex.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	state     State
	reason    Reason
	detail    string
	changedAt time.Time
	phase     engine.Phase
	port      int
	proc      *engine.Process
	mon       *monitor.Monitor
	stopping  bool
	stopErr   error

	prog     *progress
	hookOnce sync.Once
}

func New(cfg Config) *Manager {
	cfg.applyDefaults()
	cfg.Engine.Name = engine.ScrubName(cfg.Engine.Name)
	return &Manager{cfg: cfg, state: StateIdle, changedAt: time.Now()}
}

// transition applies one state machine edge. It is the only mutation path for
// the supervisor state.
func (m *Manager) transition(to State, reason Reason, detail string) error {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	m.state = to
	m.reason = reason
	m.detail = detail
	m.changedAt = time.Now()
	m.mu.Unlock()

	metrics.IncTransition(string(from), string(to))
	metrics.SetState(string(from), string(to))
	slog.Info("supervisor state", "from", from, "to", to, "reason", reason)
	return nil
}

// tryTransition is transition for paths where a concurrent actor may have
// already moved the machine to a terminal state; the lost race is benign.
func (m *Manager) tryTransition(to State, reason Reason, detail string) bool {
	return m.transition(to, reason, detail) == nil
}

// Start drives Idle/Stopped through Preparing, Building and Starting,
// blocking until the machine reaches Running (nil), or BuildFailed/Failed/
// Stopped (a *StateError). Bounded by the configured idle timeouts.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	if err := m.prepare(ctx); err != nil {
		return err
	}
	if err := m.runBuild(ctx); err != nil {
		return err
	}
	return m.runServe(ctx)
}

// Build runs the preparation and graph build phases only, leaving the
// machine in GraphReady without launching the server.
func (m *Manager) Build(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	if err := m.prepare(ctx); err != nil {
		return err
	}
	return m.runBuild(ctx)
}

// begin validates the starting state and moves the machine to Preparing.
func (m *Manager) begin() error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateStopped, StateBuildFailed:
	default:
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("start not permitted from state %s", st)
	}
	m.stopping = false
	m.stopErr = nil
	m.port = 0
	m.mu.Unlock()

	return m.transition(StatePreparing, ReasonNone, "")
}

// Stop terminates the current engine process and moves the machine to
// Stopped. It is safe to call from any state and idempotent: a second call
// while or after a prior stop returns the same outcome.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state == StateStopped {
		err := m.stopErr
		m.mu.Unlock()
		return err
	}
	m.stopping = true
	proc := m.proc
	m.mu.Unlock()

	var err error
	if proc != nil {
		err = proc.Stop(m.cfg.StopGrace)
	}
	m.tryTransition(StateStopped, ReasonStopRequested, "")

	m.mu.Lock()
	m.stopErr = err
	m.proc = nil
	m.mu.Unlock()
	return err
}

// Reset acknowledges a Failed instance and returns the machine to Idle.
func (m *Manager) Reset() error {
	return m.transition(StateIdle, ReasonNone, "")
}

// Status returns the current supervisor state plus the last classified
// output, the phase and its process id, and the bound port when Running.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		State:     m.state,
		Reason:    m.reason,
		Detail:    m.detail,
		Phase:     m.phase,
		Port:      m.port,
		ChangedAt: m.changedAt,
	}
	proc := m.proc
	mon := m.mon
	m.mu.Unlock()

	if proc != nil {
		st.PID = proc.PID()
	}
	if mon != nil {
		st.LastLine = mon.LastLine()
		st.RecentLines = mon.RecentLines()
	}
	return st
}

// Port is valid only once the machine is Running; 0 otherwise.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning && m.state != StateFrozen {
		return 0
	}
	return m.port
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) stopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

func (m *Manager) setCurrent(proc *engine.Process, mon *monitor.Monitor, phase engine.Phase) {
	m.mu.Lock()
	m.proc = proc
	m.mon = mon
	m.phase = phase
	m.mu.Unlock()
}

// fail records a terminal failure and returns the matching StateError.
func (m *Manager) fail(to State, reason Reason, detail string) error {
	if m.stopRequested() {
		m.tryTransition(StateStopped, ReasonStopRequested, "")
		return &StateError{State: StateStopped, Reason: ReasonStopRequested}
	}
	m.tryTransition(to, reason, detail)
	return &StateError{State: to, Reason: reason, Detail: detail}
}

func (m *Manager) recordPhase(t history.EventType, rec history.Record) {
	sink := m.cfg.History
	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Send(ctx, history.Event{Type: t, OccurredAt: time.Now(), Record: rec}); err != nil {
		slog.Warn("history sink send failed", "error", err)
	}
}

// checkInterval derives the freeze-check period from an idle threshold.
func checkInterval(idle time.Duration) time.Duration {
	iv := idle / 4
	if iv < 50*time.Millisecond {
		iv = 50 * time.Millisecond
	}
	if iv > 2*time.Second {
		iv = 2 * time.Second
	}
	return iv
}
