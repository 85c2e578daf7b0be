package tripsitter

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tripsitter/tripsitter/internal/config"
	"github.com/tripsitter/tripsitter/internal/engine"
	"github.com/tripsitter/tripsitter/internal/fetch"
	"github.com/tripsitter/tripsitter/internal/history"
	"github.com/tripsitter/tripsitter/internal/history/factory"
	"github.com/tripsitter/tripsitter/internal/manager"
	"github.com/tripsitter/tripsitter/internal/metrics"
	"github.com/tripsitter/tripsitter/internal/monitor"
	"github.com/tripsitter/tripsitter/internal/server"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type (
	Spec        = engine.Spec
	Phase       = engine.Phase
	BBox        = fetch.BBox
	Config      = manager.Config
	State       = manager.State
	Status      = manager.Status
	StateError  = manager.StateError
	Marker      = monitor.Marker
	HistorySink = history.Sink
	FileConfig  = config.FileConfig
)

const (
	PhaseBuild = engine.PhaseBuild
	PhaseServe = engine.PhaseServe

	StateIdle        = manager.StateIdle
	StatePreparing   = manager.StatePreparing
	StateBuilding    = manager.StateBuilding
	StateBuildFailed = manager.StateBuildFailed
	StateGraphReady  = manager.StateGraphReady
	StateStarting    = manager.StateStarting
	StateRunning     = manager.StateRunning
	StateFrozen      = manager.StateFrozen
	StateStopped     = manager.StateStopped
	StateFailed      = manager.StateFailed
)

// Supervisor is a thin facade over internal/manager.Manager, providing a
// stable public API for embedding.
type Supervisor struct{ inner *manager.Manager }

func New(cfg Config) *Supervisor { return &Supervisor{inner: manager.New(cfg)} }

// Start blocks until the engine is Running or the machine reached a terminal
// failure state, in which case the error is a *StateError.
func (s *Supervisor) Start(ctx context.Context) error { return s.inner.Start(ctx) }

// Build fetches input data and builds the graph without serving.
func (s *Supervisor) Build(ctx context.Context) error { return s.inner.Build(ctx) }

// Stop terminates the engine; idempotent and safe from any state.
func (s *Supervisor) Stop() error { return s.inner.Stop() }

func (s *Supervisor) Status() Status { return s.inner.Status() }
func (s *Supervisor) State() State   { return s.inner.State() }
func (s *Supervisor) Port() int      { return s.inner.Port() }
func (s *Supervisor) Reset() error   { return s.inner.Reset() }

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*FileConfig, error) { return config.Load(path) }

// NewHistorySink creates a phase-run history sink from a DSN
// (sqlite, postgres or clickhouse).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// RegisterMetrics registers the supervisor's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// NewServer starts the status/control HTTP API for a supervisor.
func NewServer(addr, basePath string, s *Supervisor) *http.Server {
	return server.NewServer(addr, basePath, s.inner)
}
