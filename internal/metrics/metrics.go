package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	phaseLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripsitter",
			Subsystem: "engine",
			Name:      "launches_total",
			Help:      "Engine process launches per phase.",
		}, []string{"phase"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripsitter",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Supervisor state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tripsitter",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active, 0 = inactive).",
		}, []string{"state"},
	)
	buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tripsitter",
			Subsystem: "engine",
			Name:      "build_duration_seconds",
			Help:      "Wall time of completed graph builds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		},
	)
	freezeTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripsitter",
			Subsystem: "supervisor",
			Name:      "freeze_timeouts_total",
			Help:      "Processes force-terminated for output silence.",
		}, []string{"phase"},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripsitter",
			Subsystem: "engine",
			Name:      "output_lines_total",
			Help:      "Classified engine output lines.",
		}, []string{"phase", "class"},
	)
)

// Register registers all collectors with the provided registerer. Safe to
// call multiple times; calls after the first success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	collectors := []prometheus.Collector{
		phaseLaunches, stateTransitions, currentState,
		buildDuration, freezeTimeouts, outputLines,
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers against the default prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncLaunch(phase string) { phaseLaunches.WithLabelValues(phase).Inc() }

func IncTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// SetState marks one state active and the previous one inactive.
func SetState(prev, cur string) {
	if prev != "" {
		currentState.WithLabelValues(prev).Set(0)
	}
	currentState.WithLabelValues(cur).Set(1)
}

func ObserveBuildDuration(sec float64) { buildDuration.Observe(sec) }

func IncFreezeTimeout(phase string) { freezeTimeouts.WithLabelValues(phase).Inc() }

func IncOutputLine(phase, class string) { outputLines.WithLabelValues(phase, class).Inc() }
