package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// Registration is one-shot; repeat calls are no-ops.
	require.NoError(t, Register(reg))

	IncLaunch("build")
	IncTransition("idle", "preparing")
	SetState("idle", "preparing")
	ObserveBuildDuration(12.5)
	IncFreezeTimeout("build")
	IncOutputLine("build", "activity")

	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"tripsitter_engine_launches_total",
		"tripsitter_supervisor_state_transitions_total",
		"tripsitter_supervisor_current_state",
		"tripsitter_engine_build_duration_seconds",
		"tripsitter_supervisor_freeze_timeouts_total",
		"tripsitter_engine_output_lines_total",
	} {
		assert.True(t, found[name], "metric %s not gathered", name)
	}
}
