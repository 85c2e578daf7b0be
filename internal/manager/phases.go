package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tripsitter/tripsitter/internal/detector"
	"github.com/tripsitter/tripsitter/internal/engine"
	"github.com/tripsitter/tripsitter/internal/history"
	"github.com/tripsitter/tripsitter/internal/metrics"
	"github.com/tripsitter/tripsitter/internal/monitor"
	"github.com/tripsitter/tripsitter/internal/ports"
)

// prepare makes sure the graph directory, the engine jar and the input data
// exist before the build phase launches. Stages recorded in the progress file
// are skipped on re-runs.
func (m *Manager) prepare(ctx context.Context) error {
	spec := &m.cfg.Engine
	if err := os.MkdirAll(spec.GraphDir, 0o750); err != nil {
		return m.fail(StateFailed, ReasonFetchError, err.Error())
	}
	m.prog = loadProgress(spec.GraphDir)

	if _, err := os.Stat(spec.JarPath); err != nil {
		if !spec.AutoDownloadJar {
			return m.fail(StateFailed, ReasonLaunchError, fmt.Sprintf("engine jar %s not found", spec.JarPath))
		}
		slog.Info("downloading engine jar", "url", spec.JarURL, "path", spec.JarPath)
		if err := m.cfg.Fetcher.SaveFile(ctx, spec.JarURL, spec.JarPath); err != nil {
			return m.fail(StateFailed, ReasonFetchError, err.Error())
		}
	}

	if m.cfg.SkipFetch {
		return nil
	}
	if err := m.cfg.BBox.Validate(); err != nil {
		return m.fail(StateFailed, ReasonFetchError, err.Error())
	}
	if m.prog.OSMDownloadedAt == nil {
		if _, err := m.cfg.Fetcher.OSM(ctx, spec.GraphDir, m.cfg.BBox); err != nil {
			return m.fail(StateFailed, ReasonFetchError, err.Error())
		}
		m.prog.OSMDownloadedAt = now()
		_ = m.prog.save(spec.GraphDir)
	} else {
		slog.Info("OSM extract already downloaded", "at", m.prog.OSMDownloadedAt)
	}
	if m.prog.GTFSDownloadedAt == nil {
		if _, err := m.cfg.Fetcher.GTFS(ctx, spec.GraphDir, m.cfg.BBox); err != nil {
			if m.cfg.RequireGTFS {
				return m.fail(StateFailed, ReasonFetchError, err.Error())
			}
			slog.Warn("no transit feeds fetched; continuing with street data only", "error", err)
		} else {
			m.prog.GTFSDownloadedAt = now()
			_ = m.prog.save(spec.GraphDir)
		}
	} else {
		slog.Info("transit feeds already downloaded", "at", m.prog.GTFSDownloadedAt)
	}
	return nil
}

// runBuild drives the graph-build phase to GraphReady or a failure state.
func (m *Manager) runBuild(ctx context.Context) error {
	if m.prog != nil && m.prog.GraphBuiltAt != nil {
		slog.Info("graph already built; skipping build phase", "at", m.prog.GraphBuiltAt)
		return m.transition(StateGraphReady, ReasonNone, "")
	}
	if err := m.transition(StateBuilding, ReasonNone, ""); err != nil {
		return err
	}

	proc, err := engine.Launch(&m.cfg.Engine, engine.PhaseBuild, 0, 0)
	if err != nil {
		return m.fail(StateFailed, ReasonLaunchError, err.Error())
	}
	metrics.IncLaunch(string(engine.PhaseBuild))
	m.installKillHook()
	mon := monitor.New(m.cfg.BuildMarkers)
	go mon.Run(proc.Output())
	m.setCurrent(proc, mon, engine.PhaseBuild)

	started := time.Now()
	m.recordPhase(history.EventStart, history.Record{
		Phase: string(engine.PhaseBuild), PID: proc.PID(), StartedAt: started,
	})

	err = m.superviseBuild(ctx, proc, mon)
	m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseBuild, proc, started))
	if err != nil {
		return err
	}

	metrics.ObserveBuildDuration(time.Since(started).Seconds())
	m.prog.GraphBuiltAt = now()
	_ = m.prog.save(m.cfg.Engine.GraphDir)
	return m.transition(StateGraphReady, ReasonNone, "")
}

// superviseBuild consumes monitor events and the freeze ticker until the
// build reaches an outcome. A success or error signal queued ahead of a
// freeze tick always wins over the timeout.
func (m *Manager) superviseBuild(ctx context.Context, proc *engine.Process, mon *monitor.Monitor) error {
	idle := m.cfg.BuildIdleTimeout
	tick := time.NewTicker(checkInterval(idle))
	defer tick.Stop()

	events := mon.Events()
	done := proc.Done()
	var complete, exited, frozen bool
	var engineDetail string
	var lingerDeadline <-chan time.Time

	handle := func(ev monitor.Event) {
		metrics.IncOutputLine(string(engine.PhaseBuild), ev.Kind.String())
		switch ev.Kind {
		case monitor.KindBuildComplete:
			complete = true
		case monitor.KindEngineError, monitor.KindBindFailure:
			if engineDetail == "" {
				engineDetail = ev.Line
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = proc.Stop(m.cfg.StopGrace)
			drainAll(events, handle)
			m.tryTransition(StateStopped, ReasonStopRequested, ctx.Err().Error())
			return &StateError{State: StateStopped, Reason: ReasonStopRequested}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			handle(ev)
		case <-done:
			done = nil
			drainAll(events, handle)
			events = nil
			exited = true
		case <-lingerDeadline:
			// The engine normally exits shortly after writing the graph;
			// nudge it when it lingers.
			lingerDeadline = nil
			_ = proc.Stop(m.cfg.StopGrace)
		case <-tick.C:
			drainPending(events, handle)
			if !complete && engineDetail == "" && time.Since(mon.LastActivity()) > idle {
				frozen = true
			}
		}

		switch {
		case engineDetail != "":
			_ = proc.Stop(m.cfg.StopGrace)
			drainAll(events, handle)
			return m.fail(StateBuildFailed, ReasonEngineError, engineDetail)
		case exited:
			st := proc.Snapshot()
			if complete {
				return nil
			}
			return m.fail(StateBuildFailed, ReasonUnexpectedExit,
				fmt.Sprintf("build exited with code %d before completing the graph", st.ExitCode))
		case frozen:
			metrics.IncFreezeTimeout(string(engine.PhaseBuild))
			slog.Warn("killing engine; no output within idle threshold", "phase", engine.PhaseBuild, "threshold", idle)
			proc.Kill()
			drainAll(events, handle)
			if complete {
				// final success signal crossed the kill decision
				return nil
			}
			return m.fail(StateBuildFailed, ReasonFreezeTimeout,
				fmt.Sprintf("no output for %s during build", idle))
		case complete && lingerDeadline == nil && proc.Alive():
			lingerDeadline = time.After(m.cfg.StopGrace)
		}
	}
}

// runServe allocates ports and drives the serve phase to Running, retrying
// with a fresh dynamic port when the engine loses the bind race.
func (m *Manager) runServe(ctx context.Context) error {
	for attempt := 1; attempt <= m.cfg.ServeRetries; attempt++ {
		httpPort, securePort, err := ports.Pair(m.cfg.FixedPort)
		if err != nil {
			return m.fail(StateFailed, ReasonPortUnavailable, err.Error())
		}
		if err := m.transition(StateStarting, ReasonNone, ""); err != nil {
			return err
		}
		retry, err := m.superviseStart(ctx, httpPort, securePort)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		slog.Warn("engine lost the port bind race; reallocating", "attempt", attempt, "port", httpPort)
	}
	return m.fail(StateFailed, ReasonPortUnavailable,
		fmt.Sprintf("engine failed to bind a port in %d attempts", m.cfg.ServeRetries))
}

// superviseStart watches one serve-phase launch until ready or failure.
// retry is true only for a dynamic-port bind failure, which the caller may
// re-attempt; all other outcomes have already transitioned the machine.
func (m *Manager) superviseStart(ctx context.Context, httpPort, securePort int) (retry bool, err error) {
	proc, lerr := engine.Launch(&m.cfg.Engine, engine.PhaseServe, httpPort, securePort)
	if lerr != nil {
		return false, m.fail(StateFailed, ReasonLaunchError, lerr.Error())
	}
	metrics.IncLaunch(string(engine.PhaseServe))
	m.installKillHook()
	mon := monitor.New(m.cfg.ServeMarkers)
	go mon.Run(proc.Output())
	m.setCurrent(proc, mon, engine.PhaseServe)

	started := time.Now()
	m.recordPhase(history.EventStart, history.Record{
		Phase: string(engine.PhaseServe), PID: proc.PID(), Port: httpPort, StartedAt: started,
	})

	idle := m.cfg.StartIdleTimeout
	tick := time.NewTicker(checkInterval(idle))
	defer tick.Stop()

	events := mon.Events()
	done := proc.Done()
	var ready, bindFailed, exited, frozen bool
	var readyPort int
	var engineDetail string

	handle := func(ev monitor.Event) {
		metrics.IncOutputLine(string(engine.PhaseServe), ev.Kind.String())
		switch ev.Kind {
		case monitor.KindServeReady:
			ready = true
			readyPort = ev.Port
		case monitor.KindBindFailure:
			bindFailed = true
		case monitor.KindEngineError:
			if engineDetail == "" {
				engineDetail = ev.Line
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = proc.Stop(m.cfg.StopGrace)
			drainAll(events, handle)
			m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
			m.tryTransition(StateStopped, ReasonStopRequested, ctx.Err().Error())
			return false, &StateError{State: StateStopped, Reason: ReasonStopRequested}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			handle(ev)
		case <-done:
			done = nil
			drainAll(events, handle)
			events = nil
			exited = true
		case <-tick.C:
			drainPending(events, handle)
			if !ready && !bindFailed && engineDetail == "" && time.Since(mon.LastActivity()) > idle {
				frozen = true
			}
		}

		switch {
		case engineDetail != "":
			_ = proc.Stop(m.cfg.StopGrace)
			drainAll(events, handle)
			m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
			return false, m.fail(StateFailed, ReasonEngineError, engineDetail)
		case bindFailed:
			_ = proc.Stop(m.cfg.StopGrace)
			drainAll(events, handle)
			m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
			if m.cfg.FixedPort != 0 {
				return false, m.fail(StateFailed, ReasonPortUnavailable,
					fmt.Sprintf("fixed port %d already in use", m.cfg.FixedPort))
			}
			return true, fmt.Errorf("port %d bind race", httpPort)
		case exited:
			st := proc.Snapshot()
			m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
			return false, m.fail(StateFailed, ReasonUnexpectedExit,
				fmt.Sprintf("serve exited with code %d during startup", st.ExitCode))
		case frozen:
			metrics.IncFreezeTimeout(string(engine.PhaseServe))
			slog.Warn("killing engine; no output within idle threshold", "phase", engine.PhaseServe, "threshold", idle)
			proc.Kill()
			drainAll(events, handle)
			m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
			return false, m.fail(StateFailed, ReasonFreezeTimeout,
				fmt.Sprintf("no output for %s during serve startup", idle))
		case ready:
			port := httpPort
			if readyPort != 0 && readyPort != httpPort {
				slog.Warn("engine reported a different port than allocated",
					"allocated", httpPort, "reported", readyPort)
				port = readyPort
			}
			m.mu.Lock()
			m.port = port
			m.mu.Unlock()
			if terr := m.transition(StateRunning, ReasonNone, ""); terr != nil {
				// Stop() won the race against the ready signal; the
				// machine already left Starting.
				_ = proc.Stop(m.cfg.StopGrace)
				drainAll(events, handle)
				m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
				return false, m.fail(StateStopped, ReasonStopRequested, terr.Error())
			}
			slog.Info("engine serving", "port", port, "pid", proc.PID())
			go m.watchServe(proc, mon, started)
			return false, nil
		}
	}
}

// watchServe is the long-lived watcher for a Running engine: it consumes the
// remaining output, polls liveness, and applies the configured serve-phase
// freeze policy. A healthy-but-quiet server is not frozen unless the
// operator opted into silence-based freezing.
func (m *Manager) watchServe(proc *engine.Process, mon *monitor.Monitor, started time.Time) {
	interval := DefaultAliveInterval
	if m.cfg.ServeIdleTimeout > 0 {
		if iv := checkInterval(m.cfg.ServeIdleTimeout); iv < interval {
			interval = iv
		}
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	events := mon.Events()
	done := proc.Done()
	var probeFails int

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			metrics.IncOutputLine(string(engine.PhaseServe), ev.Kind.String())
			if ev.Kind == monitor.KindEngineError && !m.stopRequested() {
				slog.Error("engine reported fatal condition while serving", "line", ev.Line)
				_ = proc.Stop(m.cfg.StopGrace)
				drainAll(events, nil)
				m.tryTransition(StateFailed, ReasonEngineError, ev.Line)
				m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
				return
			}
		case <-done:
			drainAll(events, nil)
			m.recordPhase(history.EventEnd, m.endRecord(engine.PhaseServe, proc, started))
			if !m.stopRequested() {
				st := proc.Snapshot()
				m.tryTransition(StateFailed, ReasonUnexpectedExit,
					fmt.Sprintf("serve exited with code %d", st.ExitCode))
			}
			return
		case <-tick.C:
			if m.cfg.ServeIdleTimeout > 0 && m.State() == StateRunning &&
				time.Since(mon.LastActivity()) > m.cfg.ServeIdleTimeout {
				slog.Warn("engine silent beyond idle threshold; marking frozen",
					"threshold", m.cfg.ServeIdleTimeout)
				m.tryTransition(StateFrozen, ReasonFreezeTimeout, "no output while serving")
			}
			if m.cfg.HealthPath != "" && m.State() == StateRunning {
				probe := detector.HTTPDetector{
					URL: fmt.Sprintf("http://127.0.0.1:%d%s", m.Port(), m.cfg.HealthPath),
				}
				if ok, _ := probe.Alive(); ok {
					probeFails = 0
				} else if probeFails++; probeFails >= 3 {
					slog.Warn("engine health probe failing; marking frozen", "probe", probe.Describe())
					m.tryTransition(StateFrozen, ReasonFreezeTimeout, "health probe unresponsive")
				}
			}
		}
	}
}

// endRecord snapshots the terminal facts of a phase run for the history sink.
func (m *Manager) endRecord(phase engine.Phase, proc *engine.Process, started time.Time) history.Record {
	st := m.Status()
	return history.Record{
		Phase:     string(phase),
		PID:       proc.PID(),
		Port:      st.Port,
		Outcome:   string(st.State),
		Reason:    string(st.Reason),
		StartedAt: started,
		EndedAt:   time.Now(),
		LastLine:  st.LastLine,
	}
}

// drainPending handles queued monitor events without blocking, so a signal
// that raced a freeze tick is processed before the timeout acts.
func drainPending(events <-chan monitor.Event, handle func(monitor.Event)) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			handle(ev)
		default:
			return
		}
	}
}

// drainAll consumes events until the monitor closes the channel on stream
// EOF. Must only be called once the process is exiting, or it would block.
func drainAll(events <-chan monitor.Event, handle func(monitor.Event)) {
	if events == nil {
		return
	}
	for ev := range events {
		if handle != nil {
			handle(ev)
		}
	}
}
