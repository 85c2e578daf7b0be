package manager

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// installKillHook registers a best-effort cleanup hook at first launch so an
// abandoned engine subprocess is not orphaned when the host program is
// terminated. The hook only kills the engine's process group; the host's own
// signal handling (graceful Stop in the CLI) is unaffected.
func (m *Manager) installKillHook() {
	if m.cfg.DisableKillHook {
		return
	}
	m.hookOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-ch
			signal.Stop(ch)
			m.mu.Lock()
			proc := m.proc
			m.mu.Unlock()
			if proc != nil && proc.Alive() {
				slog.Info("host terminating; killing engine process", "signal", sig, "pid", proc.PID())
				proc.Kill()
			}
		}()
	})
}
