package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// LaunchError means the engine process could not be spawned at all: the jar
// is missing or the OS refused the exec.
type LaunchError struct {
	Phase Phase
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s phase: %v", e.Phase, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Status is a point-in-time snapshot of one engine process.
type Status struct {
	Phase     Phase     `json:"phase"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	ExitErr   error     `json:"-"`
}

// Process is the handle for one spawned engine invocation. It owns the OS
// process, the combined stdout+stderr pipe and the log writer. A Process is
// created per phase and never reused; the build and serve phases are separate
// invocations.
type Process struct {
	mu       sync.Mutex
	phase    Phase
	cmd      *exec.Cmd
	output   io.ReadCloser
	logClose io.Closer
	status   Status
	waitDone chan struct{} // closed by the wait goroutine when cmd.Wait returns
}

// Launch spawns the engine for the given phase. The returned Process exposes
// a live line-buffered read of the interleaved stdout/stderr via Output().
// Ports are ignored for the build phase.
func Launch(spec *Spec, phase Phase, httpPort, securePort int) (*Process, error) {
	if _, err := os.Stat(spec.JarPath); err != nil {
		return nil, &LaunchError{Phase: phase, Err: fmt.Errorf("engine jar %s: %w", spec.JarPath, err)}
	}

	cmd := spec.BuildCommand(phase, httpPort, securePort)
	cmd.SysProcAttr = sysProcAttr()

	pr, pw := io.Pipe()
	var logClose io.Closer
	if w := spec.Log.Writer(spec.Name, string(phase)); w != nil {
		cmd.Stdout = io.MultiWriter(pw, w)
		cmd.Stderr = cmd.Stdout
		logClose = w
	} else {
		cmd.Stdout = pw
		cmd.Stderr = pw
	}

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		if logClose != nil {
			_ = logClose.Close()
		}
		return nil, &LaunchError{Phase: phase, Err: err}
	}

	p := &Process{
		phase:    phase,
		cmd:      cmd,
		output:   pr,
		logClose: logClose,
		waitDone: make(chan struct{}),
		status: Status{
			Phase:     phase,
			PID:       cmd.Process.Pid,
			Running:   true,
			StartedAt: time.Now(),
		},
	}
	go p.wait(pw)
	return p, nil
}

// wait is the single reaper for the process. Closing the pipe writer after
// Wait returns delivers EOF to the output reader.
func (p *Process) wait(pw *io.PipeWriter) {
	err := p.cmd.Wait()
	_ = pw.Close()
	if p.logClose != nil {
		_ = p.logClose.Close()
	}

	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	p.status.ExitCode = exitCode(err)
	p.mu.Unlock()
	close(p.waitDone)
}

// Output returns the combined stdout+stderr stream. It yields EOF once the
// process has exited and been reaped.
func (p *Process) Output() io.ReadCloser { return p.output }

// Done is closed once the process has exited and its status is final.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// Snapshot returns a copy of the current status without blocking.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Exited reports, without blocking, whether the process has exited and with
// which code. The code is meaningless while the first return is false.
func (p *Process) Exited() (bool, int) {
	select {
	case <-p.waitDone:
		st := p.Snapshot()
		return true, st.ExitCode
	default:
		return false, 0
	}
}

// Alive reports whether the OS process is still running.
func (p *Process) Alive() bool {
	exited, _ := p.Exited()
	return !exited
}

// PID returns the OS process id.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

// Stop sends SIGTERM to the engine's process group, waits up to grace for it
// to exit, then escalates to SIGKILL. It is safe to call on an already-exited
// process and safe to call more than once.
func (p *Process) Stop(grace time.Duration) error {
	if exited, _ := p.Exited(); exited {
		return nil
	}
	terminateGroup(p.PID())
	select {
	case <-p.waitDone:
		return nil
	case <-time.After(grace):
	}
	killGroup(p.PID())
	select {
	case <-p.waitDone:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("engine process did not exit after SIGKILL")
	}
}

// Kill force-terminates the process group and waits briefly for the reaper.
func (p *Process) Kill() {
	if exited, _ := p.Exited(); exited {
		return
	}
	killGroup(p.PID())
	select {
	case <-p.waitDone:
	case <-time.After(2 * time.Second):
	}
}
