package worker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/hilite/internal/log"
)

// reapTimeout bounds how long Stop waits for the OS to confirm the worker is gone.
const reapTimeout = 5 * time.Second

// ErrPermission means a liveness probe was refused by the OS, so the tracked
// pid may belong to an unrelated process.
var ErrPermission = errors.New("permission denied probing worker")

// Handle is one live worker process and the host ends of its standard streams.
type Handle struct {
	PID       int
	StartedAt time.Time

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	cmd        *exec.Cmd
	exited     chan struct{}
	waitErr    error
	errBuf     stderrBuffer
	stderrDone chan struct{}
}

// Stdin is the stream requests are written to.
func (h *Handle) Stdin() io.Writer { return h.stdin }

// Stdout is the stream responses are read from.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr returns whatever diagnostic output the worker has produced so far.
func (h *Handle) Stderr() string { return h.errBuf.String() }

// DrainStderr waits up to grace for the worker's error stream to reach end of
// file and returns the captured text.
func (h *Handle) DrainStderr(grace time.Duration) string {
	if grace > 0 {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-h.stderrDone:
		case <-t.C:
		}
	}
	return h.errBuf.String()
}

// Exited is closed once the worker has been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// ExitErr returns the wait status of a reaped worker, or nil while it runs.
func (h *Handle) ExitErr() error {
	select {
	case <-h.exited:
		return h.waitErr
	default:
		return nil
	}
}

// Probe checks whether p still exists without affecting it.
type Probe func(p *os.Process) error

func signalZero(p *os.Process) error {
	return p.Signal(syscall.Signal(0))
}

// Supervisor owns at most one worker process at a time.
type Supervisor struct {
	spec Spec

	resolveMu sync.Mutex
	command   *Command

	mu     sync.Mutex
	handle *Handle
	probe  Probe
	logger *slog.Logger
}

// NewSupervisor creates a Supervisor for workers launched from spec. Nothing
// is started until Start is called.
func NewSupervisor(spec Spec) *Supervisor {
	return &Supervisor{
		spec:   spec,
		probe:  signalZero,
		logger: log.WithComponent("worker"),
	}
}

// SetProbe replaces the liveness probe used by Alive. nil restores signal 0.
func (s *Supervisor) SetProbe(p Probe) {
	if p == nil {
		p = signalZero
	}
	s.mu.Lock()
	s.probe = p
	s.mu.Unlock()
}

// Command resolves the worker command line. A successful resolution is
// cached; a failed one is retried on the next call.
func (s *Supervisor) Command() (Command, error) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()
	if s.command != nil {
		return *s.command, nil
	}
	command, err := Resolve(s.spec)
	if err != nil {
		return Command{}, err
	}
	s.command = &command
	return command, nil
}

// Handle returns the current worker, or nil when none has been started.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// PID returns the tracked worker pid, or 0.
func (s *Supervisor) PID() int {
	if h := s.Handle(); h != nil {
		return h.PID
	}
	return 0
}

// Start launches a new worker, replacing (and stopping) any previous one.
func (s *Supervisor) Start() (*Handle, error) {
	if s.Handle() != nil {
		if err := s.Stop("replaced"); err != nil {
			s.logger.Warn("failed to stop previous worker", "error", err)
		}
	}

	command, err := s.Command()
	if err != nil {
		return nil, err
	}

	h, err := spawn(command)
	if err != nil {
		s.logger.Error("failed to start worker", "command", command.String(), "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	s.logger.Info("worker started", "pid", h.PID, "command", command.String())
	return h, nil
}

// Stop SIGKILLs the tracked worker and blocks until it has been reaped. A
// worker that is already gone is not an error. The handle is always cleared.
func (s *Supervisor) Stop(reason string) error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}

	err := h.kill()
	if err != nil {
		s.logger.Error("worker stop failed", "pid", h.PID, "reason", reason, "error", err)
		return err
	}
	s.logger.Info("worker stopped", "pid", h.PID, "reason", reason, "uptime", time.Since(h.StartedAt))
	return nil
}

// Alive probes the tracked worker (signal 0 by default). It never changes state and
// never blocks. A vanished process is reported as false; a refused probe is
// reported as an error wrapping ErrPermission.
func (s *Supervisor) Alive() (bool, error) {
	s.mu.Lock()
	h, probe := s.handle, s.probe
	s.mu.Unlock()
	if h == nil {
		return false, nil
	}

	select {
	case <-h.exited:
		return false, nil
	default:
	}

	err := probe(h.cmd.Process)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false, nil
	case errors.Is(err, syscall.EPERM):
		return false, fmt.Errorf("probe worker %d: %w: %w", h.PID, ErrPermission, err)
	default:
		return false, fmt.Errorf("probe worker %d: %w", h.PID, err)
	}
}

func spawn(command Command) (*Handle, error) {
	// The child gets plain pipe ends rather than exec-managed pipes so that
	// Wait (run by the reaper below) never closes the host ends under a reader.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Env = command.Env
	cmd.Dir = command.Dir
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = procAttr()

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("start process: %w", err)
	}
	closeAll(stdinR, stdoutW, stderrW)

	h := &Handle{
		PID:        cmd.Process.Pid,
		StartedAt:  time.Now(),
		stdin:      stdinW,
		stdout:     stdoutR,
		stderr:     stderrR,
		cmd:        cmd,
		exited:     make(chan struct{}),
		stderrDone: make(chan struct{}),
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.exited)
	}()
	go func() {
		_, _ = io.Copy(&h.errBuf, stderrR)
		close(h.stderrDone)
	}()

	return h, nil
}

func (h *Handle) kill() error {
	var err error
	if kerr := h.cmd.Process.Kill(); kerr != nil &&
		!errors.Is(kerr, os.ErrProcessDone) && !errors.Is(kerr, syscall.ESRCH) {
		err = fmt.Errorf("kill worker %d: %w", h.PID, kerr)
	}

	t := time.NewTimer(reapTimeout)
	defer t.Stop()
	select {
	case <-h.exited:
	case <-t.C:
		if err == nil {
			err = fmt.Errorf("worker %d not reaped after %v", h.PID, reapTimeout)
		}
	}

	closeAll(h.stdin, h.stdout, h.stderr)
	return err
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
