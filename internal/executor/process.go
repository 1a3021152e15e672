package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/queue"
)

const (
	defaultShell = "/bin/sh"

	// defaultMaxOutputBytes caps captured stdout and stderr each.
	defaultMaxOutputBytes = 64 * 1024

	// defaultKillGrace is the time we wait after SIGTERM before sending SIGKILL.
	defaultKillGrace = 5 * time.Second

	// POSIX shells exit with these when the command cannot be found or run.
	exitNotFound      = 127
	exitNotExecutable = 126
)

// ProcessOptions configures a Process executor.
type ProcessOptions struct {
	Shell          string
	HostToolsPath  string
	Timeout        time.Duration // 0 = no timeout
	KillGrace      time.Duration
	MaxOutputBytes int
}

// Process runs each action as `<shell> -c <action>`.
type Process struct {
	opts   ProcessOptions
	logger *slog.Logger
}

// NewProcess creates a Process executor, filling zero options with defaults.
func NewProcess(opts ProcessOptions, logger *slog.Logger) *Process {
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{opts: opts, logger: logger}
}

func (p *Process) Name() string { return "process" }

// Execute runs req.Command and waits for it. Cancelling ctx terminates the
// process group the same way a timeout does.
func (p *Process) Execute(ctx context.Context, req queue.Request) dispatch.Result {
	logger := p.logger.With("action_id", req.ID, "alias", req.Alias)
	started := time.Now()
	res := dispatch.Result{StartedAt: started, ExitCode: -1}

	// Prepare command (not CommandContext: termination is managed here so it
	// reaches the whole process group).
	cmd := exec.Command(p.opts.Shell, "-c", req.Command)
	cmd.Env = p.environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = p.opts.KillGrace

	stdout := newCappedBuffer(p.opts.MaxOutputBytes)
	stderr := newCappedBuffer(p.opts.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("spawning action", "shell", p.opts.Shell, "timeout", p.opts.Timeout)

	if err := cmd.Start(); err != nil {
		res.Outcome = dispatch.OutcomeSpawnFailed
		res.Err = fmt.Errorf("start process: %w", err)
		res.Duration = time.Since(started)
		return res
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if p.opts.Timeout > 0 {
		timer := time.NewTimer(p.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var err error
	select {
	case err = <-waitErr:
	case <-timeout:
		logger.Warn("action timed out, sending SIGTERM", "timeout", p.opts.Timeout)
		p.terminate(cmd.Process.Pid, waitErr, logger)
		res.TimedOut = true
		res.Outcome = dispatch.OutcomeExecutionFailed
		res.Err = fmt.Errorf("timed out after %s", p.opts.Timeout)
	case <-ctx.Done():
		logger.Warn("action cancelled, sending SIGTERM")
		p.terminate(cmd.Process.Pid, waitErr, logger)
		res.Outcome = dispatch.OutcomeExecutionFailed
		res.Err = fmt.Errorf("action cancelled: %w", ctx.Err())
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(started)
	if res.Outcome != "" {
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		return res
	}

	if err == nil {
		res.Outcome = dispatch.OutcomeSucceeded
		res.ExitCode = 0
		return res
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		res.Outcome = dispatch.OutcomeExecutionFailed
		res.Err = fmt.Errorf("wait for process: %w", err)
		return res
	}

	res.ExitCode = exitErr.ExitCode()
	switch res.ExitCode {
	case exitNotFound, exitNotExecutable:
		res.Outcome = dispatch.OutcomeSpawnFailed
		res.Err = fmt.Errorf("command could not be run (exit %d)", res.ExitCode)
	default:
		res.Outcome = dispatch.OutcomeExecutionFailed
		res.Err = exitErr
	}
	return res
}

// terminate sends SIGTERM to the process group, then SIGKILL once the grace
// period expires, and returns after the process has been reaped.
func (p *Process) terminate(pid int, waitErr <-chan error, logger *slog.Logger) {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(p.opts.KillGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("action exited after SIGTERM")
	case <-grace.C:
		logger.Warn("action did not exit after SIGTERM, sending SIGKILL")
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// environ returns the parent environment with the host tools directory
// prepended to PATH.
func (p *Process) environ() []string {
	env := os.Environ()
	if p.opts.HostToolsPath == "" {
		return env
	}

	out := make([]string, 0, len(env)+1)
	path := ""
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
			continue
		}
		out = append(out, kv)
	}
	if path == "" {
		path = p.opts.HostToolsPath
	} else {
		path = p.opts.HostToolsPath + string(os.PathListSeparator) + path
	}
	return append(out, "PATH="+path)
}

// cappedBuffer keeps the first max bytes written and silently discards the
// rest, so a chatty action never blocks on a full pipe.
type cappedBuffer struct {
	buf []byte
	max int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{max: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - len(c.buf); room > 0 {
		c.buf = append(c.buf, p[:min(len(p), room)]...)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return string(c.buf) }
