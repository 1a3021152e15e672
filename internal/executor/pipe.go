package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/queue"
)

var (
	// ErrNoReader means the FIFO exists but nothing on the host is reading it.
	ErrNoReader = errors.New("no reader on fifo")

	// ErrNotFIFO means the configured path exists but is not a named pipe.
	ErrNotFIFO = errors.New("not a named pipe")
)

// Pipe writes each action as one newline-terminated line to a named pipe
// read by a host-side runner. Success means the line was handed off; the
// runner's own result is not observed.
type Pipe struct {
	path    string
	timeout time.Duration // write deadline, 0 = none
	logger  *slog.Logger
}

// NewPipe creates a Pipe executor for the FIFO at path.
func NewPipe(path string, timeout time.Duration, logger *slog.Logger) *Pipe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipe{path: path, timeout: timeout, logger: logger}
}

func (p *Pipe) Name() string { return "pipe" }

// Execute opens the FIFO, writes req.Command plus a newline and closes it.
// Every failure is a transport failure.
func (p *Pipe) Execute(ctx context.Context, req queue.Request) dispatch.Result {
	started := time.Now()
	res := dispatch.Result{StartedAt: started, ExitCode: -1}
	fail := func(err error) dispatch.Result {
		res.Outcome = dispatch.OutcomeTransportFailed
		res.Err = err
		res.Duration = time.Since(started)
		return res
	}

	f, err := p.open()
	if err != nil {
		return fail(err)
	}

	if p.timeout > 0 {
		if err := f.SetWriteDeadline(started.Add(p.timeout)); err != nil {
			p.logger.Debug("fifo does not support deadlines", "error", err)
		}
	}
	// Unblock a write stalled on a full pipe when the dispatcher shuts down.
	stop := context.AfterFunc(ctx, func() {
		_ = f.SetWriteDeadline(time.Now())
	})
	defer stop()

	p.logger.Debug("writing action to fifo", "action_id", req.ID, "alias", req.Alias, "path", p.path)

	if _, err := f.WriteString(req.Command + "\n"); err != nil {
		_ = f.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(fmt.Errorf("write %s: %w", p.path, ctxErr))
		}
		return fail(fmt.Errorf("write %s: %w", p.path, err))
	}
	if err := f.Close(); err != nil {
		return fail(fmt.Errorf("close %s: %w", p.path, err))
	}

	res.Outcome = dispatch.OutcomeSucceeded
	res.ExitCode = 0
	res.Duration = time.Since(started)
	return res
}

// open opens the FIFO for writing without blocking. With no reader the
// kernel answers ENXIO, which is reported as ErrNoReader.
func (p *Pipe) open() (*os.File, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("fifo %s: %w", p.path, err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return nil, fmt.Errorf("fifo %s: %w", p.path, ErrNotFIFO)
	}

	fd, err := unix.Open(p.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return nil, fmt.Errorf("fifo %s: %w", p.path, ErrNoReader)
		}
		return nil, fmt.Errorf("open fifo %s: %w", p.path, err)
	}
	// A non-blocking descriptor is registered with the runtime poller, which
	// makes write deadlines effective.
	return os.NewFile(uintptr(fd), p.path), nil
}
