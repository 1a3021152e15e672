package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/queue"
)

// terminationWait bounds how long Shutdown waits for a cancelled action to report back.
const terminationWait = 10 * time.Second

// Dispatcher serializes actions onto a single Executor.
type Dispatcher struct {
	exec     Executor
	observer Observer
	logger   *slog.Logger

	execCtx    context.Context
	cancelExec context.CancelFunc

	mu         sync.Mutex
	queue      *queue.Queue
	busy       bool
	current    *queue.Request
	closed     bool
	idle       chan struct{} // closed while nothing is running or pending
	idleClosed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for per-action records.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithObserver installs an observer (use Observers to fan out).
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithQueue replaces the default unbounded queue.
func WithQueue(q *queue.Queue) Option {
	return func(d *Dispatcher) { d.queue = q }
}

// State is a point-in-time view of the dispatcher.
type State struct {
	Busy     bool            `json:"busy"`
	Depth    int             `json:"queue_depth"`
	Pending  []queue.Request `json:"pending,omitempty"`
	Current  *queue.Request  `json:"current,omitempty"`
	Executor string          `json:"executor"`
}

// New creates a Dispatcher around exec.
func New(exec Executor, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	d := &Dispatcher{
		exec:       exec,
		observer:   NopObserver{},
		logger:     log.WithComponent("dispatch"),
		execCtx:    ctx,
		cancelExec: cancel,
		queue:      queue.New(),
		idle:       idle,
		idleClosed: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue appends an action and attempts to start draining. It never blocks
// on execution. accepted is false when a bounded queue rejected req or the
// dispatcher has been shut down.
func (d *Dispatcher) Enqueue(alias, command string) (req queue.Request, accepted bool) {
	req = queue.NewRequest(alias, command)

	d.mu.Lock()
	if d.closed {
		depth := d.queue.Len()
		d.logger.Warn("dispatcher shut down, dropping action",
			"action_id", req.ID, "alias", req.Alias, "command", req.Command)
		d.observer.ActionDropped(req, depth)
		d.mu.Unlock()
		return req, false
	}
	dropped := d.queue.Enqueue(req)
	depth := d.queue.Len()
	accepted = dropped == nil || dropped.ID != req.ID
	if dropped != nil {
		d.logger.Warn("queue full, dropping action",
			"action_id", dropped.ID, "alias", dropped.Alias, "command", dropped.Command, "depth", depth)
		d.observer.ActionDropped(*dropped, depth)
	}
	if accepted {
		d.setIdle(false)
		d.observer.ActionQueued(req, depth)
	}
	d.mu.Unlock()

	d.TryDrain()
	return req, accepted
}

// TryDrain starts the head of the queue if nothing is running. It is a
// no-op while busy and when the queue is empty.
func (d *Dispatcher) TryDrain() {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return
	}
	if d.closed {
		d.setIdle(true)
		d.mu.Unlock()
		return
	}
	req, ok := d.queue.Dequeue()
	if !ok {
		d.setIdle(true)
		d.mu.Unlock()
		return
	}
	d.busy = true
	d.current = &req
	d.setIdle(false)
	d.observer.ActionStarted(req, d.queue.Len())
	d.mu.Unlock()

	go d.run(req)
}

// run executes req and guarantees exactly one completion, whatever the executor does.
func (d *Dispatcher) run(req queue.Request) {
	started := time.Now()
	var res Result
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Outcome:  OutcomeInternalFailed,
				ExitCode: -1,
				Err:      fmt.Errorf("executor panic: %v", r),
			}
		}
		if res.Outcome == "" {
			res.Outcome = OutcomeInternalFailed
			res.Err = fmt.Errorf("executor %s returned no outcome", d.exec.Name())
		}
		if res.StartedAt.IsZero() {
			res.StartedAt = started
		}
		if res.Duration == 0 {
			res.Duration = time.Since(started)
		}
		d.complete(req, res)
	}()

	d.logger.Debug("executing action", "action_id", req.ID, "alias", req.Alias, "executor", d.exec.Name())
	res = d.exec.Execute(d.execCtx, req)
}

// complete reports the result, then releases busy and continues the chain.
// busy stays set while observers run so the next action cannot start (and
// be reported) before this one is reported finished.
func (d *Dispatcher) complete(req queue.Request, res Result) {
	d.logResult(req, res)
	d.observer.ActionCompleted(req, res)

	d.mu.Lock()
	d.busy = false
	d.current = nil
	d.mu.Unlock()

	d.TryDrain()
}

func (d *Dispatcher) logResult(req queue.Request, res Result) {
	l := d.logger.With(
		"action_id", req.ID,
		"alias", req.Alias,
		"command", req.Command,
		"outcome", string(res.Outcome),
		"duration_ms", res.Duration.Milliseconds(),
	)
	if res.Stdout != "" {
		l = l.With("stdout", res.Stdout)
	}
	if res.Stderr != "" {
		l = l.With("stderr", res.Stderr)
	}

	switch res.Outcome {
	case OutcomeSucceeded:
		l.Info("action completed")
	case OutcomeExecutionFailed:
		l.Error("action failed", "exit_code", res.ExitCode, "timed_out", res.TimedOut, "error", res.ErrString())
	default:
		l.Error("action not executed", "error", res.ErrString())
	}
}

// setIdle opens or closes the idle channel. Caller holds mu.
func (d *Dispatcher) setIdle(idle bool) {
	if idle && !d.idleClosed {
		close(d.idle)
		d.idleClosed = true
	} else if !idle && d.idleClosed {
		d.idle = make(chan struct{})
		d.idleClosed = false
	}
}

// Wait blocks until nothing is running or pending, or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	ch := d.idle
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current dispatcher state.
func (d *Dispatcher) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := State{Busy: d.busy, Depth: d.queue.Len(), Pending: d.queue.Pending(), Executor: d.exec.Name()}
	if d.current != nil {
		cur := *d.current
		s.Current = &cur
	}
	return s
}

// Shutdown lets the queue drain until ctx is done, then stops starting new
// actions, cancels the in-flight one and waits for it to report back.
// Requests still pending are discarded. The returned error is ctx's error
// if the queue did not drain in time.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	waitErr := d.Wait(ctx)

	d.mu.Lock()
	d.closed = true
	discarded := d.queue.Len()
	for d.queue.Len() > 0 {
		d.queue.Dequeue()
	}
	inFlight := d.busy
	if !inFlight {
		d.setIdle(true)
	}
	ch := d.idle
	d.mu.Unlock()

	if discarded > 0 {
		d.logger.Warn("discarding pending actions on shutdown", "count", discarded)
	}
	d.cancelExec()

	if inFlight {
		select {
		case <-ch:
		case <-time.After(terminationWait):
			d.logger.Error("in-flight action did not finish after cancellation")
		}
	}
	return waitErr
}
