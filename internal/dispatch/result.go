package dispatch

import (
	"context"
	"time"

	"github.com/mattjoyce/zika/internal/queue"
)

// Outcome classifies how an action ended.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeExecutionFailed Outcome = "execution_failed"
	OutcomeSpawnFailed     Outcome = "spawn_failed"
	OutcomeTransportFailed Outcome = "transport_failed"
	OutcomeInternalFailed  Outcome = "internal_failed"
)

// Outcomes lists every outcome, for pre-registering metric labels.
var Outcomes = []Outcome{
	OutcomeSucceeded,
	OutcomeExecutionFailed,
	OutcomeSpawnFailed,
	OutcomeTransportFailed,
	OutcomeInternalFailed,
}

// Result is produced once per executed request. It is consumed by observers
// only and never feeds back into dispatch decisions.
type Result struct {
	Outcome  Outcome
	ExitCode int // -1 when the process never ran or was killed by a signal
	Stdout   string
	Stderr   string
	Err      error
	TimedOut bool

	StartedAt time.Time
	Duration  time.Duration
}

// ErrString returns the error text, or "" when there is none.
func (r Result) ErrString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Executor performs one action. Execute must return (not block forever on
// its own account) once ctx is cancelled.
type Executor interface {
	Name() string
	Execute(ctx context.Context, req queue.Request) Result
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req queue.Request) Result

func (f ExecutorFunc) Name() string { return "func" }

func (f ExecutorFunc) Execute(ctx context.Context, req queue.Request) Result {
	return f(ctx, req)
}
