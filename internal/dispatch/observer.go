package dispatch

import "github.com/mattjoyce/zika/internal/queue"

// Observer receives dispatch lifecycle notifications.
//
// ActionQueued, ActionDropped and ActionStarted run with the dispatcher lock
// held, in queue order; they must be quick and must not call back into the
// Dispatcher. ActionCompleted runs outside the lock.
type Observer interface {
	ActionQueued(req queue.Request, depth int)
	ActionDropped(req queue.Request, depth int)
	ActionStarted(req queue.Request, depth int)
	ActionCompleted(req queue.Request, res Result)
}

// NopObserver implements Observer with no-ops; embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ActionQueued(queue.Request, int)       {}
func (NopObserver) ActionDropped(queue.Request, int)      {}
func (NopObserver) ActionStarted(queue.Request, int)      {}
func (NopObserver) ActionCompleted(queue.Request, Result) {}

// Observers fans notifications out in order.
type Observers []Observer

func (o Observers) ActionQueued(req queue.Request, depth int) {
	for _, ob := range o {
		ob.ActionQueued(req, depth)
	}
}

func (o Observers) ActionDropped(req queue.Request, depth int) {
	for _, ob := range o {
		ob.ActionDropped(req, depth)
	}
}

func (o Observers) ActionStarted(req queue.Request, depth int) {
	for _, ob := range o {
		ob.ActionStarted(req, depth)
	}
}

func (o Observers) ActionCompleted(req queue.Request, res Result) {
	for _, ob := range o {
		ob.ActionCompleted(req, res)
	}
}
