package events

import (
	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/queue"
)

// Event types published by zika.
const (
	TypeActionQueued    = "action.queued"
	TypeActionDropped   = "action.dropped"
	TypeActionStarted   = "action.started"
	TypeActionCompleted = "action.completed"

	TypeBrokerConnected    = "broker.connected"
	TypeBrokerDisconnected = "broker.disconnected"
	TypeCommandRejected    = "command.rejected"
)

// ActionData is the payload of the action.* events.
type ActionData struct {
	ID         string `json:"id"`
	Alias      string `json:"alias"`
	Command    string `json:"command,omitempty"`
	QueueDepth *int   `json:"queue_depth,omitempty"`

	Outcome    string `json:"outcome,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Observer publishes dispatcher lifecycle events to a Hub.
type Observer struct {
	hub *Hub
}

// NewObserver returns a dispatch.Observer backed by hub.
func NewObserver(hub *Hub) *Observer {
	return &Observer{hub: hub}
}

func (o *Observer) ActionQueued(req queue.Request, depth int) {
	o.hub.Publish(TypeActionQueued, ActionData{ID: req.ID, Alias: req.Alias, Command: req.Command, QueueDepth: &depth})
}

func (o *Observer) ActionDropped(req queue.Request, depth int) {
	o.hub.Publish(TypeActionDropped, ActionData{ID: req.ID, Alias: req.Alias, Command: req.Command, QueueDepth: &depth})
}

func (o *Observer) ActionStarted(req queue.Request, depth int) {
	o.hub.Publish(TypeActionStarted, ActionData{ID: req.ID, Alias: req.Alias, Command: req.Command, QueueDepth: &depth})
}

func (o *Observer) ActionCompleted(req queue.Request, res dispatch.Result) {
	exitCode := res.ExitCode
	o.hub.Publish(TypeActionCompleted, ActionData{
		ID:         req.ID,
		Alias:      req.Alias,
		Outcome:    string(res.Outcome),
		ExitCode:   &exitCode,
		TimedOut:   res.TimedOut,
		DurationMS: res.Duration.Milliseconds(),
		Error:      res.ErrString(),
	})
}

var _ dispatch.Observer = (*Observer)(nil)
