// Package trigger turns command messages into dispatcher requests.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/zika/internal/events"
	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/queue"
	"github.com/mattjoyce/zika/internal/registry"
)

//go:generate mockgen -destination=mocks/mock_trigger.go -package=mocks github.com/mattjoyce/zika/internal/trigger Enqueuer,Subscriber

var (
	// ErrInvalidPayload means the message was not {"command": "<alias>"}.
	ErrInvalidPayload = errors.New("invalid command payload")

	// ErrUnknownAlias means the alias is not configured.
	ErrUnknownAlias = errors.New("unknown command alias")

	// ErrQueueFull means a bounded queue, or a dispatcher that is shutting
	// down, rejected the request.
	ErrQueueFull = errors.New("command queue full")
)

// Enqueuer accepts actions; *dispatch.Dispatcher implements it.
type Enqueuer interface {
	Enqueue(alias, command string) (queue.Request, bool)
}

// Subscriber delivers raw message payloads for a topic; *broker.Client implements it.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// PayloadErrorCounter counts rejected payloads; *metrics.Metrics implements it.
type PayloadErrorCounter interface {
	PayloadError()
}

// Payload is the command message body. Unknown fields are ignored.
type Payload struct {
	Command string `json:"command"`
}

// Adapter validates command messages and enqueues the configured action.
type Adapter struct {
	registry *registry.Registry
	enqueuer Enqueuer
	counter  PayloadErrorCounter
	hub      *events.Hub
	logger   *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPayloadErrorCounter counts payload errors.
func WithPayloadErrorCounter(c PayloadErrorCounter) Option {
	return func(a *Adapter) { a.counter = c }
}

// WithEvents publishes rejected commands to hub.
func WithEvents(hub *events.Hub) Option {
	return func(a *Adapter) { a.hub = hub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New creates an Adapter resolving aliases against reg.
func New(reg *registry.Registry, enq Enqueuer, opts ...Option) *Adapter {
	a := &Adapter{
		registry: reg,
		enqueuer: enq,
		logger:   log.WithComponent("trigger"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subscribe routes every message on topic through Handle.
func (a *Adapter) Subscribe(sub Subscriber, topic string) error {
	return sub.Subscribe(topic, func(payload []byte) {
		// Handle logs and counts its own failures.
		_, _ = a.Handle(payload)
	})
}

// Handle parses one command message and enqueues its action.
func (a *Adapter) Handle(payload []byte) (queue.Request, error) {
	alias, err := ParsePayload(payload)
	if err != nil {
		if a.counter != nil {
			a.counter.PayloadError()
		}
		a.logger.Error("invalid command payload", "error", err, "payload", truncate(string(payload), 256))
		a.reject("", err)
		return queue.Request{}, err
	}
	return a.Trigger(alias)
}

// Trigger enqueues the action configured for alias.
func (a *Adapter) Trigger(alias string) (queue.Request, error) {
	action, ok := a.registry.Lookup(alias)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
		a.logger.Warn("unknown command alias", "alias", alias)
		a.reject(alias, err)
		return queue.Request{}, err
	}

	a.logger.Info("command received", "alias", alias, "command", action.Command)
	req, accepted := a.enqueuer.Enqueue(action.Alias, action.Command)
	if !accepted {
		return req, fmt.Errorf("%w: %q dropped", ErrQueueFull, alias)
	}
	return req, nil
}

// ParsePayload extracts the alias from a command message.
func ParsePayload(payload []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	raw, ok := fields["command"]
	if !ok {
		return "", fmt.Errorf("%w: missing \"command\"", ErrInvalidPayload)
	}
	var alias string
	if err := json.Unmarshal(raw, &alias); err != nil {
		return "", fmt.Errorf("%w: \"command\" must be a string", ErrInvalidPayload)
	}
	if alias == "" {
		return "", fmt.Errorf("%w: \"command\" is empty", ErrInvalidPayload)
	}
	return alias, nil
}

func (a *Adapter) reject(alias string, err error) {
	if a.hub == nil {
		return
	}
	a.hub.Publish(events.TypeCommandRejected, map[string]string{
		"alias": alias,
		"error": err.Error(),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
