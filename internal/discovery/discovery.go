// Package discovery announces configured actions as Home Assistant buttons.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/zika/internal/availability"
	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/registry"
	"github.com/mattjoyce/zika/internal/trigger"
)

const valueTemplate = "{{ value_json.status }}"

// Device identifies the gateway in Home Assistant.
type Device struct {
	Name        string   `json:"name"`
	Identifiers []string `json:"identifiers"`
}

// Availability points Home Assistant at the heartbeat topic.
type Availability struct {
	Topic         string `json:"topic"`
	ValueTemplate string `json:"value_template"`
}

// Button is the discovery config for one action.
type Button struct {
	Name         string       `json:"name"`
	Icon         string       `json:"icon,omitempty"`
	CommandTopic string       `json:"command_topic"`
	PayloadPress string       `json:"payload_press"`
	UniqueID     string       `json:"unique_id"`
	Device       Device       `json:"device"`
	Availability Availability `json:"availability"`
}

// Options configures an Announcer.
type Options struct {
	DeviceIdentifier  string
	DiscoveryTopic    string
	CommandTopic      string
	AvailabilityTopic string
}

// Announcer publishes one discovery message per action with button metadata.
type Announcer struct {
	pub    availability.Publisher
	reg    *registry.Registry
	opts   Options
	logger *slog.Logger
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(pub availability.Publisher, reg *registry.Registry, opts Options, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = log.WithComponent("discovery")
	}
	return &Announcer{pub: pub, reg: reg, opts: opts, logger: logger}
}

// Topic returns the discovery topic for alias.
func (a *Announcer) Topic(alias string) string {
	return fmt.Sprintf("%s/button/%s/%s/config", a.opts.DiscoveryTopic, a.opts.DeviceIdentifier, registry.DiscoveryID(alias))
}

// Config builds the discovery payload for action.
func (a *Announcer) Config(action registry.Action) Button {
	press, _ := json.Marshal(trigger.Payload{Command: action.Alias})
	b := Button{
		CommandTopic: a.opts.CommandTopic,
		PayloadPress: string(press),
		UniqueID:     a.opts.DeviceIdentifier + "_" + registry.DiscoveryID(action.Alias),
		Device: Device{
			Name:        a.opts.DeviceIdentifier,
			Identifiers: []string{a.opts.DeviceIdentifier},
		},
		Availability: Availability{
			Topic:         a.opts.AvailabilityTopic,
			ValueTemplate: valueTemplate,
		},
	}
	if action.Button != nil {
		b.Name = action.Button.Name
		b.Icon = action.Button.Icon
	}
	return b
}

// Announce publishes every button. It is called on each connect because
// plain NATS subjects do not retain messages. Failures are collected and
// do not stop the remaining announcements.
func (a *Announcer) Announce() error {
	var errs []error
	count := 0
	for _, action := range a.reg.All() {
		if action.Button == nil {
			continue
		}
		payload, err := json.Marshal(a.Config(action))
		if err != nil {
			errs = append(errs, fmt.Errorf("encode discovery for %s: %w", action.Alias, err))
			continue
		}
		topic := a.Topic(action.Alias)
		if err := a.pub.Publish(topic, payload); err != nil {
			a.logger.Error("failed to publish discovery", "alias", action.Alias, "topic", topic, "error", err)
			errs = append(errs, fmt.Errorf("announce %s: %w", action.Alias, err))
			continue
		}
		count++
	}
	a.logger.Info("published discovery", "buttons", count)
	return errors.Join(errs...)
}
