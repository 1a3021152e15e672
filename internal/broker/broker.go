// Package broker manages the pub/sub connection zika listens and announces on.
//
// Topics are configured MQTT style (zika/command) and published on NATS
// subjects (zika.command), the same mapping the NATS MQTT gateway applies,
// so Home Assistant and other MQTT clients reach zika through a NATS server
// with MQTT enabled.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/metrics"
)

// ErrNotConnected is returned by Publish and Subscribe before Connect.
var ErrNotConnected = errors.New("broker: not connected")

const flushTimeout = 2 * time.Second

// Subject converts an MQTT-style topic to a NATS subject: level separators
// become dots and the + and # wildcards become * and >.
func Subject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		switch l {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

// EventCounter receives broker lifecycle events; *metrics.Metrics implements it.
type EventCounter interface {
	BrokerEvent(event string)
}

// Options configures a Client.
type Options struct {
	URL            string
	User           string
	Password       string
	ClientID       string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
}

// Client wraps a NATS connection and reports connectivity transitions.
type Client struct {
	opts    Options
	counter EventCounter
	logger  *slog.Logger

	conn *nats.Conn

	mu           sync.Mutex
	connected    bool
	onConnect    []func()
	onDisconnect []func()
}

// New creates a Client. counter may be nil.
func New(opts Options, counter EventCounter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = log.WithComponent("broker")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 4 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = time.Second
	}
	return &Client{opts: opts, counter: counter, logger: logger}
}

// OnConnect registers fn to run on every transition to connected
// (initial connect and each reconnect). Register before Connect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnDisconnect registers fn to run on every transition to disconnected.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Connect dials the server. An unreachable server is not an error: the
// client keeps retrying in the background and OnConnect fires once it
// gets through.
func (c *Client) Connect() error {
	opts := []nats.Option{
		nats.Timeout(c.opts.ConnectTimeout),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(conn *nats.Conn) {
			c.event(metrics.EventConnect, "connected to broker", "server", conn.ConnectedUrlRedacted())
			c.setConnected(true)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.event(metrics.EventReconnect, "reconnected to broker", "server", conn.ConnectedUrlRedacted())
			c.setConnected(true)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.event(metrics.EventDisconnect, "disconnected from broker", "error", err)
			} else {
				c.event(metrics.EventDisconnect, "disconnected from broker")
			}
			c.setConnected(false)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.event(metrics.EventClose, "broker connection closed")
			c.setConnected(false)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.count(metrics.EventError)
			c.logger.Error("broker error", "subject", subject, "error", err)
		}),
	}
	if c.opts.ClientID != "" {
		opts = append(opts, nats.Name(c.opts.ClientID))
	}
	if c.opts.User != "" {
		opts = append(opts, nats.UserInfo(c.opts.User, c.opts.Password))
	}

	c.logger.Info("connecting to broker", "url", c.opts.URL, "client_id", c.opts.ClientID)
	conn, err := nats.Connect(c.opts.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// The connect callback is not guaranteed for an immediately successful dial.
	if conn.IsConnected() {
		c.setConnected(true)
	}
	return nil
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Server returns the connected server URL, or the configured one.
func (c *Client) Server() string {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		if u := conn.ConnectedUrlRedacted(); u != "" {
			return u
		}
	}
	return c.opts.URL
}

// Publish sends payload on the subject for topic.
func (c *Client) Publish(topic string, payload []byte) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Publish(Subject(topic), payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers every message on topic to handler. Subscriptions are
// restored by the client after a reconnect.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	_, err := conn.Subscribe(Subject(topic), func(msg *nats.Msg) {
		c.count(metrics.EventMessage)
		c.logger.Debug("message received", "subject", msg.Subject, "bytes", len(msg.Data))
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info("subscribed", "topic", topic, "subject", Subject(topic))
	return nil
}

// Close flushes pending publishes and closes the connection.
func (c *Client) Close() {
	conn := c.connection()
	if conn == nil {
		return
	}
	if conn.IsConnected() {
		if err := conn.FlushTimeout(flushTimeout); err != nil {
			c.logger.Warn("failed to flush broker connection", "error", err)
		}
	}
	conn.Close()
}

func (c *Client) connection() *nats.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// setConnected records the new state and runs hooks only on a change.
func (c *Client) setConnected(up bool) {
	c.mu.Lock()
	if c.connected == up {
		c.mu.Unlock()
		return
	}
	c.connected = up
	hooks := c.onDisconnect
	if up {
		hooks = c.onConnect
	}
	hooks = append([]func(){}, hooks...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) event(event, msg string, args ...any) {
	c.count(event)
	if event == metrics.EventDisconnect || event == metrics.EventClose {
		c.logger.Warn(msg, args...)
		return
	}
	c.logger.Info(msg, args...)
}

func (c *Client) count(event string) {
	if c.counter != nil {
		c.counter.BrokerEvent(event)
	}
}
