// Package availability publishes the gateway's online/offline heartbeat.
package availability

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/zika/internal/log"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/mattjoyce/zika/internal/availability Publisher

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	defaultInterval = 60 * time.Second
)

// Publisher sends a payload to a topic; *broker.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Status is the heartbeat body. Home Assistant reads it with
// value_template "{{ value_json.status }}".
type Status struct {
	Status string `json:"status"`
}

// Payload renders a status message, indented with two spaces.
func Payload(status string) []byte {
	b, _ := json.MarshalIndent(Status{Status: status}, "", "  ")
	return b
}

// Heartbeat republishes "online" every interval while started.
type Heartbeat struct {
	pub      Publisher
	topic    string
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewHeartbeat creates a Heartbeat for topic. interval <= 0 means 60s.
func NewHeartbeat(pub Publisher, topic string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = log.WithComponent("availability")
	}
	return &Heartbeat{pub: pub, topic: topic, interval: interval, logger: logger}
}

// Start publishes "online" now and keeps publishing until Stop. Calling
// Start while running is a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})

	h.publish(StatusOnline)
	go h.loop(h.stop, h.done)
}

// Stop ends the heartbeat without announcing anything. Used when the
// connection is lost.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Offline stops the heartbeat and announces "offline" (graceful shutdown).
func (h *Heartbeat) Offline() {
	h.Stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publish(StatusOffline)
}

func (h *Heartbeat) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.publish(StatusOnline)
		}
	}
}

func (h *Heartbeat) publish(status string) {
	if err := h.pub.Publish(h.topic, Payload(status)); err != nil {
		h.logger.Error("failed to publish availability", "status", status, "error", err)
		return
	}
	h.logger.Debug("published availability", "status", status, "topic", h.topic)
}
