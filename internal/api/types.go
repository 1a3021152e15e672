package api

import (
	"github.com/mattjoyce/zika/internal/history"
	"github.com/mattjoyce/zika/internal/queue"
)

// TriggerResponse is returned when POST /trigger/{alias} enqueues an action.
type TriggerResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Alias      string `json:"alias"`
	QueueDepth int    `json:"queue_depth"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string          `json:"status"`
	UptimeSeconds   int64           `json:"uptime_seconds"`
	QueueDepth      int             `json:"queue_depth"`
	Busy            bool            `json:"busy"`
	Current         *queue.Request  `json:"current,omitempty"`
	Pending         []queue.Request `json:"pending,omitempty"`
	CommandsLoaded  int             `json:"commands_loaded"`
	Executor        string          `json:"executor"`
	BrokerConnected bool            `json:"broker_connected"`
	EventClients    int             `json:"event_clients"`
}

// CommandInfo describes one configured alias in GET /commands.
type CommandInfo struct {
	Alias   string `json:"alias"`
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}
