package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/zika/internal/trigger"
)

// handleLivez handles GET /livez (no auth).
func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.deps.State.Snapshot()

	resp := HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:      st.Depth,
		Busy:            st.Busy,
		Current:         st.Current,
		Pending:         st.Pending,
		CommandsLoaded:  s.deps.Registry.Len(),
		Executor:        st.Executor,
		BrokerConnected: s.deps.Readiness != nil && s.deps.Readiness.Connected(),
		EventClients:    s.deps.Events.Subscribers(),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleReadyz handles GET /readyz (no auth): 200 while the broker is
// connected, 503 otherwise. ?verbose adds a plain-text report.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	connected := s.deps.Readiness != nil && s.deps.Readiness.Connected()
	status := http.StatusOK
	if !connected {
		status = http.StatusServiceUnavailable
	}

	if !r.URL.Query().Has("verbose") {
		w.WriteHeader(status)
		return
	}

	server := ""
	if s.deps.Readiness != nil {
		server = s.deps.Readiness.Server()
	}
	check, detail := "ok", "broker connected"
	if !connected {
		check, detail = "failed", "broker not connected"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "[#] broker check: %s\n    using server %s\n    %s\n", check, server, detail)
}

// handleCommands handles GET /commands.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	out := make([]CommandInfo, 0, s.deps.Registry.Len())
	for _, a := range s.deps.Registry.All() {
		info := CommandInfo{Alias: a.Alias, Command: a.Command}
		if a.Button != nil {
			info.Name = a.Button.Name
			info.Icon = a.Button.Icon
		}
		out = append(out, info)
	}
	respondJSON(w, http.StatusOK, out)
}

// handleHistory handles GET /history?limit=N&alias=X.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.History.Recent(r.Context(), limit, r.URL.Query().Get("alias"))
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

// handleTrigger handles POST /trigger/{alias}. The body is ignored; the
// action string always comes from configuration.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	req, err := s.deps.Trigger.Trigger(alias)
	switch {
	case errors.Is(err, trigger.ErrUnknownAlias):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown command alias %q", alias))
		return
	case errors.Is(err, trigger.ErrQueueFull):
		s.writeError(w, http.StatusServiceUnavailable, "command queue full")
		return
	case err != nil:
		s.logger.Error("failed to trigger action", "alias", alias, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to trigger action")
		return
	}

	respondJSON(w, http.StatusAccepted, TriggerResponse{
		ID:         req.ID,
		Status:     "queued",
		Alias:      req.Alias,
		QueueDepth: s.deps.State.Snapshot().Depth,
	})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
