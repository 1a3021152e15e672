package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/zika/internal/events"
)

const keepAliveInterval = 15 * time.Second

// sseStream frames events onto a flushed text/event-stream response and
// remembers the last ID sent so replayed and live events never repeat.
type sseStream struct {
	w      http.ResponseWriter
	f      http.Flusher
	lastID int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	frame := fmt.Sprintf("id: %d\n", ev.ID)
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	// Payloads are single-line JSON, so one data line is enough.
	frame += "data: " + string(ev.Data) + "\n\n"
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.lastID = ev.ID
	s.f.Flush()
	return nil
}

func (s *sseStream) keepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEvents streams hub events as SSE. The subscription is taken before
// the ring buffer is replayed, so nothing published in between is lost.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	resume := r.Header.Get("Last-Event-ID")
	if resume == "" {
		resume = r.URL.Query().Get("last_event_id")
	}
	stream := &sseStream{w: w, f: flusher, lastID: parseLastEventID(resume)}

	live, unsubscribe := s.deps.Events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range s.deps.Events.SnapshotSince(stream.lastID) {
		if stream.send(ev) != nil {
			return
		}
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.keepAlive()
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
	}
}

// parseLastEventID treats anything but a non-negative integer as "from the start".
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
