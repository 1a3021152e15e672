package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/zika/internal/auth"
	"github.com/mattjoyce/zika/internal/config"
	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/events"
	"github.com/mattjoyce/zika/internal/history"
	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/queue"
	"github.com/mattjoyce/zika/internal/registry"
	"github.com/mattjoyce/zika/internal/trigger"
)

const testAPIKey = "test-admin-key"

type fakeState struct {
	state dispatch.State
}

func (f *fakeState) Snapshot() dispatch.State { return f.state }

type fakeTrigger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTrigger) Trigger(alias string) (queue.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, alias)
	if f.err != nil {
		return queue.Request{}, f.err
	}
	if alias == "missing" {
		return queue.Request{}, fmt.Errorf("%w: %q", trigger.ErrUnknownAlias, alias)
	}
	return queue.Request{ID: "req-1", Alias: alias}, nil
}

type fakeHistory struct {
	entries   []history.Entry
	err       error
	lastLimit int
	lastAlias string
}

func (f *fakeHistory) Recent(_ context.Context, limit int, alias string) ([]history.Entry, error) {
	f.lastLimit, f.lastAlias = limit, alias
	return f.entries, f.err
}

type fakeReadiness struct {
	connected bool
}

func (f *fakeReadiness) Connected() bool { return f.connected }
func (f *fakeReadiness) Server() string  { return "nats://broker:4222" }

func testDeps() Deps {
	return Deps{
		State:   &fakeState{state: dispatch.State{Executor: "pipe"}},
		Trigger: &fakeTrigger{},
		Registry: registry.New(map[string]config.CommandConfig{
			"reboot-host":     {Command: "systemctl reboot", HA: &config.HAButtonConf{Name: "Reboot", Icon: "mdi:power"}},
			"restart-service": {Command: "systemctl restart nginx"},
		}),
		Readiness: &fakeReadiness{connected: true},
		Events:    events.NewHub(16),
		History:   &fakeHistory{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "zika_queue_depth 0\n")
		}),
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	return New(Config{
		Address: "127.0.0.1",
		Port:    0,
		APIKey:  testAPIKey,
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeHistoryRO, auth.ScopeCommandsRO}},
			{Token: "watcher", Scopes: []string{auth.ScopeEventsRO}},
		},
	}, deps, log.New(io.Discard, "error", "json"))
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestLivez(t *testing.T) {
	rr := do(t, newTestServer(t, testDeps()), http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestHealthz(t *testing.T) {
	deps := testDeps()
	current := queue.NewRequest("reboot-host", "systemctl reboot")
	pending := []queue.Request{
		queue.NewRequest("restart-service", "systemctl restart app"),
		queue.NewRequest("reboot-host", "systemctl reboot"),
	}
	deps.State = &fakeState{state: dispatch.State{Busy: true, Depth: 2, Current: &current, Pending: pending, Executor: "process"}}

	rr := do(t, newTestServer(t, deps), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.QueueDepth)
	assert.True(t, resp.Busy)
	require.NotNil(t, resp.Current)
	assert.Equal(t, "reboot-host", resp.Current.Alias)
	assert.Equal(t, 2, resp.CommandsLoaded)
	assert.Equal(t, "process", resp.Executor)
	assert.True(t, resp.BrokerConnected)
	require.Len(t, resp.Pending, 2)
	assert.Equal(t, "restart-service", resp.Pending[0].Alias)
	assert.Zero(t, resp.EventClients)
}

func TestReadyz(t *testing.T) {
	deps := testDeps()
	ready := &fakeReadiness{connected: true}
	deps.Readiness = ready
	s := newTestServer(t, deps)

	rr := do(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/readyz?verbose", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "[#] broker check: ok")
	assert.Contains(t, rr.Body.String(), "using server nats://broker:4222")

	ready.connected = false
	rr = do(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, s, http.MethodGet, "/readyz?verbose", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "[#] broker check: failed")
	assert.Contains(t, rr.Body.String(), "broker not connected")
}

func TestReadyzWithoutBroker(t *testing.T) {
	deps := testDeps()
	deps.Readiness = nil
	rr := do(t, newTestServer(t, deps), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsIsUnauthenticated(t *testing.T) {
	rr := do(t, newTestServer(t, testDeps()), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "zika_queue_depth")
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t, testDeps())

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/commands", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/commands", "wrong", http.StatusUnauthorized},
		{"reader commands", http.MethodGet, "/commands", "reader", http.StatusOK},
		{"reader history", http.MethodGet, "/history", "reader", http.StatusOK},
		{"reader cannot trigger", http.MethodPost, "/trigger/reboot-host", "reader", http.StatusForbidden},
		{"watcher cannot list", http.MethodGet, "/commands", "watcher", http.StatusForbidden},
		{"admin triggers", http.MethodPost, "/trigger/reboot-host", testAPIKey, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.method, tt.path, tt.token)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestNoCredentialsConfiguredRejectsAll(t *testing.T) {
	s := New(Config{}, testDeps(), log.New(io.Discard, "error", "json"))
	rr := do(t, s, http.MethodGet, "/commands", "anything")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCommands(t *testing.T) {
	rr := do(t, newTestServer(t, testDeps()), http.MethodGet, "/commands", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)

	var cmds []CommandInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cmds))
	assert.Equal(t, []CommandInfo{
		{Alias: "reboot-host", Command: "systemctl reboot", Name: "Reboot", Icon: "mdi:power"},
		{Alias: "restart-service", Command: "systemctl restart nginx"},
	}, cmds)
}

func TestTrigger(t *testing.T) {
	deps := testDeps()
	trig := &fakeTrigger{}
	deps.Trigger = trig
	deps.State = &fakeState{state: dispatch.State{Depth: 3}}
	s := newTestServer(t, deps)

	rr := do(t, s, http.MethodPost, "/trigger/reboot-host", testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, TriggerResponse{ID: "req-1", Status: "queued", Alias: "reboot-host", QueueDepth: 3}, resp)

	rr = do(t, s, http.MethodPost, "/trigger/missing", testAPIKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, []string{"reboot-host", "missing"}, trig.calls)
}

func TestTriggerErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", trigger.ErrQueueFull), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		deps := testDeps()
		deps.Trigger = &fakeTrigger{err: tt.err}
		rr := do(t, newTestServer(t, deps), http.MethodPost, "/trigger/reboot-host", testAPIKey)
		assert.Equal(t, tt.want, rr.Code)
	}
}

func TestHistory(t *testing.T) {
	deps := testDeps()
	hist := &fakeHistory{entries: []history.Entry{{ID: "a", Alias: "reboot-host", Outcome: "succeeded"}}}
	deps.History = hist
	s := newTestServer(t, deps)

	rr := do(t, s, http.MethodGet, "/history?limit=5&alias=reboot-host", "reader")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "a", resp.Entries[0].ID)
	assert.Equal(t, 5, hist.lastLimit)
	assert.Equal(t, "reboot-host", hist.lastAlias)

	rr = do(t, s, http.MethodGet, "/history?limit=abc", "reader")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	hist.err = errors.New("db locked")
	rr = do(t, s, http.MethodGet, "/history", "reader")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHistoryDisabled(t *testing.T) {
	deps := testDeps()
	deps.History = nil
	rr := do(t, newTestServer(t, deps), http.MethodGet, "/history", testAPIKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rr := httptest.NewRecorder()
	newTestServer(t, testDeps()).Handler().ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventsStream(t *testing.T) {
	deps := testDeps()
	hub := deps.Events
	hub.Publish(events.TypeActionQueued, map[string]string{"alias": "before"})

	ts := httptest.NewServer(newTestServer(t, deps).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer watcher")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	first := readEvent()
	assert.Equal(t, []string{"id: 1", "event: action.queued", `data: {"alias":"before"}`}, first)

	// The subscription is held before replay, so one live publish is enough.
	hub.Publish(events.TypeActionCompleted, map[string]string{"alias": "live"})
	second := readEvent()
	assert.Equal(t, []string{"id: 2", "event: action.completed", `data: {"alias":"live"}`}, second)
}

func TestEventsStreamResumesAfterLastEventID(t *testing.T) {
	deps := testDeps()
	hub := deps.Events
	for _, alias := range []string{"one", "two", "three"} {
		hub.Publish(events.TypeActionQueued, map[string]string{"alias": alias})
	}

	ts := httptest.NewServer(newTestServer(t, deps).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?last_event_id=2", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer watcher")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	var ids []string
	for len(ids) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimSpace(strings.TrimPrefix(line, "id: ")))
			if len(ids) == 1 {
				hub.Publish(events.TypeActionStarted, map[string]string{"alias": "four"})
			}
		}
	}
	assert.Equal(t, []string{"3", "4"}, ids)
}

func TestParseLastEventID(t *testing.T) {
	assert.EqualValues(t, 0, parseLastEventID(""))
	assert.EqualValues(t, 0, parseLastEventID("abc"))
	assert.EqualValues(t, 0, parseLastEventID("-4"))
	assert.EqualValues(t, 42, parseLastEventID("42"))
}
