package trigger

import (
	"io"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/zika/internal/config"
	"github.com/mattjoyce/zika/internal/events"
	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/queue"
	"github.com/mattjoyce/zika/internal/registry"
	"github.com/mattjoyce/zika/internal/trigger/mocks"
)

type payloadCounter struct{ n int }

func (p *payloadCounter) PayloadError() { p.n++ }

func testRegistry() *registry.Registry {
	return registry.New(map[string]config.CommandConfig{
		"restart-service": {Command: "systemctl restart nginx"},
		"reboot-host":     {Command: "systemctl reboot"},
	})
}

func newAdapter(enq Enqueuer, opts ...Option) *Adapter {
	opts = append([]Option{WithLogger(log.New(io.Discard, "error", "json"))}, opts...)
	return New(testRegistry(), enq, opts...)
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"valid", `{"command":"reboot-host"}`, "reboot-host", false},
		{"extra fields ignored", `{"command":"reboot-host","source":"ha","n":1}`, "reboot-host", false},
		{"not json", `reboot-host`, "", true},
		{"array", `["reboot-host"]`, "", true},
		{"null", `null`, "", true},
		{"missing command", `{"cmd":"reboot-host"}`, "", true},
		{"number command", `{"command":42}`, "", true},
		{"null command", `{"command":null}`, "", true},
		{"empty command", `{"command":""}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleKnownAlias(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	enq := mocks.NewMockEnqueuer(ctrl)
	want := queue.NewRequest("reboot-host", "systemctl reboot")
	enq.EXPECT().Enqueue("reboot-host", "systemctl reboot").Return(want, true)

	counter := &payloadCounter{}
	a := newAdapter(enq, WithPayloadErrorCounter(counter))

	got, err := a.Handle([]byte(`{"command":"reboot-host"}`))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, counter.n)
}

func TestHandleInvalidPayloadCountsAndDoesNotEnqueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	enq := mocks.NewMockEnqueuer(ctrl) // no calls expected
	counter := &payloadCounter{}
	hub := events.NewHub(10)
	a := newAdapter(enq, WithPayloadErrorCounter(counter), WithEvents(hub))

	_, err := a.Handle([]byte(`{"command":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = a.Handle([]byte(`{"command":7}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	assert.Equal(t, 2, counter.n)
	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeCommandRejected, evs[0].Type)
}

func TestHandleUnknownAliasIsNotPayloadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	enq := mocks.NewMockEnqueuer(ctrl)
	counter := &payloadCounter{}
	a := newAdapter(enq, WithPayloadErrorCounter(counter))

	_, err := a.Handle([]byte(`{"command":"format-disk"}`))
	assert.ErrorIs(t, err, ErrUnknownAlias)
	assert.Zero(t, counter.n)
}

func TestTriggerQueueFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	enq := mocks.NewMockEnqueuer(ctrl)
	enq.EXPECT().Enqueue("restart-service", "systemctl restart nginx").Return(queue.Request{ID: "x"}, false)

	_, err := newAdapter(enq).Trigger("restart-service")
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubscribeRoutesMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	enq := mocks.NewMockEnqueuer(ctrl)
	sub := mocks.NewMockSubscriber(ctrl)

	var handler func([]byte)
	sub.EXPECT().Subscribe("zika/command", gomock.Any()).DoAndReturn(func(_ string, h func([]byte)) error {
		handler = h
		return nil
	})

	a := newAdapter(enq)
	require.NoError(t, a.Subscribe(sub, "zika/command"))
	require.NotNil(t, handler)

	gomock.InOrder(
		enq.EXPECT().Enqueue("restart-service", "systemctl restart nginx").Return(queue.Request{}, true),
		enq.EXPECT().Enqueue("reboot-host", "systemctl reboot").Return(queue.Request{}, true),
	)
	handler([]byte(`{"command":"restart-service"}`))
	handler([]byte(`garbage`))
	handler([]byte(`{"command":"reboot-host"}`))
}
