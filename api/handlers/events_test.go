package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/events"
)

func dialEvents(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestEventsHandler_StreamsPublishedEvents(t *testing.T) {
	bus := events.NewMemoryBus(zap.NewNop())
	handler := NewEventsHandler(bus, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleStream))
	defer srv.Close()

	conn := dialEvents(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/events")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The subscriber registers during the websocket handshake, so a short
	// settle keeps the publish from racing it.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, events.Event{
		Type:       events.WorkflowPaused,
		WorkflowID: "wf-1",
		SnapshotID: "snap-1",
	}))

	var got events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, events.WorkflowPaused, got.Type)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "snap-1", got.SnapshotID)
}

func TestEventsHandler_FiltersByWorkflowID(t *testing.T) {
	bus := events.NewMemoryBus(zap.NewNop())
	handler := NewEventsHandler(bus, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleStream))
	defer srv.Close()

	conn := dialEvents(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/events?workflow_id=wf-2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, events.Event{Type: events.WorkflowPaused, WorkflowID: "wf-1"}))
	require.NoError(t, bus.Publish(ctx, events.Event{Type: events.WorkflowResumed, WorkflowID: "wf-2"}))

	var got events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "wf-2", got.WorkflowID)
	assert.Equal(t, events.WorkflowResumed, got.Type)
}
