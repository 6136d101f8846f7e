package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/events"
)

// EventsHandler streams lifecycle events over a websocket. An optional
// workflow_id query parameter narrows the stream to one workflow.
type EventsHandler struct {
	bus    events.Subscriber
	logger *zap.Logger
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(bus events.Subscriber, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logger.Named("api.events"),
	}
}

// HandleStream upgrades the connection and forwards events until the
// client disconnects.
// GET /events
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	workflowID := r.URL.Query().Get("workflow_id")

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if workflowID != "" && event.WorkflowID != workflowID {
				continue
			}
			if err := h.writeEvent(ctx, conn, event); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) writeEvent(ctx context.Context, conn *websocket.Conn, event events.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
