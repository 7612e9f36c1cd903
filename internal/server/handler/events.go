package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// EventSource reads the ordered event stream.
type EventSource interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves catch-up reads of the market event stream, so
// clients that missed WebSocket pushes can replay from their last seen id.
type EventsHandler struct {
	source EventSource
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(source EventSource, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{source: source, logger: logger}
}

// maxEventBatch caps one replay response.
const maxEventBatch = 500

// ListEvents returns events appended after the given stream id, oldest
// first. An empty "after" starts from the beginning of the retained window.
// GET /api/events?after=<id>&count=<n>
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")

	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}
	if count > maxEventBatch {
		count = maxEventBatch
	}

	msgs, err := h.source.StreamRead(r.Context(), domain.EventStream, after, count)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}

	type event struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	out := make([]event, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, event{ID: m.ID, Payload: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
