package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
	"github.com/appgarcom/prestador/internal/session"
)

// Stream sources. Each returns a fresh subscription per connection.
type (
	NotificationSource interface {
		Listen() *realtime.Subscription[models.Notification]
	}
	StateSource interface {
		Watch() *realtime.Subscription[session.State]
	}
	PendingSource interface {
		Watch() *realtime.Subscription[[]models.Offer]
	}
)

type streamEvent struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// StreamHandler pushes session changes, pending-set snapshots and
// notifications over a websocket.
type StreamHandler struct {
	notes   NotificationSource
	states  StateSource
	pending PendingSource
	origins []string
	protect func(http.Handler) http.Handler
	clock   clock.Clock
	log     *slog.Logger
}

// NewStreamHandler constructs the handler. origins are websocket origin
// patterns; empty means same-origin only. Event times come from clk, or the
// real clock when nil.
func NewStreamHandler(notes NotificationSource, states StateSource, pending PendingSource, origins []string, protect func(http.Handler) http.Handler, clk clock.Clock, log *slog.Logger) *StreamHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &StreamHandler{
		notes:   notes,
		states:  states,
		pending: pending,
		origins: origins,
		protect: protect,
		clock:   clk,
		log:     log.With("component", "stream"),
	}
}

// Register attaches the stream route to the mux.
func (h *StreamHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", h.protect(http.HandlerFunc(h.handle)))
}

func (h *StreamHandler) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Debug("websocket accept failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notes := h.notes.Listen()
	defer notes.Close()
	states := h.states.Watch()
	defer states.Close()
	pending := h.pending.Watch()
	defer pending.Close()

	// Reads only detect the peer going away.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		var ev streamEvent
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case n, ok := <-notes.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			ev = streamEvent{Type: "notification", Data: n, At: n.At}
		case st, ok := <-states.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			ev = streamEvent{Type: "session", Data: describe(st), At: h.clock.Now()}
		case list, ok := <-pending.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			ev = streamEvent{Type: "pending", Data: list, At: h.clock.Now()}
		}

		writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(writeCtx, conn, ev)
		cancelWrite()
		if err != nil {
			h.log.Debug("websocket write failed", "type", ev.Type, "error", err)
			conn.Close(websocket.StatusNormalClosure, "write_failed")
			return
		}
	}
}
