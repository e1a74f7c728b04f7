package progress

import (
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/claimsense/claimsense/internal/platform/api"
)

const (
	keepAliveInterval = 15 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 30 * time.Second
	writeWait         = 10 * time.Second
)

var connectedFrame = []byte(`{"status":"connected"}`)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams a note's progress events to one client.
type Handler struct {
	broadcaster *Broadcaster
	logger      zerolog.Logger
}

func NewHandler(b *Broadcaster, logger zerolog.Logger) *Handler {
	return &Handler{broadcaster: b, logger: logger.With().Str("component", "progress").Logger()}
}

// RegisterRoutes mounts the SSE endpoints on api and the WebSocket endpoint
// on ws.
func (h *Handler) RegisterRoutes(api, ws *echo.Group) {
	api.GET("/processor/progress", h.StreamSSE)
	api.GET("/processor/progress/:id", h.StreamSSE)
	ws.GET("/progress/:id", h.StreamWebSocket)
}

func noteIDFrom(c echo.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	return c.QueryParam("noteId")
}

// -- Server-sent events --

func (h *Handler) StreamSSE(c echo.Context) error {
	noteID := noteIDFrom(c)
	if noteID == "" {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "Missing noteId")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.broadcaster.Subscribe(noteID)
	defer h.broadcaster.Unsubscribe(sub)
	h.logger.Debug().Str("note_id", noteID).Msg("sse stream opened")

	if err := writeFrame(w, connectedFrame); err != nil {
		return nil
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Str("note_id", noteID).Msg("sse client gone")
			return nil
		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error().Err(err).Msg("marshal progress event")
				continue
			}
			if err := writeFrame(w, data); err != nil {
				return nil
			}
			if ev.Terminal() {
				return nil
			}
		}
	}
}

func writeFrame(w *echo.Response, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// -- WebSocket --

// StreamWebSocket upgrades the connection and pushes the same payloads as
// the SSE stream. Pings keep idle connections open; the socket closes after
// a terminal event.
func (h *Handler) StreamWebSocket(c echo.Context) error {
	noteID := c.Param("id")
	if noteID == "" {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "Missing note id")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	sub := h.broadcaster.Subscribe(noteID)
	done := make(chan struct{})
	go h.readPump(ws, done)
	h.writePump(ws, sub, done)
	return nil
}

// readPump discards client messages and tracks pongs. It closes done when
// the client goes away.
func (h *Handler) readPump(ws *gorillawebsocket.Conn, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket read")
			}
			return
		}
	}
}

func (h *Handler) writePump(ws *gorillawebsocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.broadcaster.Unsubscribe(sub)
		ws.Close()
	}()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(gorillawebsocket.TextMessage, connectedFrame); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
			if ev.Terminal() {
				ws.WriteMessage(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, string(ev.Status)))
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
