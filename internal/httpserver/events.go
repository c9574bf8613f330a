package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"bodyshop-storefront/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer and the session cookie is SameSite.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamEvents pushes the session's change notifications until the client
// goes away or the server shuts down. Messages are the event JSON, e.g.
// {"type":"cartUpdated"}.
func (h *api) streamEvents(c *gin.Context) {
	sessionID := sessionFrom(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str(logging.Session, sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := h.deps.Bus.Subscribe(sessionID)
	defer unsubscribe()
	h.deps.Metrics.StreamOpened(1)
	defer h.deps.Metrics.StreamOpened(-1)

	// The reader only exists to see pongs and the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug().Err(err).Str(logging.Session, sessionID).Msg("event write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
