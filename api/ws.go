package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/safegate/safegate/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsEvent struct {
	Event  string             `json:"event"`
	Record *domain.TurnRecord `json:"record,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// handleWebSocket streams turns over a WebSocket. Each client message is a
// turnRequest; provisional records arrive as "turn" events and the finalized
// record is followed by a "done" event. The connection stays open for
// further turns until the client closes it.
func (h *Handler) handleWebSocket(c echo.Context) error {
	orch, ok := h.lookupSession(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: websocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()

	ctx := c.Request().Context()

	for {
		var req turnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WARN: websocket read: %v", err)
			}
			return nil
		}
		if req.Content == "" {
			if err := conn.WriteJSON(wsEvent{Event: "error", Error: "content is required"}); err != nil {
				return nil
			}
			continue
		}

		_, err := orch.SubmitStream(ctx, req.Content, func(rec *domain.TurnRecord) error {
			return conn.WriteJSON(wsEvent{Event: "turn", Record: rec})
		})
		if err != nil {
			// A write failure means the client is gone; admission errors
			// are reported and the connection kept.
			if writeErr := conn.WriteJSON(wsEvent{Event: "error", Error: err.Error()}); writeErr != nil {
				return nil
			}
			continue
		}

		if err := conn.WriteJSON(wsEvent{Event: "done"}); err != nil {
			return nil
		}
	}
}
