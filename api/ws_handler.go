package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/raushankrgupta/photo-restorer/utils"
)

const wsWriteTimeout = 10 * time.Second

// Subscribe upgrades to a websocket and pushes a session view on every
// state or progress change. Views carry inline data URIs with ?inline=1.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	inline := r.URL.Query().Get("inline") == "1"

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		utils.Logger.Warn("Failed to accept WebSocket", zap.String("session_id", m.ID()), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	utils.WSConnections.Inc()
	defer utils.WSConnections.Dec()

	// The page never sends; CloseRead handles control frames and cancels
	// ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	updates, cancel := m.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, BuildView(snap, inline))
			cancelWrite()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					utils.Logger.Debug("WebSocket write error", zap.String("session_id", m.ID()), zap.Error(err))
				}
				return
			}
		}
	}
}
