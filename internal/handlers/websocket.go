package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/hub"
	ws "github.com/tickchat/internal/websocket"
)

// HandleWebSocket upgrades the request and serves the connection until it
// closes. ctx bounds the connection's lifetime, not the request's.
func HandleWebSocket(ctx context.Context, h *hub.Hub, opts ws.ClientOptions, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		logger.Debug().Int64("user_id", int64(userID)).Str("remote", r.RemoteAddr).Msg("WebSocket connected")
		go ws.Serve(ctx, conn, h, userID, opts, logger)
	}
}
