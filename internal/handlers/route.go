package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/tickchat/internal/hub"
	"github.com/tickchat/internal/service"
	ws "github.com/tickchat/internal/websocket"
)

type RouteOptions struct {
	// AuthRequired rejects websocket upgrades without a token. The REST
	// API always requires one.
	AuthRequired bool
	HistoryLimit int
	// HeartbeatInterval is advertised on /health so clients can pace
	// their heartbeat action.
	HeartbeatInterval time.Duration
	Client            ws.ClientOptions
}

func SetupRoutes(
	ctx context.Context,
	router *mux.Router,
	h *hub.Hub,
	authService service.AuthService,
	opts RouteOptions,
	logger *zerolog.Logger,
) {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}

	router.Handle("/ws", AuthMiddleware(authService, opts.AuthRequired, logger)(HandleWebSocket(ctx, h, opts.Client, logger))).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(AuthMiddleware(authService, true, logger))

	apiRouter.HandleFunc("/messages/history", HandleMessageHistory(h.Messages(), opts.HistoryLimit, logger)).Methods("GET")
	apiRouter.HandleFunc("/users/status", HandleUserStatus(h, logger)).Methods("GET")

	router.HandleFunc("/health", healthCheck(h, opts.HeartbeatInterval, logger)).Methods("GET")
}

func healthCheck(h *hub.Hub, heartbeat time.Duration, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":                "ok",
			"connections":           h.Registry().Count(),
			"heartbeat_interval_ms": heartbeat.Milliseconds(),
		}, logger)
	}
}
