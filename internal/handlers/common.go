package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
)

type contextKey string

const userIDKey contextKey = "userID"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// extractToken reads a bearer token from the Authorization header, falling
// back to the token query parameter browsers use for websocket upgrades.
func extractToken(r *http.Request) string {
	tokenString := r.Header.Get("Authorization")
	if tokenString != "" {
		return strings.TrimPrefix(tokenString, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// UserIDFromContext returns the authenticated user, or zero for anonymous
// requests.
func UserIDFromContext(ctx context.Context) models.UserID {
	userID, _ := ctx.Value(userIDKey).(models.UserID)
	return userID
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func LoggingMiddleware(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}
