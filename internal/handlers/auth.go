package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/service"
)

// AuthMiddleware validates the request's JWT. When required is false a
// request without a token passes through anonymously; a bad token is always
// rejected.
func AuthMiddleware(authService service.AuthService, required bool, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				logger.Warn().Str("path", r.URL.Path).Msg("Missing authorization token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := authService.ValidateToken(tokenString)
			if err != nil {
				logger.Warn().Err(err).Msg("Invalid authorization token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
