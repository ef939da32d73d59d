package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/service"
)

const maxHistoryLimit = 1000

// HandleMessageHistory returns the conversation between the caller and
// user_id, oldest first. Reading history does not mark anything read;
// clients send mark_read over the socket.
func HandleMessageHistory(messageService service.MessageService, defaultLimit int, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := UserIDFromContext(ctx)

		otherUserID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil || !models.UserID(otherUserID).Valid() {
			logger.Warn().Err(err).Msg("Invalid user_id parameter")
			http.Error(w, "Invalid user_id parameter", http.StatusBadRequest)
			return
		}

		limit := defaultLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			limit, err = strconv.Atoi(limitStr)
			if err != nil || limit < 1 || limit > maxHistoryLimit {
				logger.Warn().Err(err).Msg("Invalid limit parameter")
				http.Error(w, "Invalid limit parameter (1-1000)", http.StatusBadRequest)
				return
			}
		}

		messages, err := messageService.GetConversation(ctx, userID, models.UserID(otherUserID), limit)
		if err != nil {
			if errors.Is(err, service.ErrInvalidUser) {
				http.Error(w, "Invalid user_id parameter", http.StatusBadRequest)
				return
			}
			logger.Error().Err(err).Msg("Failed to get conversation history")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if messages == nil {
			messages = []*models.Message{}
		}

		writeJSON(w, http.StatusOK, messages, logger)
	}
}
