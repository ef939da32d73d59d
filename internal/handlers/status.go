package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/hub"
	"github.com/tickchat/internal/models"
)

// HandleUserStatus returns presence snapshots for every user_id given.
func HandleUserStatus(h *hub.Hub, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ids := r.URL.Query()["user_id"]
		if len(ids) == 0 {
			http.Error(w, "Missing user_id parameter", http.StatusBadRequest)
			return
		}

		statuses := make([]models.Presence, 0, len(ids))
		for _, raw := range ids {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || !models.UserID(userID).Valid() {
				logger.Warn().Err(err).Str("user_id", raw).Msg("Invalid user_id parameter")
				http.Error(w, "Invalid user_id parameter", http.StatusBadRequest)
				return
			}
			statuses = append(statuses, h.Presence(ctx, models.UserID(userID)))
		}

		writeJSON(w, http.StatusOK, statuses, logger)
	}
}
