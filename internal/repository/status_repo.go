package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
)

type statusRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *zerolog.Logger
}

// NewStatusRepository stores last-seen timestamps in the user_presence
// table. It shares the pool of the message repository and does not close it.
func NewStatusRepository(db *sql.DB, dialect Dialect, logger *zerolog.Logger) PresenceRepository {
	return &statusRepository{db: db, dialect: dialect, logger: logger}
}

func (r *statusRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, r.dialect.PresenceSchema); err != nil {
		r.logger.Error().Err(err).Str("driver", r.dialect.Driver).Msg("Failed to apply presence schema")
		return err
	}
	return nil
}

func (r *statusRepository) SaveLastSeen(ctx context.Context, userID models.UserID, lastSeen time.Time) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(r.dialect.Upsert), userID, lastSeen)
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", int64(userID)).Msg("Failed to update user last seen")
		return err
	}
	return nil
}

func (r *statusRepository) LastSeen(ctx context.Context, userID models.UserID) (time.Time, bool, error) {
	query := `SELECT last_seen FROM user_presence WHERE user_id = ?`
	var lastSeen time.Time
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), userID).Scan(&lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		r.logger.Error().Err(err).Int64("user_id", int64(userID)).Msg("Failed to get user last seen")
		return time.Time{}, false, err
	}
	return lastSeen, true, nil
}

func (r *statusRepository) Close() error {
	return nil
}
