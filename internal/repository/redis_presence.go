package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
)

// lastSeenKey is a hash: field user id, value unix milliseconds.
const lastSeenKey = "tickchat:presence:last_seen"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type redisPresence struct {
	client *redis.Client
	logger *zerolog.Logger
}

func NewRedisPresenceRepository(cfg RedisConfig, logger *zerolog.Logger) PresenceRepository {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisPresence{client: client, logger: logger}
}

// Migrate only checks connectivity; hashes need no schema.
func (r *redisPresence) Migrate(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisPresence) SaveLastSeen(ctx context.Context, userID models.UserID, lastSeen time.Time) error {
	field := strconv.FormatInt(int64(userID), 10)
	err := r.client.HSet(ctx, lastSeenKey, field, lastSeen.UnixMilli()).Err()
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", int64(userID)).Msg("Failed to update user last seen")
	}
	return err
}

func (r *redisPresence) LastSeen(ctx context.Context, userID models.UserID) (time.Time, bool, error) {
	field := strconv.FormatInt(int64(userID), 10)
	millis, err := r.client.HGet(ctx, lastSeenKey, field).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", int64(userID)).Msg("Failed to get user last seen")
		return time.Time{}, false, err
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

func (r *redisPresence) Close() error {
	return r.client.Close()
}
