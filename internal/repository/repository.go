package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tickchat/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnboundFilter = errors.New("status filter must name a sender or a receiver")
)

// StatusFilter selects messages for a conditional status update. A zero
// field matches any user.
type StatusFilter struct {
	SenderID   models.UserID
	ReceiverID models.UserID
}

func (f StatusFilter) Bound() bool {
	return f.SenderID.Valid() || f.ReceiverID.Valid()
}

func (f StatusFilter) Match(m *models.Message) bool {
	if f.SenderID.Valid() && m.SenderID != f.SenderID {
		return false
	}
	if f.ReceiverID.Valid() && m.ReceiverID != f.ReceiverID {
		return false
	}
	return true
}

// MessageRepository is the durable message record. UpdateStatusWhere must
// be atomic: either every matching row moves or none does.
type MessageRepository interface {
	Migrate(ctx context.Context) error
	Insert(ctx context.Context, message *models.Message) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	UpdateStatusWhere(ctx context.Context, filter StatusFilter, from []models.MessageStatus, to models.MessageStatus, at time.Time) (models.ChangeSet, error)
	ListBetween(ctx context.Context, userA, userB models.UserID, limit int) ([]*models.Message, error)
	Close() error
}

// PresenceRepository persists the last time a user was seen online.
type PresenceRepository interface {
	Migrate(ctx context.Context) error
	SaveLastSeen(ctx context.Context, userID models.UserID, lastSeen time.Time) error
	LastSeen(ctx context.Context, userID models.UserID) (time.Time, bool, error)
	Close() error
}

func containsStatus(set []models.MessageStatus, s models.MessageStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
