package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/repository"
)

var (
	ErrInvalidUser      = errors.New("invalid user ID")
	ErrSelfMessage      = errors.New("sender and receiver must differ")
	ErrEmptyBody        = errors.New("message body is empty")
	ErrBodyTooLong      = errors.New("message body is too long")
	ErrNotFound         = repository.ErrNotFound
	ErrStoreUnavailable = errors.New("message store unavailable")
)

const DefaultMaxBodyLength = 4096

// MessageService owns the sent -> delivered -> read lifecycle. It is the
// only code that changes a message status, and every change goes through a
// conditional update so a status never moves backward.
type MessageService interface {
	CreateMessage(ctx context.Context, senderID, receiverID models.UserID, body, attachment string) (*models.Message, error)
	MarkDelivered(ctx context.Context, receiverID models.UserID) (models.ChangeSet, error)
	MarkRead(ctx context.Context, readerID, otherUserID models.UserID) (models.ChangeSet, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	GetConversation(ctx context.Context, user1ID, user2ID models.UserID, limit int) ([]*models.Message, error)
}

type MessageOptions struct {
	MaxBodyLength int
	Now           func() time.Time
}

type messageService struct {
	repo      repository.MessageRepository
	policy    *bluemonday.Policy
	maxLength int
	now       func() time.Time
}

func NewMessageService(repo repository.MessageRepository, opts MessageOptions) MessageService {
	if opts.MaxBodyLength <= 0 {
		opts.MaxBodyLength = DefaultMaxBodyLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &messageService{
		repo:      repo,
		policy:    bluemonday.StrictPolicy(),
		maxLength: opts.MaxBodyLength,
		now:       opts.Now,
	}
}

func (s *messageService) CreateMessage(ctx context.Context, senderID, receiverID models.UserID, body, attachment string) (*models.Message, error) {
	if !senderID.Valid() || !receiverID.Valid() {
		return nil, ErrInvalidUser
	}
	if senderID == receiverID {
		return nil, ErrSelfMessage
	}

	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) > s.maxLength {
		return nil, ErrBodyTooLong
	}
	body = strings.TrimSpace(s.stripMarkup(body))
	attachment = strings.TrimSpace(attachment)
	if body == "" && attachment == "" {
		return nil, ErrEmptyBody
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Attachment: attachment,
		Status:     models.StatusSent,
		CreatedAt:  s.now().UTC(),
	}

	id, err := s.repo.Insert(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: insert: %w", ErrStoreUnavailable, err)
	}

	msg.ID = id
	return msg, nil
}

// stripMarkup drops HTML tags but keeps the text as typed. A body without
// markup is returned unchanged, entities included.
func (s *messageService) stripMarkup(body string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(body))
	if stripped == html.UnescapeString(body) {
		return body
	}
	return stripped
}

func (s *messageService) MarkDelivered(ctx context.Context, receiverID models.UserID) (models.ChangeSet, error) {
	if !receiverID.Valid() {
		return nil, ErrInvalidUser
	}

	changes, err := s.repo.UpdateStatusWhere(ctx,
		repository.StatusFilter{ReceiverID: receiverID},
		[]models.MessageStatus{models.StatusSent},
		models.StatusDelivered,
		s.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: mark delivered: %w", ErrStoreUnavailable, err)
	}
	return changes, nil
}

func (s *messageService) MarkRead(ctx context.Context, readerID, otherUserID models.UserID) (models.ChangeSet, error) {
	if !readerID.Valid() || !otherUserID.Valid() {
		return nil, ErrInvalidUser
	}
	if readerID == otherUserID {
		return nil, ErrSelfMessage
	}

	changes, err := s.repo.UpdateStatusWhere(ctx,
		repository.StatusFilter{SenderID: otherUserID, ReceiverID: readerID},
		[]models.MessageStatus{models.StatusSent, models.StatusDelivered},
		models.StatusRead,
		s.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: mark read: %w", ErrStoreUnavailable, err)
	}
	return changes, nil
}

func (s *messageService) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}

	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get message: %w", ErrStoreUnavailable, err)
	}
	return msg, nil
}

func (s *messageService) GetConversation(ctx context.Context, user1ID, user2ID models.UserID, limit int) ([]*models.Message, error) {
	if !user1ID.Valid() || !user2ID.Valid() {
		return nil, ErrInvalidUser
	}

	messages, err := s.repo.ListBetween(ctx, user1ID, user2ID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation: %w", ErrStoreUnavailable, err)
	}
	return messages, nil
}
