package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
	"go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketPresence = []byte("presence")
)

// BoltStorage is an embedded single-file store. bbolt runs one write
// transaction at a time, which makes every conditional update atomic.
type BoltStorage struct {
	db     *bbolt.DB
	logger *zerolog.Logger
}

func NewBoltStorage(path string, logger *zerolog.Logger) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}
	return &BoltStorage{db: db, logger: logger}, nil
}

func (s *BoltStorage) Migrate(ctx context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPresence); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create buckets: %w", err)
	}
	return nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func (s *BoltStorage) Insert(ctx context.Context, message *models.Message) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)

		dbMessage := newDBMessage(message)
		dbMessage.ID = id
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return b.Put(dbMessage.Key(), data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create message")
		return 0, err
	}
	return id, nil
}

func (s *BoltStorage) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg *models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}
		var dbMessage DBMessage
		if err := dbMessage.UnmarshalBinary(data); err != nil {
			return err
		}
		msg = dbMessage.toModel()
		return nil
	})
	return msg, err
}

func (s *BoltStorage) UpdateStatusWhere(
	ctx context.Context,
	filter StatusFilter,
	from []models.MessageStatus,
	to models.MessageStatus,
	at time.Time,
) (models.ChangeSet, error) {
	if !filter.Bound() {
		return nil, ErrUnboundFilter
	}

	var changes models.ChangeSet
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)

		var moved []*DBMessage
		err := b.ForEach(func(k, v []byte) error {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			msg := dbMessage.toModel()
			if !filter.Match(msg) || !containsStatus(from, msg.Status) || !msg.Status.CanAdvanceTo(to) {
				return nil
			}

			dbMessage.Status = string(to)
			if to.Rank() >= models.StatusDelivered.Rank() && dbMessage.DeliveredAt == 0 {
				dbMessage.DeliveredAt = at.UnixNano()
			}
			if to == models.StatusRead {
				dbMessage.ReadAt = at.UnixNano()
			}
			moved = append(moved, &dbMessage)
			return nil
		})
		if err != nil {
			return err
		}

		// bbolt forbids mutating a bucket while iterating it
		for _, m := range moved {
			data, err := m.MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put(m.Key(), data); err != nil {
				return err
			}
			changes = append(changes, models.StatusChange{
				ID:         m.ID,
				SenderID:   models.UserID(m.SenderID),
				ReceiverID: models.UserID(m.ReceiverID),
			})
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).
			Int64("sender_id", int64(filter.SenderID)).
			Int64("receiver_id", int64(filter.ReceiverID)).
			Str("status", string(to)).
			Msg("Failed to update message status")
		return nil, err
	}
	return changes, nil
}

func (s *BoltStorage) ListBetween(ctx context.Context, userA, userB models.UserID, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		// walk newest to oldest so the limit keeps the latest messages
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			a, b := models.UserID(dbMessage.SenderID), models.UserID(dbMessage.ReceiverID)
			if !(a == userA && b == userB) && !(a == userB && b == userA) {
				continue
			}
			messages = append(messages, dbMessage.toModel())
			if limit > 0 && len(messages) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).
			Int64("user1_id", int64(userA)).
			Int64("user2_id", int64(userB)).
			Msg("Failed to get conversation")
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Presence returns a PresenceRepository backed by the same file.
func (s *BoltStorage) Presence() PresenceRepository {
	return &boltPresence{s: s}
}

type boltPresence struct {
	s *BoltStorage
}

func (p *boltPresence) Migrate(ctx context.Context) error {
	return p.s.Migrate(ctx)
}

func (p *boltPresence) SaveLastSeen(ctx context.Context, userID models.UserID, lastSeen time.Time) error {
	return p.s.db.Update(func(tx *bbolt.Tx) error {
		record := &DBPresence{UserID: int64(userID), LastSeen: lastSeen.UnixNano()}
		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPresence).Put(record.Key(), data)
	})
}

func (p *boltPresence) LastSeen(ctx context.Context, userID models.UserID) (time.Time, bool, error) {
	var (
		lastSeen time.Time
		found    bool
	)
	err := p.s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPresence).Get(idKey(int64(userID)))
		if data == nil {
			return nil
		}
		var record DBPresence
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		lastSeen, found = time.Unix(0, record.LastSeen).UTC(), true
		return nil
	})
	return lastSeen, found, err
}

// Close is a no-op; the owning BoltStorage closes the file.
func (p *boltPresence) Close() error {
	return nil
}

var _ MessageRepository = (*BoltStorage)(nil)
