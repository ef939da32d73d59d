package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, content, attachment, status, created_at, delivered_at, read_at`

type messageRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *zerolog.Logger
}

func NewMessageRepository(db *sql.DB, dialect Dialect, logger *zerolog.Logger) MessageRepository {
	return &messageRepository{db: db, dialect: dialect, logger: logger}
}

func (r *messageRepository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.Schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			r.logger.Error().Err(err).Str("driver", r.dialect.Driver).Msg("Failed to apply schema")
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *messageRepository) Insert(ctx context.Context, message *models.Message) (int64, error) {
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, attachment, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	args := []any{
		message.SenderID,
		message.ReceiverID,
		message.Body,
		message.Attachment,
		message.Status,
		message.CreatedAt,
	}

	if r.dialect.Numbered {
		var id int64
		err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to create message")
			return 0, err
		}
		return id, nil
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to create message")
		return 0, err
	}
	return result.LastInsertId()
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error().Err(err).Int64("message_id", id).Msg("Failed to get message by ID")
		return nil, err
	}
	return msg, nil
}

func (r *messageRepository) ListBetween(ctx context.Context, userA, userB models.UserID, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY id DESC
	`
	args := []any{userA, userB, userB, userA}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		r.logger.Error().Err(err).
			Int64("user1_id", int64(userA)).
			Int64("user2_id", int64(userB)).
			Msg("Failed to get conversation")
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to scan message row")
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest-first from the query, oldest-first to the caller
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *messageRepository) UpdateStatusWhere(
	ctx context.Context,
	filter StatusFilter,
	from []models.MessageStatus,
	to models.MessageStatus,
	at time.Time,
) (models.ChangeSet, error) {
	if !filter.Bound() {
		return nil, ErrUnboundFilter
	}
	if len(from) == 0 {
		return nil, nil
	}

	where, whereArgs := filterClause(filter, from)
	set, setArgs := setClause(to, at)

	var (
		changes models.ChangeSet
		err     error
	)
	if r.dialect.Returning {
		changes, err = r.updateReturning(ctx, set, setArgs, where, whereArgs)
	} else {
		changes, err = r.updateLocked(ctx, set, setArgs, where, whereArgs, from)
	}
	if err != nil {
		r.logger.Error().Err(err).
			Int64("sender_id", int64(filter.SenderID)).
			Int64("receiver_id", int64(filter.ReceiverID)).
			Str("status", string(to)).
			Msg("Failed to update message status")
		return nil, err
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes, nil
}

func (r *messageRepository) updateReturning(ctx context.Context, set string, setArgs []any, where string, whereArgs []any) (models.ChangeSet, error) {
	query := `UPDATE messages SET ` + set + ` WHERE ` + where + ` RETURNING id, sender_id, receiver_id`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), append(setArgs, whereArgs...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes models.ChangeSet
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.SenderID, &c.ReceiverID); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// updateLocked selects the candidate rows FOR UPDATE and moves exactly those,
// for backends without RETURNING.
func (r *messageRepository) updateLocked(
	ctx context.Context,
	set string,
	setArgs []any,
	where string,
	whereArgs []any,
	from []models.MessageStatus,
) (models.ChangeSet, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT id, sender_id, receiver_id FROM messages WHERE ` + where + ` ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, r.dialect.Rebind(query), whereArgs...)
	if err != nil {
		return nil, err
	}

	var changes models.ChangeSet
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.SenderID, &c.ReceiverID); err != nil {
			rows.Close()
			return nil, err
		}
		changes = append(changes, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, tx.Commit()
	}

	args := append([]any{}, setArgs...)
	for _, c := range changes {
		args = append(args, c.ID)
	}
	for _, s := range from {
		args = append(args, s)
	}
	update := `UPDATE messages SET ` + set +
		` WHERE id IN (` + placeholders(len(changes)) + `) AND status IN (` + placeholders(len(from)) + `)`
	result, err := tx.ExecContext(ctx, r.dialect.Rebind(update), args...)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && int(n) != len(changes) {
		return nil, fmt.Errorf("status update moved %d rows, locked %d", n, len(changes))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

func filterClause(filter StatusFilter, from []models.MessageStatus) (string, []any) {
	where := ""
	var args []any
	if filter.SenderID.Valid() {
		where += "sender_id = ? AND "
		args = append(args, filter.SenderID)
	}
	if filter.ReceiverID.Valid() {
		where += "receiver_id = ? AND "
		args = append(args, filter.ReceiverID)
	}
	where += "status IN (" + placeholders(len(from)) + ")"
	for _, s := range from {
		args = append(args, s)
	}
	return where, args
}

func setClause(to models.MessageStatus, at time.Time) (string, []any) {
	switch to {
	case models.StatusRead:
		return "status = ?, delivered_at = COALESCE(delivered_at, ?), read_at = ?", []any{to, at, at}
	case models.StatusDelivered:
		return "status = ?, delivered_at = COALESCE(delivered_at, ?)", []any{to, at}
	}
	return "status = ?", []any{to}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg         models.Message
		deliveredAt sql.NullTime
		readAt      sql.NullTime
	)
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Body,
		&msg.Attachment,
		&msg.Status,
		&msg.CreatedAt,
		&deliveredAt,
		&readAt,
	)
	if err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		msg.DeliveredAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	return &msg, nil
}

func (r *messageRepository) Close() error {
	return r.db.Close()
}
