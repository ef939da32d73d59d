package models

import "time"

// UserID identifies a user. Zero means "not set".
type UserID int64

func (id UserID) Valid() bool {
	return id > 0
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses: sent < delivered < read. Unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

type Message struct {
	ID          int64         `json:"msg_id"`
	SenderID    UserID        `json:"sender_id"`
	ReceiverID  UserID        `json:"receiver_id"`
	Body        string        `json:"message"`
	Attachment  string        `json:"attachment,omitempty"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"timestamp"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
}

// StatusChange is a single message that a conditional update actually moved.
type StatusChange struct {
	ID         int64
	SenderID   UserID
	ReceiverID UserID
}

// ChangeSet is the result of a bulk status update, ordered by message id.
type ChangeSet []StatusChange

func (cs ChangeSet) IDs() []int64 {
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

// BySender groups changed message ids by the user who sent them.
func (cs ChangeSet) BySender() map[UserID][]int64 {
	grouped := make(map[UserID][]int64)
	for _, c := range cs {
		grouped[c.SenderID] = append(grouped[c.SenderID], c.ID)
	}
	return grouped
}
