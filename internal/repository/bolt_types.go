package repository

import (
	"encoding"
	"encoding/binary"
	"time"

	"github.com/tickchat/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBMessage struct {
	ID          int64  `msgpack:"id"`
	SenderID    int64  `msgpack:"senderId"`
	ReceiverID  int64  `msgpack:"receiverId"`
	Content     string `msgpack:"content"`
	Attachment  string `msgpack:"attachment"`
	Status      string `msgpack:"status"`
	CreatedAt   int64  `msgpack:"createdAt"` // unix nanoseconds
	DeliveredAt int64  `msgpack:"deliveredAt"`
	ReadAt      int64  `msgpack:"readAt"`
}

func (m *DBMessage) Key() []byte {
	return idKey(m.ID)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func newDBMessage(m *models.Message) *DBMessage {
	return &DBMessage{
		ID:          m.ID,
		SenderID:    int64(m.SenderID),
		ReceiverID:  int64(m.ReceiverID),
		Content:     m.Body,
		Attachment:  m.Attachment,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt.UnixNano(),
		DeliveredAt: unixNanoOrZero(m.DeliveredAt),
		ReadAt:      unixNanoOrZero(m.ReadAt),
	}
}

func (m *DBMessage) toModel() *models.Message {
	return &models.Message{
		ID:          m.ID,
		SenderID:    models.UserID(m.SenderID),
		ReceiverID:  models.UserID(m.ReceiverID),
		Body:        m.Content,
		Attachment:  m.Attachment,
		Status:      models.MessageStatus(m.Status),
		CreatedAt:   time.Unix(0, m.CreatedAt).UTC(),
		DeliveredAt: timeOrNil(m.DeliveredAt),
		ReadAt:      timeOrNil(m.ReadAt),
	}
}

type DBPresence struct {
	UserID   int64 `msgpack:"userId"`
	LastSeen int64 `msgpack:"lastSeen"` // unix nanoseconds
}

func (p *DBPresence) Key() []byte {
	return idKey(p.UserID)
}

func (p *DBPresence) MarshalBinary() (data []byte, err error) {
	type alias DBPresence
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPresence) UnmarshalBinary(data []byte) error {
	type alias DBPresence
	return msgpack.Unmarshal(data, (*alias)(p))
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func unixNanoOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func timeOrNil(nanos int64) *time.Time {
	if nanos == 0 {
		return nil
	}
	t := time.Unix(0, nanos).UTC()
	return &t
}

var (
	_ Storeable = (*DBMessage)(nil)
	_ Storeable = (*DBPresence)(nil)
)
