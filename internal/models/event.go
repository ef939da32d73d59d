package models

import "time"

type Action string

const (
	ActionIdentify          Action = "identify"
	ActionSendMessage       Action = "send_message"
	ActionReceiverConnected Action = "receiver_connected"
	ActionMarkRead          Action = "mark_read"
	ActionHeartbeat         Action = "heartbeat"
	ActionGetPresence       Action = "get_presence"
	ActionOpenConversation  Action = "open_conversation"
)

func (a Action) Known() bool {
	switch a {
	case ActionIdentify, ActionSendMessage, ActionReceiverConnected, ActionMarkRead,
		ActionHeartbeat, ActionGetPresence, ActionOpenConversation:
		return true
	}
	return false
}

// InboundAction is a client request. Which fields are meaningful depends on
// Action.
type InboundAction struct {
	Action        Action `json:"action"`
	UserID        UserID `json:"user_id,omitempty"`
	PeerID        UserID `json:"peer_id,omitempty"`
	ReceiverID    UserID `json:"receiver_id,omitempty"`
	OtherUserID   UserID `json:"other_user_id,omitempty"`
	Body          string `json:"message,omitempty"`
	Attachment    string `json:"attachment,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type EventType string

const (
	EventChatMessage    EventType = "chat_message"
	EventStatusUpdate   EventType = "status_update"
	EventPresenceUpdate EventType = "presence_update"
	EventError          EventType = "error"
)

// Event is anything written to a client connection.
type Event interface {
	Type() EventType
}

type ChatMessageEvent struct {
	Event         EventType     `json:"event"`
	MessageID     int64         `json:"msg_id"`
	SenderID      UserID        `json:"sender_id"`
	ReceiverID    UserID        `json:"receiver_id"`
	Body          string        `json:"message"`
	Attachment    string        `json:"attachment,omitempty"`
	Status        MessageStatus `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

func (e *ChatMessageEvent) Type() EventType { return EventChatMessage }

func NewChatMessageEvent(msg *Message, correlationID string) *ChatMessageEvent {
	return &ChatMessageEvent{
		Event:         EventChatMessage,
		MessageID:     msg.ID,
		SenderID:      msg.SenderID,
		ReceiverID:    msg.ReceiverID,
		Body:          msg.Body,
		Attachment:    msg.Attachment,
		Status:        msg.Status,
		Timestamp:     msg.CreatedAt,
		CorrelationID: correlationID,
	}
}

type StatusUpdateEvent struct {
	Event      EventType     `json:"event"`
	MessageIDs []int64       `json:"message_ids"`
	Status     MessageStatus `json:"status"`
}

func (e *StatusUpdateEvent) Type() EventType { return EventStatusUpdate }

func NewStatusUpdateEvent(ids []int64, status MessageStatus) *StatusUpdateEvent {
	return &StatusUpdateEvent{Event: EventStatusUpdate, MessageIDs: ids, Status: status}
}

type PresenceUpdateEvent struct {
	Event    EventType  `json:"event"`
	UserID   UserID     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (e *PresenceUpdateEvent) Type() EventType { return EventPresenceUpdate }

func NewPresenceUpdateEvent(p Presence) *PresenceUpdateEvent {
	return &PresenceUpdateEvent{
		Event:    EventPresenceUpdate,
		UserID:   p.UserID,
		IsOnline: p.IsOnline,
		LastSeen: p.LastSeen,
	}
}

type ErrorEvent struct {
	Event         EventType `json:"event"`
	Code          string    `json:"code"`
	Error         string    `json:"error"`
	Action        Action    `json:"action,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e *ErrorEvent) Type() EventType { return EventError }

func NewErrorEvent(code, message string, action Action, correlationID string) *ErrorEvent {
	return &ErrorEvent{
		Event:         EventError,
		Code:          code,
		Error:         message,
		Action:        action,
		CorrelationID: correlationID,
	}
}
