package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/hub"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/service"
)

type State int

const (
	StateConnecting State = iota
	StateIdentified
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const defaultActionTimeout = 5 * time.Second

// Session runs the client protocol for one connection. Handle is called
// from the connection's read loop only, so actions are processed one at a
// time in arrival order.
type Session struct {
	hub      *hub.Hub
	endpoint hub.Endpoint
	authUser models.UserID
	timeout  time.Duration
	logger   *zerolog.Logger

	mu     sync.Mutex
	state  State
	handle *hub.Handle
	userID models.UserID
}

// NewSession creates a session for endpoint. authUser is the identity
// proven during the HTTP upgrade, or zero when the upgrade was anonymous.
func NewSession(h *hub.Hub, endpoint hub.Endpoint, authUser models.UserID, logger *zerolog.Logger) *Session {
	return &Session{
		hub:      h,
		endpoint: endpoint,
		authUser: authUser,
		timeout:  defaultActionTimeout,
		logger:   logger,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) UserID() models.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Handle decodes and runs one inbound frame. Failures are reported to this
// connection as error events; the connection stays open.
func (s *Session) Handle(ctx context.Context, data []byte) {
	var in models.InboundAction
	if err := json.Unmarshal(data, &in); err != nil {
		s.fail("", "", models.NewProtocolError(models.CodeMalformed, "invalid JSON: %v", err))
		return
	}

	if err := s.dispatch(ctx, &in); err != nil {
		s.fail(in.Action, in.CorrelationID, err)
	}
}

func (s *Session) dispatch(ctx context.Context, in *models.InboundAction) error {
	if in.Action == "" {
		return models.NewProtocolError(models.CodeMalformed, "missing action")
	}
	if !in.Action.Known() {
		return models.NewProtocolError(models.CodeUnknownAction, "unknown action %q", in.Action)
	}

	state := s.State()
	if state == StateClosed {
		return nil
	}
	if in.Action == models.ActionIdentify {
		return s.identify(ctx, in)
	}
	if state == StateConnecting {
		return models.NewProtocolError(models.CodeNotIdentified, "identify first")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch in.Action {
	case models.ActionSendMessage:
		_, err := s.hub.SendMessage(ctx, s.userID, in.ReceiverID, in.Body, in.Attachment, in.CorrelationID)
		return err

	case models.ActionReceiverConnected:
		if _, err := s.hub.ReceiverConnected(ctx, s.userID); err != nil {
			return err
		}
		s.setState(StateActive)
		return nil

	case models.ActionMarkRead:
		_, err := s.hub.MarkRead(ctx, s.userID, in.OtherUserID)
		return err

	case models.ActionHeartbeat:
		s.hub.Heartbeat(s.handle)
		return nil

	case models.ActionGetPresence:
		if !in.UserID.Valid() {
			return models.NewProtocolError(models.CodeInvalidRequest, "user_id is required")
		}
		p := s.hub.GetPresence(ctx, s.handle, in.UserID)
		s.endpoint.Enqueue(models.NewPresenceUpdateEvent(p))
		return nil

	case models.ActionOpenConversation:
		if !in.PeerID.Valid() {
			return models.NewProtocolError(models.CodeInvalidRequest, "peer_id is required")
		}
		s.hub.OpenConversation(ctx, s.handle, in.PeerID)
		return nil
	}
	return models.NewProtocolError(models.CodeUnknownAction, "unknown action %q", in.Action)
}

func (s *Session) identify(ctx context.Context, in *models.InboundAction) error {
	userID := in.UserID
	if s.authUser.Valid() {
		if userID == 0 {
			userID = s.authUser
		}
		if userID != s.authUser {
			return models.NewProtocolError(models.CodeIdentityMismatch, "user_id does not match the authenticated user")
		}
	}
	if !userID.Valid() {
		return models.NewProtocolError(models.CodeInvalidRequest, "user_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.State() != StateConnecting {
		if userID != s.userID {
			return models.NewProtocolError(models.CodeIdentityMismatch, "connection is already identified as %d", s.userID)
		}
		if err := s.hub.Reidentify(ctx, s.handle, in.PeerID); err != nil {
			return err
		}
		s.setState(StateActive)
		return nil
	}

	handle, err := s.hub.Identify(ctx, s.endpoint, userID, in.PeerID)

	s.mu.Lock()
	s.handle = handle
	s.userID = userID
	s.state = StateIdentified
	if err == nil {
		s.state = StateActive
	}
	s.mu.Unlock()

	return err
}

// Close unregisters the connection. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	handle := s.handle
	s.state = StateClosed
	s.mu.Unlock()

	if handle != nil {
		s.hub.Leave(handle)
	}
}

func (s *Session) fail(action models.Action, correlationID string, err error) {
	code, message := describe(err)
	if code == models.CodeStoreUnavailable || code == models.CodeInternal {
		s.logger.Error().Err(err).
			Int64("user_id", int64(s.UserID())).
			Str("action", string(action)).
			Msg("Action failed")
	} else {
		s.logger.Debug().Err(err).
			Int64("user_id", int64(s.UserID())).
			Str("action", string(action)).
			Msg("Rejected action")
	}
	s.endpoint.Enqueue(models.NewErrorEvent(code, message, action, correlationID))
}

func describe(err error) (code, message string) {
	var perr *models.ProtocolError
	switch {
	case errors.As(err, &perr):
		return perr.Code, perr.Message
	case errors.Is(err, service.ErrStoreUnavailable):
		return models.CodeStoreUnavailable, service.ErrStoreUnavailable.Error()
	case errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, service.ErrSelfMessage),
		errors.Is(err, service.ErrEmptyBody),
		errors.Is(err, service.ErrBodyTooLong),
		errors.Is(err, service.ErrNotFound):
		return models.CodeInvalidRequest, err.Error()
	}
	return models.CodeInternal, "internal error"
}

// Serve runs a connection until the socket closes or the hub drops it.
func Serve(ctx context.Context, conn wsConnection, h *hub.Hub, authUser models.UserID, opts ClientOptions, logger *zerolog.Logger) {
	client := NewClient(conn, opts, logger)
	session := NewSession(h, client, authUser, logger)

	go client.WritePump()
	client.ReadPump(ctx, session.Handle)

	session.Close()
	client.Close()
}
