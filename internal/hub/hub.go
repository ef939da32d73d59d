package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/repository"
	"github.com/tickchat/internal/service"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	Interest         InterestScope
	// AutoDeliver runs the delivered pass right after a send when the
	// receiver already has a live connection.
	AutoDeliver bool
	Now         func() time.Time
}

// Hub ties the registry, presence tracking and the delivery state machine
// together and publishes the resulting events.
type Hub struct {
	registry    *Registry
	presence    *Presence
	broadcaster *Broadcaster
	messages    service.MessageService
	lanes       *lanes

	opts   Options
	logger *zerolog.Logger
}

func NewHub(messages service.MessageService, presenceStore repository.PresenceRepository, opts Options, logger *zerolog.Logger) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}

	registry := NewRegistry(RegistryOptions{
		HeartbeatTimeout: opts.HeartbeatTimeout,
		Interest:         opts.Interest,
		Now:              opts.Now,
	})
	broadcaster := NewBroadcaster(registry, logger)
	presence := NewPresence(registry, broadcaster, presenceStore, logger)

	return &Hub{
		registry:    registry,
		presence:    presence,
		broadcaster: broadcaster,
		messages:    messages,
		lanes:       newLanes(),
		opts:        opts,
		logger:      logger,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Messages() service.MessageService { return h.messages }

// Run sweeps silent connections and persists last_seen until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.presence.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				h.Sweep(h.opts.Now())
			}
		}
	})
	return g.Wait()
}

// Sweep closes connections whose heartbeat deadline passed at now.
func (h *Hub) Sweep(now time.Time) int {
	expired := h.registry.Sweep(now)
	for _, handle := range expired {
		h.logger.Info().
			Str("conn_id", handle.ID()).
			Int64("user_id", int64(handle.UserID())).
			Msg("Connection missed heartbeat deadline")
	}
	return len(expired)
}

// Identify registers a connection for userID, declares interest in peerID
// when given, and runs the delivered pass for the user. The returned handle
// is valid even when the delivered pass fails.
func (h *Hub) Identify(ctx context.Context, endpoint Endpoint, userID, peerID models.UserID) (*Handle, error) {
	handle := h.registry.Register(userID, endpoint)
	h.logger.Info().
		Str("conn_id", handle.ID()).
		Int64("user_id", int64(userID)).
		Msg("Client identified")

	if peerID.Valid() {
		h.OpenConversation(ctx, handle, peerID)
	}

	_, err := h.ReceiverConnected(ctx, userID)
	return handle, err
}

// Reidentify handles a repeated identify on an already registered handle.
// A handle the sweeper already removed cannot receive events, so nothing is
// marked delivered on its behalf.
func (h *Hub) Reidentify(ctx context.Context, handle *Handle, peerID models.UserID) error {
	if !h.registry.Registered(handle) {
		return nil
	}
	if peerID.Valid() {
		h.OpenConversation(ctx, handle, peerID)
	}
	_, err := h.ReceiverConnected(ctx, handle.UserID())
	return err
}

// Leave unregisters a connection. Safe to call more than once.
func (h *Hub) Leave(handle *Handle) {
	if h.registry.Unregister(handle) {
		h.logger.Info().
			Str("conn_id", handle.ID()).
			Int64("user_id", int64(handle.UserID())).
			Msg("Client left")
	}
}

func (h *Hub) Heartbeat(handle *Handle) {
	h.registry.Touch(handle)
}

// SendMessage stores a new message and publishes it to every connection of
// both parties.
func (h *Hub) SendMessage(ctx context.Context, senderID, receiverID models.UserID, body, attachment, correlationID string) (*models.Message, error) {
	unlock := h.lanes.lock(receiverID)
	defer unlock()

	msg, err := h.messages.CreateMessage(ctx, senderID, receiverID, body, attachment)
	if err != nil {
		return nil, err
	}

	h.broadcaster.Publish(models.NewChatMessageEvent(msg, correlationID), BothParties(senderID, receiverID))

	if h.opts.AutoDeliver && h.registry.IsOnline(receiverID) {
		if _, err := h.deliverLocked(ctx, receiverID); err != nil {
			h.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Auto delivery failed")
		}
	}
	return msg, nil
}

// ReceiverConnected marks everything pending for receiverID as delivered and
// tells each sender which of their messages moved.
func (h *Hub) ReceiverConnected(ctx context.Context, receiverID models.UserID) (models.ChangeSet, error) {
	unlock := h.lanes.lock(receiverID)
	defer unlock()
	return h.deliverLocked(ctx, receiverID)
}

func (h *Hub) deliverLocked(ctx context.Context, receiverID models.UserID) (models.ChangeSet, error) {
	changes, err := h.messages.MarkDelivered(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	for senderID, ids := range changes.BySender() {
		h.broadcaster.Publish(models.NewStatusUpdateEvent(ids, models.StatusDelivered), ToUser(senderID))
	}
	return changes, nil
}

// MarkRead marks otherUserID's messages to readerID as read and notifies
// otherUserID. Nothing is published when nothing changed.
func (h *Hub) MarkRead(ctx context.Context, readerID, otherUserID models.UserID) (models.ChangeSet, error) {
	unlock := h.lanes.lock(readerID)
	defer unlock()

	changes, err := h.messages.MarkRead(ctx, readerID, otherUserID)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		h.broadcaster.Publish(models.NewStatusUpdateEvent(changes.IDs(), models.StatusRead), ToUser(otherUserID))
	}
	return changes, nil
}

// Presence returns a snapshot without declaring interest. Used by HTTP.
func (h *Hub) Presence(ctx context.Context, userID models.UserID) models.Presence {
	return h.presence.Snapshot(ctx, userID)
}

// GetPresence declares interest in userID and returns its snapshot.
func (h *Hub) GetPresence(ctx context.Context, handle *Handle, userID models.UserID) models.Presence {
	h.registry.SetInterest(handle, userID)
	return h.presence.Snapshot(ctx, userID)
}

// OpenConversation declares peerID as the partner handle is looking at and
// sends it the peer's current presence.
func (h *Hub) OpenConversation(ctx context.Context, handle *Handle, peerID models.UserID) {
	h.registry.SetInterest(handle, peerID)
	handle.Endpoint().Enqueue(models.NewPresenceUpdateEvent(h.presence.Snapshot(ctx, peerID)))
}

// Shutdown closes every connection and records last_seen for everyone who
// was online.
func (h *Hub) Shutdown(ctx context.Context) {
	handles := h.registry.All()
	online := make(map[models.UserID]struct{})
	for _, handle := range handles {
		online[handle.UserID()] = struct{}{}
		h.registry.Unregister(handle)
		handle.Endpoint().Close()
	}

	users := make([]models.UserID, 0, len(online))
	for u := range online {
		users = append(users, u)
	}
	h.presence.MarkAllOffline(ctx, users, h.opts.Now())
	h.logger.Info().Int("connections", len(handles)).Msg("Hub shut down")
}
