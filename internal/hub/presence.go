package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/repository"
)

const (
	defaultPersistQueue = 1024
	persistTimeout      = 5 * time.Second
)

type lastSeenRecord struct {
	userID models.UserID
	at     time.Time
}

// Presence turns registry transitions into presence_update events and keeps
// the last_seen time of every user who went offline.
type Presence struct {
	registry    *Registry
	broadcaster *Broadcaster
	store       repository.PresenceRepository
	logger      *zerolog.Logger

	mu       sync.Mutex
	lastSeen map[models.UserID]time.Time

	persist chan lastSeenRecord
}

// NewPresence registers itself as the registry's transition observer. store
// may be nil, in which case last_seen lives in memory only.
func NewPresence(registry *Registry, broadcaster *Broadcaster, store repository.PresenceRepository, logger *zerolog.Logger) *Presence {
	p := &Presence{
		registry:    registry,
		broadcaster: broadcaster,
		store:       store,
		logger:      logger,
		lastSeen:    make(map[models.UserID]time.Time),
		persist:     make(chan lastSeenRecord, defaultPersistQueue),
	}
	registry.SetObserver(p)
	return p
}

// PresenceChanged runs under the registry lock.
func (p *Presence) PresenceChanged(tr Transition, audience []Endpoint) {
	state := models.Presence{UserID: tr.UserID, IsOnline: tr.Online}
	if !tr.Online {
		at := tr.At
		state.LastSeen = &at

		p.mu.Lock()
		p.lastSeen[tr.UserID] = at
		p.mu.Unlock()

		p.enqueuePersist(lastSeenRecord{userID: tr.UserID, at: at})
	}

	p.logger.Debug().
		Int64("user_id", int64(tr.UserID)).
		Bool("is_online", tr.Online).
		Int("audience", len(audience)).
		Msg("Presence changed")

	p.broadcaster.Deliver(audience, models.NewPresenceUpdateEvent(state))
}

func (p *Presence) enqueuePersist(rec lastSeenRecord) {
	if p.store == nil {
		return
	}
	select {
	case p.persist <- rec:
	default:
		p.logger.Warn().Int64("user_id", int64(rec.userID)).Msg("Last seen persist queue full, dropping write")
	}
}

// Snapshot returns the current presence of a user. Online state comes from
// the registry; last_seen from memory, then from the store.
func (p *Presence) Snapshot(ctx context.Context, userID models.UserID) models.Presence {
	if p.registry.IsOnline(userID) {
		return models.Presence{UserID: userID, IsOnline: true}
	}

	state := models.Presence{UserID: userID}

	p.mu.Lock()
	at, ok := p.lastSeen[userID]
	p.mu.Unlock()
	if ok {
		state.LastSeen = &at
		return state
	}

	if p.store == nil {
		return state
	}
	at, ok, err := p.store.LastSeen(ctx, userID)
	if err != nil {
		p.logger.Error().Err(err).Int64("user_id", int64(userID)).Msg("Failed to load last seen")
		return state
	}
	if ok {
		p.mu.Lock()
		if _, seen := p.lastSeen[userID]; !seen {
			p.lastSeen[userID] = at
		}
		p.mu.Unlock()
		state.LastSeen = &at
	}
	return state
}

// Run drains the persist queue until ctx is done, then flushes what is left.
func (p *Presence) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case rec := <-p.persist:
			p.save(ctx, rec)
		}
	}
}

func (p *Presence) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for {
		select {
		case rec := <-p.persist:
			p.save(ctx, rec)
		default:
			return
		}
	}
}

func (p *Presence) save(ctx context.Context, rec lastSeenRecord) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := p.store.SaveLastSeen(ctx, rec.userID, rec.at); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error().Err(err).Int64("user_id", int64(rec.userID)).Msg("Failed to persist last seen")
	}
}

// MarkAllOffline records last_seen for users synchronously. Used on
// shutdown, when the persist queue may no longer be drained.
func (p *Presence) MarkAllOffline(ctx context.Context, users []models.UserID, at time.Time) {
	p.mu.Lock()
	for _, u := range users {
		p.lastSeen[u] = at
	}
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	p.flush()
	for _, u := range users {
		p.save(ctx, lastSeenRecord{userID: u, at: at})
	}
	p.logger.Info().Int("users", len(users)).Msg("All users marked offline")
}
