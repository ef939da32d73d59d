package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tickchat/internal/models"
)

type InterestScope string

const (
	// InterestViewing: a connection watches only its current partner.
	InterestViewing InterestScope = "viewing"
	// InterestLoaded: a connection watches every partner it ever opened.
	InterestLoaded InterestScope = "loaded"
	// InterestAll: every connected user watches everybody.
	InterestAll InterestScope = "all"
)

func (s InterestScope) Valid() bool {
	switch s {
	case InterestViewing, InterestLoaded, InterestAll:
		return true
	}
	return false
}

// Handle is one registered connection.
type Handle struct {
	id        string
	userID    models.UserID
	endpoint  Endpoint
	createdAt time.Time

	// guarded by Registry.mu
	lastBeat time.Time
	peers    map[models.UserID]struct{}
	removed  bool
}

func (h *Handle) ID() string { return h.id }
func (h *Handle) UserID() models.UserID { return h.userID }
func (h *Handle) Endpoint() Endpoint { return h.endpoint }
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Transition is a user going online or offline.
type Transition struct {
	UserID models.UserID
	Online bool
	At     time.Time
}

// TransitionObserver is called with the registry lock held, in mutation
// order, with the audience already resolved. It must not call back into the
// registry and must not block.
type TransitionObserver interface {
	PresenceChanged(tr Transition, audience []Endpoint)
}

type RegistryOptions struct {
	HeartbeatTimeout time.Duration
	Interest         InterestScope
	Now              func() time.Time
}

// Registry maps users to their live connections. It is the only source of
// truth for "is this user online".
type Registry struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	byUser   map[models.UserID]map[string]*Handle
	interest map[models.UserID]map[string]*Handle // watched user -> watchers

	timeout  time.Duration
	scope    InterestScope
	now      func() time.Time
	observer TransitionObserver
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 50 * time.Second
	}
	if !opts.Interest.Valid() {
		opts.Interest = InterestViewing
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		handles:  make(map[string]*Handle),
		byUser:   make(map[models.UserID]map[string]*Handle),
		interest: make(map[models.UserID]map[string]*Handle),
		timeout:  opts.HeartbeatTimeout,
		scope:    opts.Interest,
		now:      opts.Now,
	}
}

// SetObserver must be called before the registry is shared.
func (r *Registry) SetObserver(o TransitionObserver) {
	r.observer = o
}

// Register adds a connection. The user's first connection fires an online
// transition; further connections fire nothing.
func (r *Registry) Register(userID models.UserID, endpoint Endpoint) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	h := &Handle{
		id:        uuid.NewString(),
		userID:    userID,
		endpoint:  endpoint,
		createdAt: now,
		lastBeat:  now,
		peers:     make(map[models.UserID]struct{}),
	}
	r.handles[h.id] = h

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*Handle)
		r.byUser[userID] = conns
	}
	conns[h.id] = h

	if len(conns) == 1 {
		r.notifyLocked(Transition{UserID: userID, Online: true, At: now})
	}
	return h
}

// Unregister removes a connection. It reports false if the handle was
// already gone.
func (r *Registry) Unregister(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(h, r.now())
}

func (r *Registry) unregisterLocked(h *Handle, at time.Time) bool {
	if h == nil || h.removed {
		return false
	}
	h.removed = true
	delete(r.handles, h.id)

	for peer := range h.peers {
		r.unwatchLocked(h, peer)
	}

	conns := r.byUser[h.userID]
	delete(conns, h.id)
	if len(conns) == 0 {
		delete(r.byUser, h.userID)
		r.notifyLocked(Transition{UserID: h.userID, Online: false, At: at})
	}
	return true
}

// Registered reports whether h is still live.
func (r *Registry) Registered(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return h != nil && !h.removed
}

// Touch records a heartbeat for h.
func (r *Registry) Touch(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !h.removed {
		h.lastBeat = r.now()
	}
}

// Sweep force-unregisters every connection whose heartbeat deadline has
// passed and closes its endpoint.
func (r *Registry) Sweep(now time.Time) []*Handle {
	r.mu.Lock()
	var expired []*Handle
	for _, h := range r.handles {
		if now.Sub(h.lastBeat) >= r.timeout {
			expired = append(expired, h)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].lastBeat.Before(expired[j].lastBeat)
	})
	for _, h := range expired {
		r.unregisterLocked(h, now)
	}
	r.mu.Unlock()

	for _, h := range expired {
		h.endpoint.Close()
	}
	return expired
}

// SetInterest declares that h is looking at a conversation with peer.
func (r *Registry) SetInterest(h *Handle, peer models.UserID) {
	if !peer.Valid() || peer == h.userID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h.removed {
		return
	}

	if r.scope == InterestViewing {
		for old := range h.peers {
			if old != peer {
				r.unwatchLocked(h, old)
			}
		}
	}
	h.peers[peer] = struct{}{}
	watchers, ok := r.interest[peer]
	if !ok {
		watchers = make(map[string]*Handle)
		r.interest[peer] = watchers
	}
	watchers[h.id] = h
}

func (r *Registry) unwatchLocked(h *Handle, peer models.UserID) {
	delete(h.peers, peer)
	if watchers, ok := r.interest[peer]; ok {
		delete(watchers, h.id)
		if len(watchers) == 0 {
			delete(r.interest, peer)
		}
	}
}

func (r *Registry) IsOnline(userID models.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) ConnectionsOf(userID models.UserID) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Handle, 0, len(r.byUser[userID]))
	for _, h := range r.byUser[userID] {
		conns = append(conns, h)
	}
	return conns
}

// All returns every registered connection.
func (r *Registry) All() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		conns = append(conns, h)
	}
	return conns
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Resolve returns the endpoints a target currently covers.
func (r *Registry) Resolve(t Target) []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch t.kind {
	case targetUser:
		return endpointsOf(r.byUser[t.user])
	case targetInterested:
		return r.audienceLocked(t.user)
	case targetBoth:
		eps := endpointsOf(r.byUser[t.user])
		if t.other != t.user {
			eps = append(eps, endpointsOf(r.byUser[t.other])...)
		}
		return eps
	}
	return nil
}

func (r *Registry) audienceLocked(userID models.UserID) []Endpoint {
	if r.scope == InterestAll {
		var eps []Endpoint
		for _, h := range r.handles {
			if h.userID != userID {
				eps = append(eps, h.endpoint)
			}
		}
		return eps
	}

	var eps []Endpoint
	for _, h := range r.interest[userID] {
		if h.userID != userID {
			eps = append(eps, h.endpoint)
		}
	}
	return eps
}

func (r *Registry) notifyLocked(tr Transition) {
	if r.observer == nil {
		return
	}
	r.observer.PresenceChanged(tr, r.audienceLocked(tr.UserID))
}

func endpointsOf(conns map[string]*Handle) []Endpoint {
	eps := make([]Endpoint, 0, len(conns))
	for _, h := range conns {
		eps = append(eps, h.endpoint)
	}
	return eps
}
