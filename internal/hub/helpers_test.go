package hub

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/repository"
	"github.com/tickchat/internal/service"
)

type fakeEndpoint struct {
	id string

	mu     sync.Mutex
	events []models.Event
	closed bool
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{id: uuid.NewString()}
}

func (e *fakeEndpoint) ID() string { return e.id }

func (e *fakeEndpoint) Enqueue(ev models.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.events = append(e.events, ev)
	return true
}

func (e *fakeEndpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *fakeEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEndpoint) all() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Event(nil), e.events...)
}

func (e *fakeEndpoint) ofType(t models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range e.all() {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

func (e *fakeEndpoint) presence() []*models.PresenceUpdateEvent {
	var out []*models.PresenceUpdateEvent
	for _, ev := range e.ofType(models.EventPresenceUpdate) {
		out = append(out, ev.(*models.PresenceUpdateEvent))
	}
	return out
}

func (e *fakeEndpoint) statuses() []*models.StatusUpdateEvent {
	var out []*models.StatusUpdateEvent
	for _, ev := range e.ofType(models.EventStatusUpdate) {
		out = append(out, ev.(*models.StatusUpdateEvent))
	}
	return out
}

func (e *fakeEndpoint) reset() {
	e.mu.Lock()
	e.events = nil
	e.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type testHub struct {
	*Hub
	clock  *fakeClock
	store  *repository.BoltStorage
	ctx    context.Context
	cancel context.CancelFunc
}

func newTestHub(t *testing.T, opts Options) *testHub {
	t.Helper()

	logger := zerolog.Nop()
	store, err := repository.NewBoltStorage(filepath.Join(t.TempDir(), "hub.db"), &logger)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	clock := newFakeClock()
	if opts.HeartbeatTimeout == 0 {
		opts.HeartbeatTimeout = 50 * time.Second
	}
	opts.Now = clock.Now

	svc := service.NewMessageService(store, service.MessageOptions{Now: clock.Now})
	h := NewHub(svc, store.Presence(), opts, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testHub{Hub: h, clock: clock, store: store, ctx: ctx, cancel: cancel}
}

func (th *testHub) identify(t *testing.T, userID, peerID models.UserID) (*Handle, *fakeEndpoint) {
	t.Helper()
	ep := newFakeEndpoint()
	h, err := th.Identify(th.ctx, ep, userID, peerID)
	require.NoError(t, err)
	return h, ep
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
	audiences   [][]Endpoint
}

func (o *recordingObserver) PresenceChanged(tr Transition, audience []Endpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, tr)
	o.audiences = append(o.audiences, audience)
}

func (o *recordingObserver) seen() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Transition(nil), o.transitions...)
}
