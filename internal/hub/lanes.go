package hub

import (
	"sync"

	"github.com/tickchat/internal/models"
)

// lanes is a keyed mutex. Holding a receiver's lane serializes the store
// call and the publish for every message addressed to that receiver.
type lanes struct {
	mu sync.Mutex
	m  map[models.UserID]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func newLanes() *lanes {
	return &lanes{m: make(map[models.UserID]*lane)}
}

func (l *lanes) lock(receiver models.UserID) (unlock func()) {
	l.mu.Lock()
	ln, ok := l.m[receiver]
	if !ok {
		ln = &lane{}
		l.m[receiver] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
	return func() {
		ln.mu.Unlock()

		l.mu.Lock()
		ln.refs--
		if ln.refs == 0 {
			delete(l.m, receiver)
		}
		l.mu.Unlock()
	}
}

func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
