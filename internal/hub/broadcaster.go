package hub

import (
	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
)

type resolver interface {
	Resolve(t Target) []Endpoint
}

// Broadcaster fans events out to live connections.
type Broadcaster struct {
	resolver resolver
	logger   *zerolog.Logger
}

func NewBroadcaster(r resolver, logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{resolver: r, logger: logger}
}

// Publish resolves t and delivers ev. It returns how many connections
// accepted the event; zero is not an error.
func (b *Broadcaster) Publish(ev models.Event, t Target) int {
	return b.Deliver(b.resolver.Resolve(t), ev)
}

// Deliver enqueues ev on every endpoint. It never touches the registry, so it
// is safe to call while the registry lock is held.
func (b *Broadcaster) Deliver(endpoints []Endpoint, ev models.Event) int {
	n := 0
	for _, ep := range endpoints {
		if ep.Enqueue(ev) {
			n++
			continue
		}
		b.logger.Debug().Str("conn_id", ep.ID()).Str("event", string(ev.Type())).Msg("Event not accepted by connection")
	}
	return n
}
