package hub

import "github.com/tickchat/internal/models"

// Endpoint is the outbound half of one live connection.
type Endpoint interface {
	ID() string
	// Enqueue appends ev to the connection's ordered outbound stream. It
	// must not block; false means the event was not accepted.
	Enqueue(ev models.Event) bool
	Close()
}
