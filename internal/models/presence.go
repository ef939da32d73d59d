package models

import "time"

// Presence is the derived online state of a user. LastSeen is set only
// while the user is offline and has been seen before.
type Presence struct {
	UserID   UserID     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
