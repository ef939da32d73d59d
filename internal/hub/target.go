package hub

import "github.com/tickchat/internal/models"

type targetKind int

const (
	targetUser targetKind = iota
	targetInterested
	targetBoth
)

// Target selects which live connections an event goes to.
type Target struct {
	kind  targetKind
	user  models.UserID
	other models.UserID
}

// ToUser targets every connection of one user.
func ToUser(userID models.UserID) Target {
	return Target{kind: targetUser, user: userID}
}

// InterestedIn targets connections whose user watches userID's presence.
// Presence transitions resolve the same audience inside the registry lock
// and do not go through Publish; this selector serves callers outside it.
func InterestedIn(userID models.UserID) Target {
	return Target{kind: targetInterested, user: userID}
}

// BothParties targets every connection of sender and receiver.
func BothParties(sender, receiver models.UserID) Target {
	return Target{kind: targetBoth, user: sender, other: receiver}
}
