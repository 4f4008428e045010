// Package types contains shared types used across the synckit ecosystem.
// This package exists to prevent import cycles between synckit and its subpackages.
package types

import (
	"time"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
)

// Presence is the set_presence value sent with a sync request.
type Presence string

const (
	PresenceNone        Presence = ""
	PresenceOnline      Presence = "online"
	PresenceOffline     Presence = "offline"
	PresenceUnavailable Presence = "unavailable"
)

// Valid reports whether p is empty or one of the protocol values.
func (p Presence) Valid() bool {
	switch p {
	case PresenceNone, PresenceOnline, PresenceOffline, PresenceUnavailable:
		return true
	}
	return false
}

// SyncRequest is one long-poll request. It is built fresh for every cycle.
type SyncRequest struct {
	Since       cursor.Token
	Filter      string
	FullState   bool
	SetPresence Presence
	Timeout     time.Duration
}
