package types

import (
	"encoding/json"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
)

// SyncResponse is a decoded /sync response body.
type SyncResponse struct {
	NextBatch              cursor.Token
	Presence               EventList
	AccountData            EventList
	Rooms                  Rooms
	ToDevice               EventList
	DeviceLists            DeviceLists
	DeviceOneTimeKeysCount map[string]int
	// DeviceUnusedFallbackKeyTypes is nil when the server omitted the field.
	DeviceUnusedFallbackKeyTypes []string
}

// EventList is a `{ "events": [...] }` section.
type EventList struct {
	Events []json.RawMessage
}

// Len returns the number of events.
func (l EventList) Len() int { return len(l.Events) }

// Rooms holds the per-membership room sections. Each slice keeps the order
// in which the server listed the rooms.
type Rooms struct {
	Join   JoinedRooms
	Leave  LeftRooms
	Invite InvitedRooms
}

// Timeline is a room's timeline section.
type Timeline struct {
	Events    []json.RawMessage
	Limited   bool
	PrevBatch string
}

// RoomSummary is the optional summary of a joined room.
type RoomSummary struct {
	Heroes             []string
	JoinedMemberCount  *int
	InvitedMemberCount *int
}

// UnreadNotifications holds highlight and notification counts.
type UnreadNotifications struct {
	HighlightCount    int
	NotificationCount int
}

// JoinedRoom is the delta for a room the user is joined to.
type JoinedRoom struct {
	RoomID              string
	State               EventList
	Timeline            Timeline
	Ephemeral           EventList
	AccountData         EventList
	Summary             RoomSummary
	UnreadNotifications UnreadNotifications
}

// LeftRoom is the delta for a room the user left or was removed from.
type LeftRoom struct {
	RoomID      string
	State       EventList
	Timeline    Timeline
	AccountData EventList
}

// InvitedRoom carries the stripped state of a pending invite.
type InvitedRoom struct {
	RoomID      string
	InviteState EventList
}

// JoinedRooms is an ordered list of joined room deltas.
type JoinedRooms []JoinedRoom

// Len returns the number of rooms.
func (r JoinedRooms) Len() int { return len(r) }

// Get returns the delta for roomID.
func (r JoinedRooms) Get(roomID string) (JoinedRoom, bool) {
	for _, room := range r {
		if room.RoomID == roomID {
			return room, true
		}
	}
	return JoinedRoom{}, false
}

// LeftRooms is an ordered list of left room deltas.
type LeftRooms []LeftRoom

// Len returns the number of rooms.
func (r LeftRooms) Len() int { return len(r) }

// Get returns the delta for roomID.
func (r LeftRooms) Get(roomID string) (LeftRoom, bool) {
	for _, room := range r {
		if room.RoomID == roomID {
			return room, true
		}
	}
	return LeftRoom{}, false
}

// InvitedRooms is an ordered list of invites.
type InvitedRooms []InvitedRoom

// Len returns the number of rooms.
func (r InvitedRooms) Len() int { return len(r) }

// Get returns the invite for roomID.
func (r InvitedRooms) Get(roomID string) (InvitedRoom, bool) {
	for _, room := range r {
		if room.RoomID == roomID {
			return room, true
		}
	}
	return InvitedRoom{}, false
}

// DeviceLists lists users whose device keys changed or who no longer share
// an encrypted room.
type DeviceLists struct {
	Changed []string
	Left    []string
}
