package types

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Kind is the dispatch discriminator of a normalized event.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPresence
	KindGlobalAccountData
	KindRoomState
	KindRoomMessage
	KindRoomAccountData
	KindEphemeral
	KindStrippedState
	KindToDevice
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindPresence:          "presence",
	KindGlobalAccountData: "global_account_data",
	KindRoomState:         "room_state",
	KindRoomMessage:       "room_message",
	KindRoomAccountData:   "room_account_data",
	KindEphemeral:         "ephemeral",
	KindStrippedState:     "stripped_state",
	KindToDevice:          "to_device",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a kind name back to a Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name && k != KindUnknown {
			return k, true
		}
	}
	return KindUnknown, false
}

// Event is one normalized protocol event. Which fields are set depends on
// Kind: RoomID is empty for presence, global account data and to-device
// events; EventID and OriginServerTS are only present on timeline and state
// events. Content is left undecoded.
type Event struct {
	Kind           Kind
	RoomID         string
	Type           string
	EventID        string
	Sender         string
	StateKey       *string
	OriginServerTS int64
	Content        json.RawMessage
	Raw            json.RawMessage
}

// NewEvent builds an Event of the given kind from a raw client event.
func NewEvent(kind Kind, roomID string, raw json.RawMessage) Event {
	fields := gjson.GetManyBytes(raw, "type", "event_id", "sender", "state_key", "origin_server_ts", "content")
	ev := Event{
		Kind:           kind,
		RoomID:         roomID,
		Type:           fields[0].String(),
		EventID:        fields[1].String(),
		Sender:         fields[2].String(),
		OriginServerTS: fields[4].Int(),
		Raw:            raw,
	}
	if fields[3].Exists() {
		sk := fields[3].String()
		ev.StateKey = &sk
	}
	if fields[5].Exists() {
		ev.Content = json.RawMessage(fields[5].Raw)
	}
	return ev
}

// IsState reports whether the event carries a state key. Timeline events
// may be state events too.
func (e Event) IsState() bool { return e.StateKey != nil }

// Timestamp converts OriginServerTS to a time.Time. Zero when absent.
func (e Event) Timestamp() time.Time {
	if e.OriginServerTS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.OriginServerTS)
}

// ContentField reads a single field of the content by gjson path, e.g.
// "msgtype" or "m\\.relates_to.rel_type".
func (e Event) ContentField(path string) gjson.Result {
	return gjson.GetBytes(e.Content, path)
}
