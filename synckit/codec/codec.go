// Package codec decodes /sync response bodies into types.SyncResponse.
//
// Room sections are JSON objects keyed by room ID. They are walked with gjson
// so the decoded slices keep the order in which the server listed the rooms.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// JSON is the default codec for /sync bodies. It is stateless and safe for
// concurrent use.
type JSON struct {
	// AllowEmptyNextBatch accepts bodies without a next_batch token.
	// The sync loop never sets it.
	AllowEmptyNextBatch bool
}

// New returns the default codec.
func New() *JSON {
	return &JSON{}
}

// Decode parses body. Malformed JSON, a missing next_batch or a section of
// the wrong shape yields a KindDecode error.
func (c *JSON) Decode(body []byte) (*types.SyncResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, decodeError("invalid JSON body", nil)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, decodeError("body is not a JSON object", nil)
	}

	next := root.Get("next_batch")
	if next.Type != gjson.String && next.Exists() {
		return nil, decodeError("next_batch is not a string", nil)
	}
	if next.String() == "" && !c.AllowEmptyNextBatch {
		return nil, decodeError("missing next_batch", nil)
	}

	resp := &types.SyncResponse{NextBatch: cursor.Token(next.String())}

	var err error
	if resp.Presence, err = eventList(root, "presence"); err != nil {
		return nil, err
	}
	if resp.AccountData, err = eventList(root, "account_data"); err != nil {
		return nil, err
	}
	if resp.ToDevice, err = eventList(root, "to_device"); err != nil {
		return nil, err
	}
	if resp.Rooms, err = decodeRooms(root.Get("rooms")); err != nil {
		return nil, err
	}
	if resp.DeviceLists, err = decodeDeviceLists(root.Get("device_lists")); err != nil {
		return nil, err
	}
	if resp.DeviceOneTimeKeysCount, err = decodeKeyCounts(root.Get("device_one_time_keys_count")); err != nil {
		return nil, err
	}
	if fb := root.Get("device_unused_fallback_key_types"); fb.Exists() {
		if resp.DeviceUnusedFallbackKeyTypes, err = stringArray(fb, "device_unused_fallback_key_types"); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func decodeRooms(rooms gjson.Result) (types.Rooms, error) {
	var out types.Rooms
	if !rooms.Exists() || rooms.Type == gjson.Null {
		return out, nil
	}
	if !rooms.IsObject() {
		return out, decodeError("rooms is not an object", nil)
	}

	var err error
	forEachRoom(rooms.Get("join"), "rooms.join", &err, func(id string, v gjson.Result) error {
		room := types.JoinedRoom{RoomID: id}
		var e error
		if room.State, e = eventList(v, "state"); e != nil {
			return e
		}
		if room.Timeline, e = timeline(v.Get("timeline")); e != nil {
			return e
		}
		if room.Ephemeral, e = eventList(v, "ephemeral"); e != nil {
			return e
		}
		if room.AccountData, e = eventList(v, "account_data"); e != nil {
			return e
		}
		room.Summary = summary(v.Get("summary"))
		room.UnreadNotifications = types.UnreadNotifications{
			HighlightCount:    int(v.Get("unread_notifications.highlight_count").Int()),
			NotificationCount: int(v.Get("unread_notifications.notification_count").Int()),
		}
		out.Join = append(out.Join, room)
		return nil
	})
	if err != nil {
		return out, err
	}

	forEachRoom(rooms.Get("leave"), "rooms.leave", &err, func(id string, v gjson.Result) error {
		room := types.LeftRoom{RoomID: id}
		var e error
		if room.State, e = eventList(v, "state"); e != nil {
			return e
		}
		if room.Timeline, e = timeline(v.Get("timeline")); e != nil {
			return e
		}
		if room.AccountData, e = eventList(v, "account_data"); e != nil {
			return e
		}
		out.Leave = append(out.Leave, room)
		return nil
	})
	if err != nil {
		return out, err
	}

	forEachRoom(rooms.Get("invite"), "rooms.invite", &err, func(id string, v gjson.Result) error {
		room := types.InvitedRoom{RoomID: id}
		var e error
		if room.InviteState, e = eventList(v, "invite_state"); e != nil {
			return e
		}
		out.Invite = append(out.Invite, room)
		return nil
	})
	return out, err
}

// forEachRoom walks a room map in document order and stops at the first
// error, which is stored in errp.
func forEachRoom(section gjson.Result, name string, errp *error, fn func(id string, v gjson.Result) error) {
	if !section.Exists() || section.Type == gjson.Null {
		return
	}
	if !section.IsObject() {
		*errp = decodeError(name+" is not an object", nil)
		return
	}
	section.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			*errp = decodeError(fmt.Sprintf("%s[%s] is not an object", name, key.String()), nil)
			return false
		}
		if err := fn(key.String(), value); err != nil {
			*errp = fmt.Errorf("room %s: %w", key.String(), err)
			return false
		}
		return true
	})
}

// eventList reads parent.<name>.events.
func eventList(parent gjson.Result, name string) (types.EventList, error) {
	section := parent.Get(name)
	if !section.Exists() || section.Type == gjson.Null {
		return types.EventList{}, nil
	}
	if !section.IsObject() {
		return types.EventList{}, decodeError(name+" is not an object", nil)
	}
	events, err := rawEvents(section.Get("events"), name+".events")
	return types.EventList{Events: events}, err
}

func timeline(section gjson.Result) (types.Timeline, error) {
	if !section.Exists() || section.Type == gjson.Null {
		return types.Timeline{}, nil
	}
	if !section.IsObject() {
		return types.Timeline{}, decodeError("timeline is not an object", nil)
	}
	events, err := rawEvents(section.Get("events"), "timeline.events")
	if err != nil {
		return types.Timeline{}, err
	}
	return types.Timeline{
		Events:    events,
		Limited:   section.Get("limited").Bool(),
		PrevBatch: section.Get("prev_batch").String(),
	}, nil
}

func rawEvents(arr gjson.Result, name string) ([]json.RawMessage, error) {
	if !arr.Exists() || arr.Type == gjson.Null {
		return nil, nil
	}
	if !arr.IsArray() {
		return nil, decodeError(name+" is not an array", nil)
	}
	var (
		out []json.RawMessage
		err error
	)
	arr.ForEach(func(_, ev gjson.Result) bool {
		if !ev.IsObject() {
			err = decodeError(name+" contains a non-object entry", nil)
			return false
		}
		out = append(out, json.RawMessage(ev.Raw))
		return true
	})
	return out, err
}

func summary(s gjson.Result) types.RoomSummary {
	var out types.RoomSummary
	if !s.IsObject() {
		return out
	}
	for _, h := range s.Get(`m\.heroes`).Array() {
		out.Heroes = append(out.Heroes, h.String())
	}
	if v := s.Get(`m\.joined_member_count`); v.Exists() {
		n := int(v.Int())
		out.JoinedMemberCount = &n
	}
	if v := s.Get(`m\.invited_member_count`); v.Exists() {
		n := int(v.Int())
		out.InvitedMemberCount = &n
	}
	return out
}

func decodeDeviceLists(dl gjson.Result) (types.DeviceLists, error) {
	var out types.DeviceLists
	if !dl.Exists() || dl.Type == gjson.Null {
		return out, nil
	}
	if !dl.IsObject() {
		return out, decodeError("device_lists is not an object", nil)
	}
	var err error
	if c := dl.Get("changed"); c.Exists() {
		if out.Changed, err = stringArray(c, "device_lists.changed"); err != nil {
			return out, err
		}
	}
	if l := dl.Get("left"); l.Exists() {
		if out.Left, err = stringArray(l, "device_lists.left"); err != nil {
			return out, err
		}
	}
	return out, nil
}

func decodeKeyCounts(counts gjson.Result) (map[string]int, error) {
	if !counts.Exists() || counts.Type == gjson.Null {
		return nil, nil
	}
	if !counts.IsObject() {
		return nil, decodeError("device_one_time_keys_count is not an object", nil)
	}
	out := make(map[string]int)
	var err error
	counts.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number {
			err = decodeError("device_one_time_keys_count."+key.String()+" is not a number", nil)
			return false
		}
		out[key.String()] = int(value.Int())
		return true
	})
	return out, err
}

func stringArray(arr gjson.Result, name string) ([]string, error) {
	if !arr.IsArray() {
		return nil, decodeError(name+" is not an array", nil)
	}
	out := []string{}
	var err error
	arr.ForEach(func(_, v gjson.Result) bool {
		if v.Type != gjson.String {
			err = decodeError(name+" contains a non-string entry", nil)
			return false
		}
		out = append(out, v.String())
		return true
	})
	return out, err
}

func decodeError(msg string, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("%s", msg)
	} else {
		cause = fmt.Errorf("%s: %w", msg, cause)
	}
	return syncErrors.E(syncErrors.OpDecode, syncErrors.Component("codec"), syncErrors.KindDecode, syncErrors.ErrCodeDecodeFailure, cause)
}
