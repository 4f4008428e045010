package synckit

import (
	"encoding/json"

	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Normalize flattens resp into the order events are dispatched in:
//
//  1. presence
//  2. global account data
//  3. joined rooms, in response order: state, timeline, account data, ephemeral
//  4. left rooms: state, timeline, account data
//  5. invited rooms: stripped state
//  6. to-device
//
// Events within a section keep the server's array order. The result depends
// only on resp.
func Normalize(resp *types.SyncResponse) []types.Event {
	if resp == nil {
		return nil
	}
	out := make([]types.Event, 0, countEvents(resp))

	out = appendEvents(out, types.KindPresence, "", resp.Presence.Events)
	out = appendEvents(out, types.KindGlobalAccountData, "", resp.AccountData.Events)

	for _, room := range resp.Rooms.Join {
		out = appendEvents(out, types.KindRoomState, room.RoomID, room.State.Events)
		out = appendEvents(out, types.KindRoomMessage, room.RoomID, room.Timeline.Events)
		out = appendEvents(out, types.KindRoomAccountData, room.RoomID, room.AccountData.Events)
		out = appendEvents(out, types.KindEphemeral, room.RoomID, room.Ephemeral.Events)
	}
	for _, room := range resp.Rooms.Leave {
		out = appendEvents(out, types.KindRoomState, room.RoomID, room.State.Events)
		out = appendEvents(out, types.KindRoomMessage, room.RoomID, room.Timeline.Events)
		out = appendEvents(out, types.KindRoomAccountData, room.RoomID, room.AccountData.Events)
	}
	for _, room := range resp.Rooms.Invite {
		out = appendEvents(out, types.KindStrippedState, room.RoomID, room.InviteState.Events)
	}

	out = appendEvents(out, types.KindToDevice, "", resp.ToDevice.Events)
	return out
}

func appendEvents(out []types.Event, kind types.Kind, roomID string, raws []json.RawMessage) []types.Event {
	for _, raw := range raws {
		out = append(out, types.NewEvent(kind, roomID, raw))
	}
	return out
}

func countEvents(resp *types.SyncResponse) int {
	n := resp.Presence.Len() + resp.AccountData.Len() + resp.ToDevice.Len()
	for _, r := range resp.Rooms.Join {
		n += r.State.Len() + len(r.Timeline.Events) + r.AccountData.Len() + r.Ephemeral.Len()
	}
	for _, r := range resp.Rooms.Leave {
		n += r.State.Len() + len(r.Timeline.Events) + r.AccountData.Len()
	}
	for _, r := range resp.Rooms.Invite {
		n += r.InviteState.Len()
	}
	return n
}
