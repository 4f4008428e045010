package codec

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	body, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return body
}

func TestDecode_Fixture(t *testing.T) {
	resp, err := New().Decode(loadFixture(t, "sync_response.json"))
	require.NoError(t, err)

	assert.Equal(t, cursor.Token("s72595_4483_1934"), resp.NextBatch)
	assert.Equal(t, 1, resp.Presence.Len())
	assert.Equal(t, 1, resp.AccountData.Len())
	assert.Equal(t, 1, resp.Rooms.Join.Len())
	assert.Equal(t, 1, resp.Rooms.Invite.Len())
	assert.Equal(t, 0, resp.Rooms.Leave.Len())
	assert.Equal(t, 0, resp.ToDevice.Len())

	room, ok := resp.Rooms.Join.Get("!726s6s6q:example.com")
	require.True(t, ok)
	assert.Equal(t, 1, room.State.Len())
	assert.Len(t, room.Timeline.Events, 1)
	assert.True(t, room.Timeline.Limited)
	assert.Equal(t, "t34-23535_0_0", room.Timeline.PrevBatch)
	assert.Equal(t, 1, room.Ephemeral.Len())
	assert.Equal(t, 1, room.AccountData.Len())
	assert.Equal(t, []string{"@alice:example.com", "@bob:example.com"}, room.Summary.Heroes)
	require.NotNil(t, room.Summary.JoinedMemberCount)
	assert.Equal(t, 2, *room.Summary.JoinedMemberCount)
	assert.Equal(t, 5, room.UnreadNotifications.NotificationCount)
	assert.Equal(t, 1, room.UnreadNotifications.HighlightCount)

	invite, ok := resp.Rooms.Invite.Get("!696r7674:example.com")
	require.True(t, ok)
	assert.Equal(t, 1, invite.InviteState.Len())

	assert.Equal(t, []string{"@alice:example.com"}, resp.DeviceLists.Changed)
	assert.Equal(t, []string{"@bob:example.com"}, resp.DeviceLists.Left)
	assert.Equal(t, map[string]int{"signed_curve25519": 20}, resp.DeviceOneTimeKeysCount)
	assert.Nil(t, resp.DeviceUnusedFallbackKeyTypes)
}

func TestDecode_KeepsRoomOrder(t *testing.T) {
	body := []byte(`{
		"next_batch": "s1",
		"rooms": {
			"join": {"!z:x": {}, "!a:x": {}, "!m:x": {}},
			"leave": {"!y:x": {}, "!b:x": {}}
		}
	}`)
	resp, err := New().Decode(body)
	require.NoError(t, err)

	var joined []string
	for _, r := range resp.Rooms.Join {
		joined = append(joined, r.RoomID)
	}
	assert.Equal(t, []string{"!z:x", "!a:x", "!m:x"}, joined)
	assert.Equal(t, "!y:x", resp.Rooms.Leave[0].RoomID)
	assert.Equal(t, "!b:x", resp.Rooms.Leave[1].RoomID)
}

func TestDecode_MinimalBody(t *testing.T) {
	resp, err := New().Decode([]byte(`{"next_batch":"s2"}`))
	require.NoError(t, err)
	assert.Equal(t, cursor.Token("s2"), resp.NextBatch)
	assert.Equal(t, 0, resp.Rooms.Join.Len())
	assert.Nil(t, resp.DeviceOneTimeKeysCount)
}

func TestDecode_EmptyFallbackKeysIsNotNil(t *testing.T) {
	resp, err := New().Decode([]byte(`{"next_batch":"s2","device_unused_fallback_key_types":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, resp.DeviceUnusedFallbackKeyTypes)
	assert.Empty(t, resp.DeviceUnusedFallbackKeyTypes)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"next_batch":`},
		{"array body", `["s1"]`},
		{"missing next_batch", `{"presence":{"events":[]}}`},
		{"numeric next_batch", `{"next_batch":12}`},
		{"events not array", `{"next_batch":"s1","presence":{"events":{}}}`},
		{"event not object", `{"next_batch":"s1","to_device":{"events":[1]}}`},
		{"rooms not object", `{"next_batch":"s1","rooms":[]}`},
		{"room not object", `{"next_batch":"s1","rooms":{"join":{"!a:x":true}}}`},
		{"bad timeline", `{"next_batch":"s1","rooms":{"leave":{"!a:x":{"timeline":{"events":"x"}}}}}`},
		{"bad key count", `{"next_batch":"s1","device_one_time_keys_count":{"k":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Decode([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, syncErrors.Is(err, syncErrors.KindDecode), "kind = %q", syncErrors.KindOf(err))
			assert.True(t, syncErrors.IsRetryable(err))
		})
	}
}

func TestDecode_AllowEmptyNextBatch(t *testing.T) {
	c := &JSON{AllowEmptyNextBatch: true}
	resp, err := c.Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, resp.NextBatch.IsZero())
}
