package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	"github.com/c0deZ3R0/go-matrix-sync/storage/postgres"
	"github.com/c0deZ3R0/go-matrix-sync/synckit"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

func TestExitError(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := NewExitError(ExitCommandError, "bad flags")
		assert.Equal(t, "bad flags", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("wrapped", func(t *testing.T) {
		inner := errors.New("connection refused")
		err := WrapExitError(ExitFailure, "sync failed", inner)
		assert.Equal(t, "sync failed: connection refused", err.Error())
		assert.ErrorIs(t, err, inner)
	})
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "usage"), ExitCommandError},
		{"wrapped exit error", errors.Join(errors.New("ctx"), NewExitError(ExitCommandError, "usage")), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func testEvent() types.Event {
	stateKey := "@alice:example.org"
	return types.Event{
		Kind:     types.KindRoomState,
		RoomID:   "!r:example.org",
		Type:     "m.room.member",
		EventID:  "$m1",
		Sender:   "@alice:example.org",
		StateKey: &stateKey,
		Content:  json.RawMessage(`{"membership":"join"}`),
	}
}

func TestPrinterEventText(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{format: "text", w: &buf}
	require.NoError(t, p.event(testEvent()))

	line := buf.String()
	assert.Contains(t, line, "room_state")
	assert.Contains(t, line, "m.room.member")
	assert.Contains(t, line, "room=!r:example.org")
	assert.Contains(t, line, "id=$m1")
	assert.Contains(t, line, `state_key="@alice:example.org"`)
}

func TestPrinterEventJSON(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{format: "json", w: &buf}
	require.NoError(t, p.event(testEvent()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "room_state", got["kind"])
	assert.Equal(t, "!r:example.org", got["room_id"])
	assert.Equal(t, "@alice:example.org", got["state_key"])
	assert.Equal(t, map[string]any{"membership": "join"}, got["content"])
}

func TestPrinterCycle(t *testing.T) {
	r := synckit.CycleResult{Track: "once", NextBatch: "s1", Events: 3, Duration: 15 * time.Millisecond}

	var text bytes.Buffer
	require.NoError(t, (&printer{format: "text", w: &text}).cycle(r))
	assert.Equal(t, "once: (initial) -> s1 (3 events, 15ms)\n", text.String())

	var js bytes.Buffer
	r.Since = "s0"
	require.NoError(t, (&printer{format: "json", w: &js}).cycle(r))
	assert.JSONEq(t, `{"track":"once","since":"s0","next_batch":"s1","events":3,"duration_ms":15}`, js.String())
}

func TestPrinterTokens(t *testing.T) {
	all := map[string]cursor.Token{"b/once": "o1", "b/loop": "l1"}

	var text bytes.Buffer
	require.NoError(t, (&printer{format: "text", w: &text}).tokens(all))
	assert.Equal(t, "b/loop\tl1\nb/once\to1\n", text.String())

	var js bytes.Buffer
	require.NoError(t, (&printer{format: "json", w: &js}).tokens(all))
	assert.JSONEq(t, `{"b/loop":"l1","b/once":"o1"}`, js.String())
}

func TestPrinterUpdate(t *testing.T) {
	u := postgres.TokenUpdate{Track: "loop", Token: "s5", UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}

	var text bytes.Buffer
	require.NoError(t, (&printer{format: "text", w: &text}).update(u))
	assert.Equal(t, "2024-01-02T03:04:05Z\tloop\ts5\n", text.String())
}

func TestEventFilter(t *testing.T) {
	f, err := eventFilter([]string{"room_message", "to_device"}, []string{"m.room.message"}, []string{"!r:example.org"})
	require.NoError(t, err)
	assert.Equal(t, []types.Kind{types.KindRoomMessage, types.KindToDevice}, f.Kinds)
	assert.True(t, f.Matches(types.Event{Kind: types.KindRoomMessage, Type: "m.room.message", RoomID: "!r:example.org"}))
	assert.False(t, f.Matches(types.Event{Kind: types.KindRoomState, Type: "m.room.message", RoomID: "!r:example.org"}))

	_, err = eventFilter([]string{"timeline"}, nil, nil)
	require.Error(t, err)

	f, err = eventFilter(nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, f.Matches(testEvent()))
}
