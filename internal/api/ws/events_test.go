package ws

import (
	"encoding/json"
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/beatrace/internal/app/engine"
	"github.com/osa030/beatrace/internal/app/registry"
	"github.com/osa030/beatrace/internal/infra/spotify"
)

func TestEnvelopeDecode(t *testing.T) {
	raw := `{"type":"joinRoom","id":"req-1","payload":{"roomCode":"AB23","nickname":"alice"}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, MsgJoinRoom, env.Type)
	assert.Equal(t, "req-1", env.ID)

	var p JoinRoomPayload
	require.NoError(t, mapstructure.Decode(env.Payload, &p))
	assert.Equal(t, "AB23", p.RoomCode)
	assert.Equal(t, "alice", p.Nickname)
}

func TestPayloadDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		decode  func(map[string]any) (any, error)
	}{
		{
			name:    "submitAnswer",
			payload: map[string]any{"songTitle": "Bohemian Rhapsody", "artist": "Queen"},
			decode: func(m map[string]any) (any, error) {
				var p SubmitAnswerPayload
				err := mapstructure.Decode(m, &p)
				return p, err
			},
		},
		{
			name: "setMusicAuth with numeric expiry",
			payload: map[string]any{
				"accessToken":  "at",
				"refreshToken": "rt",
				"expiresIn":    float64(3600), // JSON numbers arrive as float64
			},
			decode: func(m map[string]any) (any, error) {
				var p SetMusicAuthPayload
				err := mapstructure.Decode(m, &p)
				return p, err
			},
		},
		{
			name:    "loadPlaylist",
			payload: map[string]any{"playlistId": "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M"},
			decode: func(m map[string]any) (any, error) {
				var p LoadPlaylistPayload
				err := mapstructure.Decode(m, &p)
				return p, err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.decode(tt.payload)
			require.NoError(t, err)
			assert.NotNil(t, got)
		})
	}
}

func TestSetMusicAuthDecodeValues(t *testing.T) {
	var p SetMusicAuthPayload
	require.NoError(t, mapstructure.Decode(map[string]any{
		"accessToken":  "at",
		"refreshToken": "rt",
		"expiresIn":    float64(3600),
	}, &p))
	assert.Equal(t, "at", p.AccessToken)
	assert.Equal(t, "rt", p.RefreshToken)
	assert.Equal(t, int64(3600), p.ExpiresIn)
}

func TestOutboundEnvelope(t *testing.T) {
	data, err := marshalEvent(EvtError, "req-9", ErrorPayload{Message: "nope", Code: "NOT_HOST"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "error", decoded["type"])
	assert.Equal(t, "req-9", decoded["id"])

	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "nope", payload["message"])
	assert.Equal(t, "NOT_HOST", payload["code"])

	// Without a request id, the id field is omitted entirely.
	data, err = marshalEvent(EvtRoomUpdated, "", map[string]any{})
	require.NoError(t, err)
	decoded = map[string]any{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "id")
}

func TestErrCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: registry.ErrRoomNotFound, want: "ROOM_NOT_FOUND"},
		{err: registry.ErrRoomFull, want: "ROOM_FULL"},
		{err: registry.ErrGameInProgress, want: "GAME_IN_PROGRESS"},
		{err: engine.ErrNotHost, want: "NOT_HOST"},
		{err: engine.ErrNotEnoughActive, want: "NOT_ENOUGH_PLAYERS"},
		{err: engine.ErrAlreadyAnswered, want: "ALREADY_SUBMITTED"},
		{err: engine.ErrGamePaused, want: "GAME_PAUSED"},
		{err: &spotify.RateLimitError{}, want: "RATE_LIMITED"},
		{err: assert.AnError, want: "INTERNAL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, errCode(tt.err))
	}
}
