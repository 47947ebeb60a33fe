package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/beatrace/internal/domain/room"
	"github.com/osa030/beatrace/internal/domain/track"
)

func testTrack() *track.Track {
	return &track.Track{
		ID:      "t1",
		URI:     "spotify:track:t1",
		Name:    "Bohemian Rhapsody",
		Artists: []track.Artist{{ID: "a1", Name: "Queen"}},
	}
}

func testRegistry() *Registry {
	return New(Config{
		Settings: room.Settings{
			MaxPlayers:     4,
			RoundDuration:  time.Minute,
			RevealDuration: 8 * time.Second,
		},
	})
}

func TestCreateRoom(t *testing.T) {
	reg := testRegistry()

	rm, playerID, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)
	require.NotNil(t, rm)

	assert.Len(t, rm.Code, 4)
	for _, r := range rm.Code {
		assert.Contains(t, codeAlphabet, string(r))
	}

	rm.Lock()
	p, ok := rm.Player(playerID)
	rm.Unlock()
	require.True(t, ok)
	assert.True(t, p.IsHost)
	assert.Equal(t, room.DefaultPace, p.Pace)

	_, _, err = reg.CreateRoom("  ", "c2")
	assert.ErrorIs(t, err, ErrEmptyNickname)
}

func TestJoinRoom(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	res, err := reg.JoinRoom(rm.Code, "bob", "c2")
	require.NoError(t, err)
	assert.False(t, res.IsRejoin)

	// Codes are case-insensitive.
	res2, err := reg.JoinRoom(lower(rm.Code), "carol", "c3")
	require.NoError(t, err)
	assert.Equal(t, rm.Code, res2.Room.Code)

	_, err = reg.JoinRoom("ZZZZ", "dave", "c4")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + 32
		}
	}
	return string(out)
}

func TestJoinRoomFull(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	for i, name := range []string{"bob", "carol", "dave"} {
		_, err := reg.JoinRoom(rm.Code, name, "c"+string(rune('2'+i)))
		require.NoError(t, err)
	}

	_, err = reg.JoinRoom(rm.Code, "eve", "c9")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRoomInProgress(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	rm.Lock()
	rm.Game.Status = room.StatusPlaying
	rm.Unlock()

	_, err = reg.JoinRoom(rm.Code, "bob", "c2")
	assert.ErrorIs(t, err, ErrGameInProgress)
}

func TestRejoinByNickname(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)
	joined, err := reg.JoinRoom(rm.Code, "bob", "c2")
	require.NoError(t, err)

	_, ok := reg.HandleDisconnect("c2")
	require.True(t, ok)

	// Rejoin works even mid-game.
	rm.Lock()
	rm.Game.Status = room.StatusPlaying
	rm.Unlock()

	res, err := reg.JoinRoom(rm.Code, "BOB", "c5")
	require.NoError(t, err)
	assert.True(t, res.IsRejoin)
	assert.Equal(t, joined.PlayerID, res.PlayerID)

	p, _, ok := reg.PlayerByConn("c5")
	require.True(t, ok)
	assert.True(t, p.IsConnected)
	assert.Equal(t, "c5", p.ConnID)
}

func TestHandleDisconnectPausesHostMidGame(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)
	_, err = reg.JoinRoom(rm.Code, "bob", "c2")
	require.NoError(t, err)

	rm.Lock()
	rm.Game.Status = room.StatusPlaying
	rm.Unlock()

	res, ok := reg.HandleDisconnect("c1")
	require.True(t, ok)
	assert.True(t, res.Paused)

	rm.Lock()
	assert.True(t, rm.Game.IsPaused)
	assert.Equal(t, "HOST_DISCONNECTED", rm.Game.PauseReason)
	assert.False(t, res.Player.IsConnected)
	rm.Unlock()

	// Non-host disconnect does not pause.
	res2, ok := reg.HandleDisconnect("c2")
	require.True(t, ok)
	assert.False(t, res2.Paused)

	// Unknown connection.
	_, ok = reg.HandleDisconnect("c9")
	assert.False(t, ok)
}

func TestRemovePlayerHostSuccession(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)
	joined, err := reg.JoinRoom(rm.Code, "bob", "c2")
	require.NoError(t, err)

	res, ok := reg.RemovePlayer("c1")
	require.True(t, ok)
	assert.False(t, res.RoomDeleted)
	require.NotNil(t, res.NewHost)
	assert.Equal(t, joined.PlayerID, res.NewHost.ID)

	rm.Lock()
	assert.Equal(t, joined.PlayerID, rm.HostID)
	rm.Unlock()
}

func TestRemoveLastPlayerDeletesRoom(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	res, ok := reg.RemovePlayer("c1")
	require.True(t, ok)
	assert.True(t, res.RoomDeleted)

	_, found := reg.Room(rm.Code)
	assert.False(t, found)
	assert.Equal(t, 0, reg.RoomCount())

	_, _, found = reg.PlayerByConn("c1")
	assert.False(t, found)
}

func TestSweep(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	// Fresh rooms and rooms with connected players survive.
	assert.Equal(t, 0, reg.Sweep())

	rm.Lock()
	rm.CreatedAt = time.Now().Add(-25 * time.Hour)
	rm.Unlock()
	assert.Equal(t, 0, reg.Sweep())

	_, ok := reg.HandleDisconnect("c1")
	require.True(t, ok)
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 0, reg.RoomCount())
}

func TestSerializeRoomRedaction(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	rm.Lock()
	defer rm.Unlock()

	rm.Game.Status = room.StatusPlaying
	rm.Game.CurrentTrack = testTrack()

	snap := SerializeRoom(rm)
	assert.Nil(t, snap.GameState.CurrentTrack, "track must stay hidden while playing")
	assert.False(t, snap.HasMusicAuth)

	rm.Game.Status = room.StatusRoundReveal
	snap = SerializeRoom(rm)
	require.NotNil(t, snap.GameState.CurrentTrack)
	assert.Equal(t, "t1", snap.GameState.CurrentTrack.ID)

	rm.Game.Status = room.StatusGameOver
	snap = SerializeRoom(rm)
	assert.NotNil(t, snap.GameState.CurrentTrack)
}

func TestSerializeRoomSettings(t *testing.T) {
	reg := testRegistry()
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	rm.Lock()
	defer rm.Unlock()

	snap := SerializeRoom(rm)
	assert.Equal(t, 4, snap.Settings.MaxPlayers)
	assert.Equal(t, int64(60000), snap.Settings.RoundDurationMs)
	assert.Equal(t, int64(8000), snap.Settings.RevealDurationMs)
}
