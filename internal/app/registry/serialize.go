package registry

import (
	"github.com/osa030/beatrace/internal/domain/room"
	"github.com/osa030/beatrace/internal/domain/track"
)

// SerializedPlayer is the client-visible view of a player.
type SerializedPlayer struct {
	ID              string            `json:"id"`
	Nickname        string            `json:"nickname"`
	Pace            int               `json:"pace"`
	IsHost          bool              `json:"isHost"`
	IsEliminated    bool              `json:"isEliminated"`
	IsConnected     bool              `json:"isConnected"`
	HasSubmitted    bool              `json:"hasSubmitted"`
	EliminatedRound int               `json:"eliminatedRound,omitempty"`
	LastResult      *room.RoundResult `json:"lastResult,omitempty"`
}

// SerializedGameState is the client-visible view of the game state.
// The current track is included only in states where the answer is
// already public.
type SerializedGameState struct {
	Status         room.Status  `json:"status"`
	CurrentRound   int          `json:"currentRound"`
	CurrentTrack   *track.Track `json:"currentTrack,omitempty"`
	RoundStartTime int64        `json:"roundStartTime,omitempty"`
	RoundEndTime   int64        `json:"roundEndTime,omitempty"`
	IsPaused       bool         `json:"isPaused"`
	PauseReason    string       `json:"pauseReason,omitempty"`
	WinnerID       string       `json:"winnerId,omitempty"`
}

// SerializedSettings is the client-visible slice of the room settings,
// enough to render capacity and round timers.
type SerializedSettings struct {
	MaxPlayers       int   `json:"maxPlayers"`
	RoundDurationMs  int64 `json:"roundDurationMs"`
	RevealDurationMs int64 `json:"revealDurationMs"`
}

// SerializedRoom is the client-visible view of a room. It never carries
// tokens or the used-track set.
type SerializedRoom struct {
	Code         string              `json:"code"`
	HostID       string              `json:"hostId"`
	Players      []SerializedPlayer  `json:"players"`
	GameState    SerializedGameState `json:"gameState"`
	HasMusicAuth bool                `json:"hasMusicAuth"`
	Playlist     *track.PlaylistInfo `json:"playlist,omitempty"`
	Settings     SerializedSettings  `json:"settings"`
}

// SerializePlayer builds the client view of one player.
func SerializePlayer(p *room.Player) SerializedPlayer {
	return SerializedPlayer{
		ID:              p.ID,
		Nickname:        p.Nickname,
		Pace:            p.Pace,
		IsHost:          p.IsHost,
		IsEliminated:    p.IsEliminated,
		IsConnected:     p.IsConnected,
		HasSubmitted:    p.HasSubmitted,
		EliminatedRound: p.EliminatedRound,
		LastResult:      p.LastResult,
	}
}

// SerializeRoom builds the client view of a room. Caller must hold the
// room lock.
func SerializeRoom(rm *room.Room) *SerializedRoom {
	players := rm.Players()
	out := &SerializedRoom{
		Code:         rm.Code,
		HostID:       rm.HostID,
		Players:      make([]SerializedPlayer, 0, len(players)),
		HasMusicAuth: rm.Auth != nil,
		Playlist:     rm.Playlist,
		Settings: SerializedSettings{
			MaxPlayers:       rm.Settings.MaxPlayers,
			RoundDurationMs:  rm.Settings.RoundDuration.Milliseconds(),
			RevealDurationMs: rm.Settings.RevealDuration.Milliseconds(),
		},
	}

	for _, p := range players {
		out.Players = append(out.Players, SerializePlayer(p))
	}

	g := rm.Game
	out.GameState = SerializedGameState{
		Status:         g.Status,
		CurrentRound:   g.CurrentRound,
		RoundStartTime: g.RoundStartTime,
		RoundEndTime:   g.RoundEndTime,
		IsPaused:       g.IsPaused,
		PauseReason:    g.PauseReason,
		WinnerID:       g.WinnerID,
	}
	// The track identity stays hidden while a round is in flight.
	if g.Status == room.StatusRoundReveal || g.Status == room.StatusEliminationCheck || g.Status == room.StatusGameOver {
		out.GameState.CurrentTrack = g.CurrentTrack
	}

	return out
}
