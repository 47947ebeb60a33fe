// Package room provides the room and player domain entities.
package room

import (
	"strings"
	"sync"
	"time"

	"github.com/osa030/beatrace/internal/domain/track"
)

// Status is the lifecycle state of a room's game.
type Status string

const (
	StatusLobby            Status = "LOBBY"
	StatusStarting         Status = "STARTING"
	StatusPlaying          Status = "PLAYING"
	StatusRoundReveal      Status = "ROUND_REVEAL"
	StatusEliminationCheck Status = "ELIMINATION_CHECK"
	StatusGameOver         Status = "GAME_OVER"
)

// GameState is the per-room round state machine snapshot.
type GameState struct {
	Status         Status
	CurrentRound   int
	CurrentTrack   *track.Track
	RoundStartTime int64 // unix millis
	RoundEndTime   int64 // unix millis
	IsPaused       bool
	PauseReason    string
	WinnerID       string
}

// Settings are the per-room game parameters.
type Settings struct {
	MaxPlayers     int
	RoundDuration  time.Duration
	RevealDuration time.Duration
}

// Room is a single game room. All mutable state is guarded by the
// room's own lock; accessors below assume the caller holds it.
type Room struct {
	mu sync.Mutex

	Code      string
	HostID    string
	Game      GameState
	Auth      *track.MusicAuth
	Playlist  *track.PlaylistInfo
	CreatedAt time.Time
	Settings  Settings

	// Track ids already played in the current game.
	UsedTrackIDs map[string]struct{}

	// Cooldown marker for playlist loads.
	LastPlaylistLoad time.Time

	players map[string]*Player
	order   []string // insertion order, drives host succession
}

// New creates an empty room in the lobby state.
func New(code string, settings Settings) *Room {
	return &Room{
		Code:         code,
		Game:         GameState{Status: StatusLobby},
		CreatedAt:    time.Now(),
		Settings:     settings,
		UsedTrackIDs: make(map[string]struct{}),
		players:      make(map[string]*Player),
	}
}

// Lock acquires the room's lock.
func (r *Room) Lock() { r.mu.Lock() }

// Unlock releases the room's lock.
func (r *Room) Unlock() { r.mu.Unlock() }

// AddPlayer registers a player, preserving insertion order.
func (r *Room) AddPlayer(p *Player) {
	r.players[p.ID] = p
	r.order = append(r.order, p.ID)
	if p.IsHost {
		r.HostID = p.ID
	}
}

// RemovePlayer deletes a player record.
func (r *Room) RemovePlayer(id string) {
	if _, ok := r.players[id]; !ok {
		return
	}
	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Player looks up a player by id.
func (r *Room) Player(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// PlayerByNickname finds a player by case-insensitive nickname.
func (r *Room) PlayerByNickname(nickname string) *Player {
	for _, id := range r.order {
		if strings.EqualFold(r.players[id].Nickname, nickname) {
			return r.players[id]
		}
	}
	return nil
}

// Players returns all players in insertion order.
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

// PlayerCount returns the number of registered players.
func (r *Room) PlayerCount() int { return len(r.players) }

// ConnectedCount returns the number of currently connected players.
func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// ActivePlayers returns players that are connected and not eliminated,
// in insertion order.
func (r *Room) ActivePlayers() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		p := r.players[id]
		if p.IsConnected && !p.IsEliminated {
			out = append(out, p)
		}
	}
	return out
}

// PromoteNextHost makes the first remaining player (insertion order)
// the host. Returns the new host, or nil if the room is empty.
func (r *Room) PromoteNextHost() *Player {
	if len(r.order) == 0 {
		r.HostID = ""
		return nil
	}
	next := r.players[r.order[0]]
	next.IsHost = true
	r.HostID = next.ID
	return next
}

// HostConnID returns the host's bound connection id, or "" when the
// host is disconnected or absent.
func (r *Room) HostConnID() string {
	if host, ok := r.players[r.HostID]; ok {
		return host.ConnID
	}
	return ""
}

// ResetForNewGame restores the room to a fresh lobby, keeping players
// and music auth.
func (r *Room) ResetForNewGame() {
	r.Game = GameState{Status: StatusLobby}
	r.UsedTrackIDs = make(map[string]struct{})
	for _, p := range r.players {
		p.ResetForGame()
	}
}
