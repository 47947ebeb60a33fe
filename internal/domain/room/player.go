package room

import "time"

// DefaultPace is the pace every player starts a game with.
const DefaultPace = 10

// Answer is a player's submission for the current round.
type Answer struct {
	SongTitle   string
	Artist      string
	SubmittedAt time.Time
}

// RoundResult is the scored outcome of a player's round.
type RoundResult struct {
	Class         string `json:"result"`
	SongCorrect   bool   `json:"songCorrect"`
	ArtistCorrect bool   `json:"artistCorrect"`
	PaceDelta     int    `json:"paceDelta"`
}

// Player represents a participant in a room. The record survives
// disconnects so the slot can be reclaimed by nickname; it is removed
// only on explicit leave.
type Player struct {
	ID              string
	Nickname        string
	Pace            int
	IsHost          bool
	IsEliminated    bool
	IsConnected     bool
	HasSubmitted    bool
	CurrentAnswer   *Answer
	LastResult      *RoundResult
	EliminatedRound int
	ConnID          string
	JoinedAt        time.Time
}

// NewPlayer creates a player bound to the given connection.
func NewPlayer(id, nickname, connID string, isHost bool) *Player {
	return &Player{
		ID:          id,
		Nickname:    nickname,
		Pace:        DefaultPace,
		IsHost:      isHost,
		IsConnected: true,
		ConnID:      connID,
		JoinedAt:    time.Now(),
	}
}

// ResetForRound clears the per-round submission state.
func (p *Player) ResetForRound() {
	p.HasSubmitted = false
	p.CurrentAnswer = nil
	p.LastResult = nil
}

// ResetForGame restores the player to a fresh-game state.
func (p *Player) ResetForGame() {
	p.Pace = DefaultPace
	p.IsEliminated = false
	p.EliminatedRound = 0
	p.ResetForRound()
}
