// Package registry provides the process-wide room table and the rules
// for create/join/rejoin/leave/disconnect.
package registry

import (
	"context"
	cryptoRand "crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/beatrace/internal/domain/room"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrGameInProgress    = errors.New("game already in progress")
	ErrEmptyNickname     = errors.New("nickname is required")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Room codes use an alphabet without visually ambiguous characters
// (no I, O, 0, 1).
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 4
)

// Config represents registry configuration.
type Config struct {
	Settings      room.Settings
	SweepInterval time.Duration
	MaxRoomAge    time.Duration
}

// Registry owns three indices: roomCode→Room, playerID→roomCode and
// connectionID→playerID. Any mutation that changes membership or a
// connection binding updates all three in one critical section.
type Registry struct {
	mu sync.RWMutex

	rooms       map[string]*room.Room
	playerRooms map[string]string
	connPlayers map[string]string

	settings      room.Settings
	sweepInterval time.Duration
	maxRoomAge    time.Duration
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.MaxRoomAge <= 0 {
		cfg.MaxRoomAge = 24 * time.Hour
	}
	return &Registry{
		rooms:         make(map[string]*room.Room),
		playerRooms:   make(map[string]string),
		connPlayers:   make(map[string]string),
		settings:      cfg.Settings,
		sweepInterval: cfg.SweepInterval,
		maxRoomAge:    cfg.MaxRoomAge,
	}
}

// CreateRoom creates a room with a fresh unique code and registers the
// caller as its host.
func (r *Registry) CreateRoom(nickname, connID string) (*room.Room, string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, "", ErrEmptyNickname
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.newCodeLocked()
	rm := room.New(code, r.settings)

	playerID := uuid.New().String()
	p := room.NewPlayer(playerID, nickname, connID, true)

	rm.Lock()
	rm.AddPlayer(p)
	rm.Unlock()

	r.rooms[code] = rm
	r.playerRooms[playerID] = code
	r.connPlayers[connID] = playerID

	zlog.Info().Msgf("room created: code=%s host=%s", code, nickname)
	return rm, playerID, nil
}

// JoinResult is the outcome of a successful join.
type JoinResult struct {
	Room     *room.Room
	PlayerID string
	IsRejoin bool
}

// JoinRoom admits a player into an existing room. A case-insensitive
// nickname match against an existing player is treated as a rejoin and
// reclaims that player's slot; otherwise the room must be a non-full
// lobby.
func (r *Registry) JoinRoom(code, nickname, connID string) (*JoinResult, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, ErrEmptyNickname
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, ErrRoomNotFound
	}

	rm.Lock()
	defer rm.Unlock()

	if existing := rm.PlayerByNickname(nickname); existing != nil {
		if existing.ConnID != "" {
			delete(r.connPlayers, existing.ConnID)
		}
		existing.IsConnected = true
		existing.ConnID = connID
		r.connPlayers[connID] = existing.ID

		zlog.Info().Msgf("player rejoined: room=%s player=%s", rm.Code, nickname)
		return &JoinResult{Room: rm, PlayerID: existing.ID, IsRejoin: true}, nil
	}

	if rm.PlayerCount() >= rm.Settings.MaxPlayers {
		return nil, ErrRoomFull
	}
	if rm.Game.Status != room.StatusLobby {
		return nil, ErrGameInProgress
	}

	playerID := uuid.New().String()
	rm.AddPlayer(room.NewPlayer(playerID, nickname, connID, false))
	r.playerRooms[playerID] = rm.Code
	r.connPlayers[connID] = playerID

	zlog.Info().Msgf("player joined: room=%s player=%s", rm.Code, nickname)
	return &JoinResult{Room: rm, PlayerID: playerID}, nil
}

// DisconnectResult describes what a connection drop did to its room.
type DisconnectResult struct {
	Room   *room.Room
	Player *room.Player
	Paused bool
}

// HandleDisconnect marks the bound player disconnected and clears its
// connection binding. A host dropping mid-game pauses the room. The
// player record is kept for rejoin.
func (r *Registry) HandleDisconnect(connID string) (*DisconnectResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	playerID, ok := r.connPlayers[connID]
	if !ok {
		return nil, false
	}
	delete(r.connPlayers, connID)

	rm, ok := r.rooms[r.playerRooms[playerID]]
	if !ok {
		return nil, false
	}

	rm.Lock()
	defer rm.Unlock()

	p, ok := rm.Player(playerID)
	if !ok {
		return nil, false
	}

	p.IsConnected = false
	p.ConnID = ""

	res := &DisconnectResult{Room: rm, Player: p}
	if p.IsHost && rm.Game.Status == room.StatusPlaying {
		rm.Game.IsPaused = true
		rm.Game.PauseReason = "HOST_DISCONNECTED"
		res.Paused = true
	}

	zlog.Info().Msgf("player disconnected: room=%s player=%s paused=%t", rm.Code, p.Nickname, res.Paused)
	return res, true
}

// LeaveResult describes what an explicit leave did to its room.
type LeaveResult struct {
	Room        *room.Room
	Player      *room.Player
	RoomDeleted bool
	NewHost     *room.Player
}

// RemovePlayer removes the player bound to connID. The room is deleted
// when it becomes empty; otherwise a departing host is succeeded by
// the first remaining player in insertion order.
func (r *Registry) RemovePlayer(connID string) (*LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	playerID, ok := r.connPlayers[connID]
	if !ok {
		return nil, false
	}

	code, ok := r.playerRooms[playerID]
	if !ok {
		return nil, false
	}
	rm := r.rooms[code]

	rm.Lock()
	defer rm.Unlock()

	p, ok := rm.Player(playerID)
	if !ok {
		return nil, false
	}

	delete(r.connPlayers, connID)
	delete(r.playerRooms, playerID)
	rm.RemovePlayer(playerID)

	res := &LeaveResult{Room: rm, Player: p}
	if rm.PlayerCount() == 0 {
		delete(r.rooms, code)
		res.RoomDeleted = true
		zlog.Info().Msgf("room deleted: code=%s reason=empty", code)
		return res, true
	}

	if p.IsHost {
		res.NewHost = rm.PromoteNextHost()
		zlog.Info().Msgf("host promoted: room=%s player=%s", code, res.NewHost.Nickname)
	}

	zlog.Info().Msgf("player left: room=%s player=%s", code, p.Nickname)
	return res, true
}

// Room looks up a room by case-insensitive code.
func (r *Registry) Room(code string) (*room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return rm, ok
}

// RoomByConn resolves a connection to its room.
func (r *Registry) RoomByConn(connID string) (*room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	playerID, ok := r.connPlayers[connID]
	if !ok {
		return nil, false
	}
	rm, ok := r.rooms[r.playerRooms[playerID]]
	return rm, ok
}

// PlayerByConn resolves a connection to its player and room.
func (r *Registry) PlayerByConn(connID string) (*room.Player, *room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	playerID, ok := r.connPlayers[connID]
	if !ok {
		return nil, nil, false
	}
	rm, ok := r.rooms[r.playerRooms[playerID]]
	if !ok {
		return nil, nil, false
	}

	rm.Lock()
	p, ok := rm.Player(playerID)
	rm.Unlock()
	if !ok {
		return nil, nil, false
	}
	return p, rm, true
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Sweep deletes rooms that have no connected players and exceed the
// maximum age, cleaning all indices. Returns the number removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxRoomAge)
	removed := 0

	for code, rm := range r.rooms {
		rm.Lock()
		stale := rm.ConnectedCount() == 0 && rm.CreatedAt.Before(cutoff)
		if stale {
			for _, p := range rm.Players() {
				delete(r.playerRooms, p.ID)
				if p.ConnID != "" {
					delete(r.connPlayers, p.ConnID)
				}
			}
		}
		rm.Unlock()

		if stale {
			delete(r.rooms, code)
			removed++
			zlog.Info().Msgf("room deleted: code=%s reason=stale", code)
		}
	}

	return removed
}

// StartSweeper runs Sweep on the configured interval until ctx ends.
func (r *Registry) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				zlog.Info().Msgf("sweeper removed stale rooms: count=%d", n)
			}
		}
	}
}

// newCodeLocked generates a fresh room code, retrying on collision.
// Caller must hold the registry lock.
func (r *Registry) newCodeLocked() string {
	for {
		buf := make([]byte, codeLength)
		if _, err := cryptoRand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, codeLength)
		for i := range out {
			out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		code := string(out)

		if _, exists := r.rooms[code]; !exists {
			return code
		}
	}
}
