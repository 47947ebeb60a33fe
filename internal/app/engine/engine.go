// Package engine drives the round lifecycle: countdown, track
// selection, scoring, eliminations and game over.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/beatrace/internal/app/match"
	"github.com/osa030/beatrace/internal/app/registry"
	"github.com/osa030/beatrace/internal/domain/room"
	"github.com/osa030/beatrace/internal/domain/track"
	"github.com/osa030/beatrace/internal/infra/spotify"
)

var (
	ErrNotHost         = errors.New("only the host can do that")
	ErrNotEnoughActive = errors.New("need at least two connected players")
	ErrNoMusicAuth     = errors.New("music account is not connected")
	ErrNoPlaylist      = errors.New("no playlist loaded")
	ErrWrongState      = errors.New("action not allowed in the current game state")
	ErrGamePaused      = errors.New("game is paused")
	ErrAlreadyAnswered = errors.New("answer already submitted this round")
	ErrEliminated      = errors.New("eliminated players cannot submit")
)

// Notifier delivers events to room members. The engine never touches
// connections directly.
type Notifier interface {
	Broadcast(roomCode, event string, payload any)
	Send(connID, event string, payload any)
}

// MusicGateway is the slice of the music service client the engine
// needs. Satisfied by *spotify.Client.
type MusicGateway interface {
	EnsureValidToken(ctx context.Context, auth track.MusicAuth) (track.MusicAuth, error)
	RandomTrack(ctx context.Context, accessToken, playlistID string, totalTracks int, used map[string]struct{}) (*track.Track, error)
}

// Config represents engine timing configuration.
type Config struct {
	Countdown        time.Duration
	EliminationPause time.Duration
}

// Engine owns the per-room timers and the round state machine. All
// room mutations happen under the room lock; gateway calls are made
// with the lock released and their results revalidated on re-acquire.
type Engine struct {
	reg      *registry.Registry
	gateway  MusicGateway
	notifier Notifier
	cfg      Config

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates an engine.
func New(reg *registry.Registry, gateway MusicGateway, notifier Notifier, cfg Config) *Engine {
	if cfg.Countdown <= 0 {
		cfg.Countdown = 5 * time.Second
	}
	if cfg.EliminationPause <= 0 {
		cfg.EliminationPause = 3 * time.Second
	}
	return &Engine{
		reg:      reg,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
		timers:   make(map[string]*time.Timer),
	}
}

// StartGame begins a game from the lobby. Host only.
func (e *Engine) StartGame(roomCode, playerID string) error {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return registry.ErrRoomNotFound
	}

	rm.Lock()
	defer rm.Unlock()

	if rm.HostID != playerID {
		return ErrNotHost
	}
	if rm.Game.Status != room.StatusLobby {
		return ErrWrongState
	}
	if rm.Auth == nil {
		return ErrNoMusicAuth
	}
	if rm.Playlist == nil || rm.Playlist.TotalTracks <= 0 {
		return ErrNoPlaylist
	}
	if rm.ConnectedCount() < 2 {
		return ErrNotEnoughActive
	}

	for _, p := range rm.Players() {
		p.ResetForGame()
	}
	rm.UsedTrackIDs = make(map[string]struct{})
	rm.Game = room.GameState{Status: room.StatusStarting}

	zlog.Info().Msgf("game starting: room=%s players=%d", rm.Code, rm.ConnectedCount())

	e.notifier.Broadcast(rm.Code, "gameStarting", map[string]any{
		"startsIn": e.cfg.Countdown.Milliseconds(),
	})
	e.broadcastRoomLocked(rm)

	e.armTimer(rm.Code, e.cfg.Countdown, func() { e.startNextRound(rm.Code) })
	return nil
}

// startNextRound advances the room into the next PLAYING round. It is
// invoked from timers and from ResumeGame, never with the room lock
// held.
func (e *Engine) startNextRound(roomCode string) {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return
	}

	rm.Lock()
	if rm.Game.IsPaused {
		rm.Unlock()
		return
	}
	switch rm.Game.Status {
	case room.StatusStarting, room.StatusPlaying, room.StatusRoundReveal, room.StatusEliminationCheck:
	default:
		rm.Unlock()
		return
	}

	if len(rm.ActivePlayers()) <= 1 {
		e.endGameLocked(rm)
		rm.Unlock()
		return
	}

	auth := *rm.Auth
	playlist := *rm.Playlist
	used := make(map[string]struct{}, len(rm.UsedTrackIDs))
	for id := range rm.UsedTrackIDs {
		used[id] = struct{}{}
	}
	prevStatus := rm.Game.Status
	prevRound := rm.Game.CurrentRound
	rm.Unlock()

	// Gateway calls run without the room lock.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fresh, err := e.gateway.EnsureValidToken(ctx, auth)
	if err != nil {
		e.failRound(rm, prevStatus, prevRound, "TOKEN_REFRESH_FAILED", err)
		return
	}

	t, err := e.gateway.RandomTrack(ctx, fresh.AccessToken, playlist.ID, playlist.TotalTracks, used)
	if err != nil {
		e.failRound(rm, prevStatus, prevRound, "TRACK_FETCH_FAILED", err)
		return
	}
	cleared := false
	if t == nil {
		// Playlist exhausted: clear the used set once and retry.
		cleared = true
		t, err = e.gateway.RandomTrack(ctx, fresh.AccessToken, playlist.ID, playlist.TotalTracks, map[string]struct{}{})
		if err != nil {
			e.failRound(rm, prevStatus, prevRound, "TRACK_FETCH_FAILED", err)
			return
		}
	}

	rm.Lock()
	defer rm.Unlock()

	// The room may have moved on while the gateway call was in flight.
	if rm.Game.IsPaused || rm.Game.Status != prevStatus || rm.Game.CurrentRound != prevRound {
		return
	}

	rm.Auth = &fresh

	if t == nil {
		zlog.Warn().Msgf("no playable track found: room=%s playlist=%s", rm.Code, playlist.ID)
		e.endGameLocked(rm)
		return
	}

	if cleared {
		rm.UsedTrackIDs = make(map[string]struct{})
	}
	rm.UsedTrackIDs[t.ID] = struct{}{}

	now := time.Now()
	rm.Game.CurrentRound++
	rm.Game.Status = room.StatusPlaying
	rm.Game.CurrentTrack = t
	rm.Game.RoundStartTime = now.UnixMilli()
	rm.Game.RoundEndTime = now.Add(rm.Settings.RoundDuration).UnixMilli()

	for _, p := range rm.Players() {
		p.ResetForRound()
	}

	round := rm.Game.CurrentRound
	zlog.Info().Msgf("round started: room=%s round=%d track=%s", rm.Code, round, t.ID)

	// Track title and artists stay server-side until the reveal.
	e.notifier.Broadcast(rm.Code, "roundStarted", map[string]any{
		"roundNumber": round,
		"durationMs":  rm.Settings.RoundDuration.Milliseconds(),
		"trackUri":    t.URI,
	})
	if connID := rm.HostConnID(); connID != "" {
		e.notifier.Send(connID, "playbackCommand", map[string]any{
			"command":    "play",
			"trackUri":   t.URI,
			"positionMs": 0,
		})
	}
	e.broadcastRoomLocked(rm)

	e.armTimer(rm.Code, rm.Settings.RoundDuration, func() { e.roundTimeout(rm.Code, round) })
}

// failRound reports a gateway failure and pauses the game so the host
// can retry with a resume.
func (e *Engine) failRound(rm *room.Room, prevStatus room.Status, prevRound int, code string, err error) {
	zlog.Error().Msgf("round setup failed: room=%s code=%s err=%v", rm.Code, code, err)

	rm.Lock()
	defer rm.Unlock()

	if rm.Game.IsPaused || rm.Game.Status != prevStatus || rm.Game.CurrentRound != prevRound {
		return
	}

	rm.Game.IsPaused = true
	rm.Game.PauseReason = code

	msg := "could not start the next round"
	if rle, ok := spotify.AsRateLimit(err); ok {
		code = "RATE_LIMITED"
		msg = "music service is busy, wait " + rle.RetryAfter.String() + " and resume"
	}
	e.notifier.Broadcast(rm.Code, "error", map[string]any{
		"message": msg,
		"code":    code,
	})
	e.notifier.Broadcast(rm.Code, "gamePaused", map[string]any{"reason": rm.Game.PauseReason})
	e.broadcastRoomLocked(rm)
}

// roundTimeout fires when the round clock runs out.
func (e *Engine) roundTimeout(roomCode string, round int) {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return
	}

	rm.Lock()
	defer rm.Unlock()

	if rm.Game.IsPaused || rm.Game.Status != room.StatusPlaying || rm.Game.CurrentRound != round {
		return
	}
	e.endRoundLocked(rm)
}

// SubmitAnswer records a player's answer for the running round. The
// round ends early once every active player has submitted.
func (e *Engine) SubmitAnswer(roomCode, playerID, songTitle, artist string) error {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return registry.ErrRoomNotFound
	}

	rm.Lock()
	defer rm.Unlock()

	if rm.Game.Status != room.StatusPlaying {
		return ErrWrongState
	}
	if rm.Game.IsPaused {
		return ErrGamePaused
	}

	p, ok := rm.Player(playerID)
	if !ok {
		return errors.New("player not in room")
	}
	if p.IsEliminated {
		return ErrEliminated
	}
	if p.HasSubmitted {
		return ErrAlreadyAnswered
	}

	p.HasSubmitted = true
	p.CurrentAnswer = &room.Answer{
		SongTitle:   songTitle,
		Artist:      artist,
		SubmittedAt: time.Now(),
	}

	e.notifier.Broadcast(rm.Code, "playerSubmitted", map[string]any{
		"playerId": p.ID,
		"nickname": p.Nickname,
	})

	for _, ap := range rm.ActivePlayers() {
		if !ap.HasSubmitted {
			return nil
		}
	}
	e.endRoundLocked(rm)
	return nil
}

// playerResult is one player's entry in the roundEnded payload.
type playerResult struct {
	PlayerID      string `json:"playerId"`
	Nickname      string `json:"nickname"`
	Result        string `json:"result"`
	SongCorrect   bool   `json:"songCorrect"`
	ArtistCorrect bool   `json:"artistCorrect"`
	PaceDelta     int    `json:"paceDelta"`
	NewPace       int    `json:"newPace"`
}

// endRoundLocked scores the round and moves the room into the reveal.
// Caller holds the room lock.
func (e *Engine) endRoundLocked(rm *room.Room) {
	e.cancelTimer(rm.Code)

	t := rm.Game.CurrentTrack
	round := rm.Game.CurrentRound
	rm.Game.Status = room.StatusRoundReveal
	rm.Game.RoundEndTime = time.Now().UnixMilli()

	if connID := rm.HostConnID(); connID != "" {
		e.notifier.Send(connID, "playbackCommand", map[string]any{"command": "stop"})
	}

	artists := t.ArtistNames()
	results := make([]playerResult, 0, rm.PlayerCount())

	// Disconnected players are still scored; no answer counts as NONE,
	// so sitting out a round is never an advantage.
	for _, p := range rm.Players() {
		if p.IsEliminated {
			continue
		}

		outcome := match.Outcome{Class: match.ClassNone}
		if p.CurrentAnswer != nil {
			outcome = match.ScoreAnswer(p.CurrentAnswer.SongTitle, p.CurrentAnswer.Artist, t.Name, artists)
		}

		delta := match.PaceDelta(outcome.Class)
		p.Pace = match.ClampPace(p.Pace + delta)
		p.LastResult = &room.RoundResult{
			Class:         string(outcome.Class),
			SongCorrect:   outcome.SongCorrect,
			ArtistCorrect: outcome.ArtistCorrect,
			PaceDelta:     delta,
		}

		results = append(results, playerResult{
			PlayerID:      p.ID,
			Nickname:      p.Nickname,
			Result:        string(outcome.Class),
			SongCorrect:   outcome.SongCorrect,
			ArtistCorrect: outcome.ArtistCorrect,
			PaceDelta:     delta,
			NewPace:       p.Pace,
		})
	}

	nextIn := rm.Settings.RevealDuration
	zlog.Info().Msgf("round ended: room=%s round=%d track=%q", rm.Code, round, t.Name)

	e.notifier.Broadcast(rm.Code, "roundEnded", map[string]any{
		"track":       t,
		"results":     results,
		"nextRoundIn": nextIn.Milliseconds(),
	})
	e.broadcastRoomLocked(rm)

	if match.IsEliminationRound(round) {
		e.armTimer(rm.Code, nextIn, func() { e.checkEliminations(rm.Code, round) })
	} else {
		e.armTimer(rm.Code, nextIn, func() { e.startNextRound(rm.Code) })
	}
}

// eliminatedEntry is one player's entry in the eliminationCheck
// eliminated/survivors lists.
type eliminatedEntry struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Pace     int    `json:"pace"`
}

// checkEliminations applies the pace-gap elimination rule after every
// sixth round.
func (e *Engine) checkEliminations(roomCode string, round int) {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return
	}

	rm.Lock()
	defer rm.Unlock()

	if rm.Game.IsPaused || rm.Game.Status != room.StatusRoundReveal || rm.Game.CurrentRound != round {
		return
	}
	rm.Game.Status = room.StatusEliminationCheck

	// The check runs over every non-eliminated player, connected or
	// not; a disconnected player keeps losing pace and falls to it.
	contenders := make([]*room.Player, 0, rm.PlayerCount())
	for _, p := range rm.Players() {
		if !p.IsEliminated {
			contenders = append(contenders, p)
		}
	}

	leaderPace := 0
	for _, p := range contenders {
		if p.Pace > leaderPace {
			leaderPace = p.Pace
		}
	}

	threshold := match.EliminationThreshold(round)
	eliminated := make([]eliminatedEntry, 0)
	survivors := make([]eliminatedEntry, 0, len(contenders))
	for _, p := range contenders {
		entry := eliminatedEntry{PlayerID: p.ID, Nickname: p.Nickname, Pace: p.Pace}
		if leaderPace-p.Pace >= threshold {
			p.IsEliminated = true
			p.EliminatedRound = round
			eliminated = append(eliminated, entry)
		} else {
			survivors = append(survivors, entry)
		}
	}

	zlog.Info().Msgf("elimination check: room=%s round=%d threshold=%d leader=%d eliminated=%d",
		rm.Code, round, threshold, leaderPace, len(eliminated))

	e.notifier.Broadcast(rm.Code, "eliminationCheck", map[string]any{
		"round":      round,
		"threshold":  threshold,
		"leaderPace": leaderPace,
		"eliminated": eliminated,
		"survivors":  survivors,
	})
	e.broadcastRoomLocked(rm)

	e.armTimer(rm.Code, e.cfg.EliminationPause, func() {
		rm2, ok := e.reg.Room(roomCode)
		if !ok {
			return
		}
		rm2.Lock()
		ended := false
		if !rm2.Game.IsPaused && rm2.Game.Status == room.StatusEliminationCheck && len(rm2.ActivePlayers()) <= 1 {
			e.endGameLocked(rm2)
			ended = true
		}
		rm2.Unlock()
		if !ended {
			e.startNextRound(roomCode)
		}
	})
}

// standing is one player's entry in the gameOver payload.
type standing struct {
	Rank            int    `json:"rank"`
	PlayerID        string `json:"playerId"`
	Nickname        string `json:"nickname"`
	Pace            int    `json:"pace"`
	IsEliminated    bool   `json:"isEliminated"`
	EliminatedRound int    `json:"eliminatedRound,omitempty"`
}

// endGameLocked finishes the game and broadcasts the final standings.
// Caller holds the room lock.
func (e *Engine) endGameLocked(rm *room.Room) {
	e.cancelTimer(rm.Code)

	rm.Game.Status = room.StatusGameOver

	var winner *room.Player
	if active := rm.ActivePlayers(); len(active) == 1 {
		winner = active[0]
		rm.Game.WinnerID = winner.ID
	} else {
		rm.Game.WinnerID = ""
	}

	players := rm.Players()
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if winner != nil {
			if a.ID == winner.ID {
				return true
			}
			if b.ID == winner.ID {
				return false
			}
		}
		if a.IsEliminated != b.IsEliminated {
			return !a.IsEliminated
		}
		if a.IsEliminated && a.EliminatedRound != b.EliminatedRound {
			return a.EliminatedRound > b.EliminatedRound
		}
		return a.Pace > b.Pace
	})

	standings := make([]standing, 0, len(players))
	for i, p := range players {
		standings = append(standings, standing{
			Rank:            i + 1,
			PlayerID:        p.ID,
			Nickname:        p.Nickname,
			Pace:            p.Pace,
			IsEliminated:    p.IsEliminated,
			EliminatedRound: p.EliminatedRound,
		})
	}

	winnerID, winnerNickname := "", ""
	if winner != nil {
		winnerID, winnerNickname = winner.ID, winner.Nickname
	}

	zlog.Info().Msgf("game over: room=%s rounds=%d winner=%q", rm.Code, rm.Game.CurrentRound, winnerNickname)

	e.notifier.Broadcast(rm.Code, "gameOver", map[string]any{
		"winnerId":       winnerID,
		"winnerNickname": winnerNickname,
		"finalStandings": standings,
	})
	e.broadcastRoomLocked(rm)
}

// EndGame force-finishes a game. Host only.
func (e *Engine) EndGame(roomCode, playerID string) error {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return registry.ErrRoomNotFound
	}

	rm.Lock()
	defer rm.Unlock()

	if rm.HostID != playerID {
		return ErrNotHost
	}
	switch rm.Game.Status {
	case room.StatusLobby, room.StatusGameOver:
		return ErrWrongState
	}

	e.endGameLocked(rm)
	return nil
}

// RestartGame returns a room to the lobby, abandoning any game in
// progress. Host only.
func (e *Engine) RestartGame(roomCode, playerID string) error {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return registry.ErrRoomNotFound
	}

	rm.Lock()
	defer rm.Unlock()

	if rm.HostID != playerID {
		return ErrNotHost
	}
	if rm.Game.Status == room.StatusLobby {
		return ErrWrongState
	}

	e.cancelTimer(rm.Code)
	rm.ResetForNewGame()
	zlog.Info().Msgf("game restarted: room=%s", rm.Code)
	e.broadcastRoomLocked(rm)
	return nil
}

// ResumeGame clears a pause. Host only. A resume during PLAYING
// abandons the interrupted round and starts the next one.
func (e *Engine) ResumeGame(roomCode, playerID string) error {
	rm, ok := e.reg.Room(roomCode)
	if !ok {
		return registry.ErrRoomNotFound
	}

	rm.Lock()

	if rm.HostID != playerID {
		rm.Unlock()
		return ErrNotHost
	}
	if !rm.Game.IsPaused {
		rm.Unlock()
		return ErrWrongState
	}

	rm.Game.IsPaused = false
	rm.Game.PauseReason = ""

	// A pause can land in any in-game status: mid-round (host drop),
	// or in the reveal/elimination gap when arming the next round
	// failed. All of them continue by starting the next round.
	resume := false
	switch rm.Game.Status {
	case room.StatusStarting, room.StatusPlaying, room.StatusRoundReveal, room.StatusEliminationCheck:
		resume = true
	}

	zlog.Info().Msgf("game resumed: room=%s", rm.Code)
	e.notifier.Broadcast(rm.Code, "gameResumed", map[string]any{})
	e.broadcastRoomLocked(rm)
	rm.Unlock()

	if resume {
		e.startNextRound(roomCode)
	}
	return nil
}

// PauseRoom cancels the room's pending timer after the registry has
// marked the game paused.
func (e *Engine) PauseRoom(roomCode string) {
	e.cancelTimer(roomCode)
}

// DropRoom releases engine resources for a deleted room.
func (e *Engine) DropRoom(roomCode string) {
	e.cancelTimer(roomCode)
}

// broadcastRoomLocked pushes a fresh room snapshot to all members.
// Caller holds the room lock.
func (e *Engine) broadcastRoomLocked(rm *room.Room) {
	e.notifier.Broadcast(rm.Code, "roomUpdated", registry.SerializeRoom(rm))
}

// armTimer replaces the room's pending timer. The callback runs on its
// own goroutine and must revalidate room state itself.
func (e *Engine) armTimer(roomCode string, d time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[roomCode]; ok {
		t.Stop()
	}
	e.timers[roomCode] = time.AfterFunc(d, func() {
		defer func() {
			if r := recover(); r != nil {
				zlog.Error().Msgf("timer callback panic: room=%s err=%v", roomCode, r)
			}
		}()
		fn()
	})
}

// cancelTimer stops the room's pending timer, if any.
func (e *Engine) cancelTimer(roomCode string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[roomCode]; ok {
		t.Stop()
		delete(e.timers, roomCode)
	}
}
