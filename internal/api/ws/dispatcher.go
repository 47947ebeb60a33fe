package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/beatrace/internal/app/engine"
	"github.com/osa030/beatrace/internal/app/registry"
	"github.com/osa030/beatrace/internal/domain/room"
	"github.com/osa030/beatrace/internal/domain/track"
	"github.com/osa030/beatrace/internal/infra/spotify"
)

// playlistCooldown is the minimum gap between playlist loads per room.
const playlistCooldown = 5 * time.Second

const gatewayTimeout = 30 * time.Second

// Dispatcher routes inbound messages to the registry, engine and
// gateway. It is the only component that knows about connections.
type Dispatcher struct {
	hub     *Hub
	reg     *registry.Registry
	eng     *engine.Engine
	gateway *spotify.Client
}

// NewDispatcher creates a dispatcher and binds it to the hub.
func NewDispatcher(hub *Hub, reg *registry.Registry, eng *engine.Engine, gateway *spotify.Client) *Dispatcher {
	d := &Dispatcher{hub: hub, reg: reg, eng: eng, gateway: gateway}
	hub.SetHandler(d)
	return d
}

// HandleMessage decodes and dispatches one inbound frame. A panic in a
// handler is contained to the triggering message.
func (d *Dispatcher) HandleMessage(connID string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("message handler panic: conn=%s err=%v", connID, r)
			d.sendError(connID, "", "INTERNAL", "internal server error")
		}
	}()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.sendError(connID, "", "BAD_MESSAGE", "malformed message")
		return
	}

	switch env.Type {
	case MsgCreateRoom:
		d.handleCreateRoom(connID, env)
	case MsgJoinRoom:
		d.handleJoinRoom(connID, env)
	case MsgLeaveRoom:
		d.handleLeaveRoom(connID)
	case MsgStartGame:
		d.withPlayer(connID, env, func(rm *room.Room, playerID string) error {
			return d.eng.StartGame(rm.Code, playerID)
		})
	case MsgSubmitAnswer:
		d.handleSubmitAnswer(connID, env)
	case MsgSetMusicAuth:
		d.handleSetMusicAuth(connID, env)
	case MsgLoadPlaylist:
		d.handleLoadPlaylist(connID, env)
	case MsgRestartGame:
		d.withPlayer(connID, env, func(rm *room.Room, playerID string) error {
			return d.eng.RestartGame(rm.Code, playerID)
		})
	case MsgResumeGame:
		d.withPlayer(connID, env, func(rm *room.Room, playerID string) error {
			return d.eng.ResumeGame(rm.Code, playerID)
		})
	case MsgEndGame:
		d.withPlayer(connID, env, func(rm *room.Room, playerID string) error {
			return d.eng.EndGame(rm.Code, playerID)
		})
	case MsgPlaybackReady, MsgPlaybackEnded:
		d.handlePlaybackReport(connID, env)
	default:
		d.sendError(connID, env.ID, "UNKNOWN_TYPE", "unknown message type: "+env.Type)
	}
}

// HandleDisconnect reacts to a dropped connection.
func (d *Dispatcher) HandleDisconnect(connID string) {
	res, ok := d.reg.HandleDisconnect(connID)
	if !ok {
		return
	}

	d.hub.LeaveRoomGroup(connID, res.Room.Code)

	if res.Paused {
		d.eng.PauseRoom(res.Room.Code)
		d.hub.Broadcast(res.Room.Code, EvtGamePaused, map[string]any{
			"reason": "HOST_DISCONNECTED",
		})
	}
	d.broadcastRoom(res.Room)
}

func (d *Dispatcher) handleCreateRoom(connID string, env Envelope) {
	var p CreateRoomPayload
	if !d.decode(connID, env, &p) {
		return
	}

	rm, playerID, err := d.reg.CreateRoom(p.Nickname, connID)
	if err != nil {
		d.hub.Reply(connID, EvtCreateRoomResult, env.ID, AckPayload{Success: false, Error: err.Error()})
		return
	}

	d.hub.JoinRoomGroup(connID, rm.Code)

	rm.Lock()
	snap := registry.SerializeRoom(rm)
	rm.Unlock()

	d.hub.Reply(connID, EvtCreateRoomResult, env.ID, AckPayload{
		Success:  true,
		RoomCode: rm.Code,
		PlayerID: playerID,
	})
	d.hub.Send(connID, EvtRoomJoined, map[string]any{
		"room":     snap,
		"playerId": playerID,
	})
}

func (d *Dispatcher) handleJoinRoom(connID string, env Envelope) {
	var p JoinRoomPayload
	if !d.decode(connID, env, &p) {
		return
	}

	res, err := d.reg.JoinRoom(p.RoomCode, p.Nickname, connID)
	if err != nil {
		d.hub.Reply(connID, EvtJoinRoomResult, env.ID, AckPayload{Success: false, Error: err.Error()})
		return
	}

	d.hub.JoinRoomGroup(connID, res.Room.Code)

	res.Room.Lock()
	snap := registry.SerializeRoom(res.Room)
	var joined registry.SerializedPlayer
	if p, ok := res.Room.Player(res.PlayerID); ok {
		joined = registry.SerializePlayer(p)
	}
	hostBack := res.IsRejoin && res.Room.HostID == res.PlayerID &&
		res.Room.Game.IsPaused && res.Room.Game.PauseReason == "HOST_DISCONNECTED"
	res.Room.Unlock()

	d.hub.Reply(connID, EvtJoinRoomResult, env.ID, AckPayload{
		Success:  true,
		RoomCode: res.Room.Code,
		PlayerID: res.PlayerID,
	})
	d.hub.Send(connID, EvtRoomJoined, map[string]any{
		"room":     snap,
		"playerId": res.PlayerID,
	})
	if res.IsRejoin {
		d.hub.Broadcast(res.Room.Code, EvtPlayerReconnected, map[string]any{
			"playerId": joined.ID,
			"nickname": joined.Nickname,
		})
	} else {
		d.hub.Broadcast(res.Room.Code, EvtPlayerJoined, map[string]any{
			"player": joined,
		})
	}

	// A host returning to a game that paused on their disconnect
	// resumes it without a further client message.
	if hostBack {
		if err := d.eng.ResumeGame(res.Room.Code, res.PlayerID); err != nil {
			zlog.Warn().Msgf("resume on host rejoin failed: room=%s err=%v", res.Room.Code, err)
		}
	}
	d.broadcastRoom(res.Room)
}

func (d *Dispatcher) handleLeaveRoom(connID string) {
	res, ok := d.reg.RemovePlayer(connID)
	if !ok {
		return
	}

	d.hub.LeaveRoomGroup(connID, res.Room.Code)

	if res.RoomDeleted {
		d.eng.DropRoom(res.Room.Code)
		return
	}
	d.hub.Broadcast(res.Room.Code, EvtPlayerLeft, map[string]any{
		"playerId": res.Player.ID,
		"nickname": res.Player.Nickname,
	})
	d.broadcastRoom(res.Room)
}

func (d *Dispatcher) handleSubmitAnswer(connID string, env Envelope) {
	var p SubmitAnswerPayload
	if !d.decode(connID, env, &p) {
		return
	}

	player, rm, ok := d.reg.PlayerByConn(connID)
	if !ok {
		d.sendError(connID, env.ID, "NOT_IN_ROOM", "not in a room")
		return
	}

	if err := d.eng.SubmitAnswer(rm.Code, player.ID, p.SongTitle, p.Artist); err != nil {
		d.sendError(connID, env.ID, errCode(err), err.Error())
	}
}

func (d *Dispatcher) handleSetMusicAuth(connID string, env Envelope) {
	var p SetMusicAuthPayload
	if !d.decode(connID, env, &p) {
		return
	}
	if p.AccessToken == "" || p.RefreshToken == "" {
		d.sendError(connID, env.ID, "BAD_MESSAGE", "access and refresh tokens are required")
		return
	}

	player, rm, ok := d.reg.PlayerByConn(connID)
	if !ok {
		d.sendError(connID, env.ID, "NOT_IN_ROOM", "not in a room")
		return
	}

	rm.Lock()
	if rm.HostID != player.ID {
		rm.Unlock()
		d.sendError(connID, env.ID, "NOT_HOST", engine.ErrNotHost.Error())
		return
	}
	rm.Auth = &track.MusicAuth{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(p.ExpiresIn) * time.Second),
	}
	rm.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()

	userID, err := d.gateway.CurrentUser(ctx, p.AccessToken)
	if err != nil {
		zlog.Warn().Msgf("music auth verification failed: room=%s err=%v", rm.Code, err)
		d.sendError(connID, env.ID, errCode(err), "could not verify music account")
		return
	}

	rm.Lock()
	if rm.Auth != nil && rm.Auth.AccessToken == p.AccessToken {
		rm.Auth.UserID = userID
	}
	rm.Unlock()

	zlog.Info().Msgf("music account connected: room=%s user=%s", rm.Code, userID)
	d.hub.Reply(connID, EvtMusicConnected, env.ID, map[string]any{"userId": userID})
	d.broadcastRoom(rm)
}

func (d *Dispatcher) handleLoadPlaylist(connID string, env Envelope) {
	var p LoadPlaylistPayload
	if !d.decode(connID, env, &p) {
		return
	}

	playlistID := spotify.ParsePlaylistID(p.PlaylistID)
	if playlistID == "" {
		d.sendError(connID, env.ID, "INVALID_PLAYLIST", "unrecognized playlist link")
		return
	}

	player, rm, ok := d.reg.PlayerByConn(connID)
	if !ok {
		d.sendError(connID, env.ID, "NOT_IN_ROOM", "not in a room")
		return
	}

	rm.Lock()
	switch {
	case rm.HostID != player.ID:
		rm.Unlock()
		d.sendError(connID, env.ID, "NOT_HOST", engine.ErrNotHost.Error())
		return
	case rm.Auth == nil:
		rm.Unlock()
		d.sendError(connID, env.ID, "NO_MUSIC_AUTH", engine.ErrNoMusicAuth.Error())
		return
	case time.Since(rm.LastPlaylistLoad) < playlistCooldown:
		rm.Unlock()
		d.sendError(connID, env.ID, "PLAYLIST_COOLDOWN", "wait a moment before loading another playlist")
		return
	}
	rm.LastPlaylistLoad = time.Now()
	auth := *rm.Auth
	rm.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()

	fresh, err := d.gateway.EnsureValidToken(ctx, auth)
	if err != nil {
		d.sendError(connID, env.ID, errCode(err), "could not refresh music session")
		return
	}

	playlist, err := d.gateway.GetPlaylist(ctx, fresh.AccessToken, playlistID)
	if err != nil {
		d.sendError(connID, env.ID, errCode(err), "could not load playlist")
		return
	}

	rm.Lock()
	if rm.HostID != player.ID {
		rm.Unlock()
		return
	}
	rm.Auth = &fresh
	rm.Playlist = playlist
	rm.Unlock()

	zlog.Info().Msgf("playlist loaded: room=%s playlist=%q tracks=%d", rm.Code, playlist.Name, playlist.TotalTracks)
	d.hub.Reply(connID, EvtPlaylistLoaded, env.ID, map[string]any{
		"playlist":   playlist,
		"trackCount": playlist.TotalTracks,
	})
	d.broadcastRoom(rm)
}

func (d *Dispatcher) handlePlaybackReport(connID string, env Envelope) {
	var p PlaybackStatePayload
	if err := mapstructure.Decode(env.Payload, &p); err != nil {
		return
	}

	if _, rm, ok := d.reg.PlayerByConn(connID); ok {
		zlog.Debug().Msgf("playback report: room=%s type=%s track=%s position=%d",
			rm.Code, env.Type, p.TrackURI, p.PositionMs)
	}
}

// withPlayer resolves the caller's room and player and runs an engine
// action, reporting any error back on the connection.
func (d *Dispatcher) withPlayer(connID string, env Envelope, fn func(rm *room.Room, playerID string) error) {
	player, rm, ok := d.reg.PlayerByConn(connID)
	if !ok {
		d.sendError(connID, env.ID, "NOT_IN_ROOM", "not in a room")
		return
	}
	if err := fn(rm, player.ID); err != nil {
		d.sendError(connID, env.ID, errCode(err), err.Error())
	}
}

func (d *Dispatcher) broadcastRoom(rm *room.Room) {
	rm.Lock()
	snap := registry.SerializeRoom(rm)
	rm.Unlock()
	d.hub.Broadcast(rm.Code, EvtRoomUpdated, snap)
}

func (d *Dispatcher) decode(connID string, env Envelope, out any) bool {
	if err := mapstructure.Decode(env.Payload, out); err != nil {
		d.sendError(connID, env.ID, "BAD_MESSAGE", "malformed payload")
		return false
	}
	return true
}

func (d *Dispatcher) sendError(connID, requestID, code, message string) {
	d.hub.Reply(connID, EvtError, requestID, ErrorPayload{Message: message, Code: code})
}

// errCode maps domain errors to wire error codes.
func errCode(err error) string {
	if _, ok := spotify.AsRateLimit(err); ok {
		return "RATE_LIMITED"
	}

	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case errors.Is(err, registry.ErrRoomFull):
		return "ROOM_FULL"
	case errors.Is(err, registry.ErrGameInProgress):
		return "GAME_IN_PROGRESS"
	case errors.Is(err, registry.ErrEmptyNickname):
		return "INVALID_NICKNAME"
	case errors.Is(err, engine.ErrNotHost):
		return "NOT_HOST"
	case errors.Is(err, engine.ErrNotEnoughActive):
		return "NOT_ENOUGH_PLAYERS"
	case errors.Is(err, engine.ErrNoMusicAuth):
		return "NO_MUSIC_AUTH"
	case errors.Is(err, engine.ErrNoPlaylist):
		return "NO_PLAYLIST"
	case errors.Is(err, engine.ErrWrongState):
		return "WRONG_STATE"
	case errors.Is(err, engine.ErrGamePaused):
		return "GAME_PAUSED"
	case errors.Is(err, engine.ErrAlreadyAnswered):
		return "ALREADY_SUBMITTED"
	case errors.Is(err, engine.ErrEliminated):
		return "ELIMINATED"
	default:
		return "INTERNAL"
	}
}
