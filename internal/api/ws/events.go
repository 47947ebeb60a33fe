package ws

// Inbound message types.
const (
	MsgCreateRoom    = "createRoom"
	MsgJoinRoom      = "joinRoom"
	MsgLeaveRoom     = "leaveRoom"
	MsgStartGame     = "startGame"
	MsgSubmitAnswer  = "submitAnswer"
	MsgSetMusicAuth  = "setMusicAuth"
	MsgLoadPlaylist  = "loadPlaylist"
	MsgRestartGame   = "restartGame"
	MsgResumeGame    = "resumeGame"
	MsgEndGame       = "endGame"
	MsgPlaybackReady = "playbackReady"
	MsgPlaybackEnded = "playbackEnded"
)

// Outbound event types.
const (
	EvtCreateRoomResult  = "createRoomResult"
	EvtJoinRoomResult    = "joinRoomResult"
	EvtRoomJoined        = "roomJoined"
	EvtRoomUpdated       = "roomUpdated"
	EvtPlayerJoined      = "playerJoined"
	EvtPlayerLeft        = "playerLeft"
	EvtPlayerReconnected = "playerReconnected"
	EvtMusicConnected    = "musicConnected"
	EvtPlaylistLoaded    = "playlistLoaded"
	EvtGamePaused        = "gamePaused"
	EvtError             = "error"
)

// Envelope is the inbound message frame. The optional id is echoed on
// the direct reply.
type Envelope struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// Outbound is the outbound event frame.
type Outbound struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// CreateRoomPayload carries a createRoom request.
type CreateRoomPayload struct {
	Nickname string `mapstructure:"nickname"`
}

// JoinRoomPayload carries a joinRoom request.
type JoinRoomPayload struct {
	RoomCode string `mapstructure:"roomCode"`
	Nickname string `mapstructure:"nickname"`
}

// SubmitAnswerPayload carries a round submission.
type SubmitAnswerPayload struct {
	SongTitle string `mapstructure:"songTitle"`
	Artist    string `mapstructure:"artist"`
}

// SetMusicAuthPayload carries the host's music tokens, delivered from
// the browser after the OAuth redirect.
type SetMusicAuthPayload struct {
	AccessToken  string `mapstructure:"accessToken"`
	RefreshToken string `mapstructure:"refreshToken"`
	ExpiresIn    int64  `mapstructure:"expiresIn"`
}

// LoadPlaylistPayload carries a playlist selection. The field accepts a
// bare id, a share URL or a service URI.
type LoadPlaylistPayload struct {
	PlaylistID string `mapstructure:"playlistId"`
}

// PlaybackStatePayload carries host playback progress reports.
type PlaybackStatePayload struct {
	TrackURI   string `mapstructure:"trackUri"`
	PositionMs int64  `mapstructure:"positionMs"`
}

// ErrorPayload is the outbound error event body.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// AckPayload is the direct reply to createRoom and joinRoom. The full
// room snapshot follows separately on the roomJoined event.
type AckPayload struct {
	Success  bool   `json:"success"`
	RoomCode string `json:"roomCode,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Error    string `json:"error,omitempty"`
}
