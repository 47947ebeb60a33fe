// Package httpapi provides the HTTP surface: health, the music OAuth
// flow and the WebSocket upgrade endpoint.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/beatrace/internal/api/ws"
	"github.com/osa030/beatrace/internal/app/registry"
	"github.com/osa030/beatrace/internal/infra/spotify"
)

// stateMaxAge bounds how old an OAuth state may be before the callback
// rejects it.
const stateMaxAge = 10 * time.Minute

// Server is the HTTP API.
type Server struct {
	reg     *registry.Registry
	gateway *spotify.Client
	hub     *ws.Hub
	baseURL string
}

// NewServer creates the HTTP API.
func NewServer(reg *registry.Registry, gateway *spotify.Client, hub *ws.Hub, baseURL string) *Server {
	return &Server{reg: reg, gateway: gateway, hub: hub, baseURL: baseURL}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	router := httprouter.New()
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, err any) {
		zlog.Error().Msgf("http handler panic: path=%s err=%v", r.URL.Path, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	router.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	router.HandlerFunc(http.MethodGet, "/api/music/auth", s.handleAuth)
	router.HandlerFunc(http.MethodGet, "/api/music/callback", s.handleCallback)
	router.HandlerFunc(http.MethodPost, "/api/music/refresh", s.handleRefresh)
	router.HandlerFunc(http.MethodGet, "/ws", s.hub.ServeWS)

	return securityHeaders(router)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  s.reg.RoomCount(),
	})
}

// authState rides through the OAuth redirect as opaque state.
type authState struct {
	RoomCode string `json:"roomCode"`
	IssuedAt int64  `json:"ts"`
}

// handleAuth starts the music authorization flow for a room's host.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("roomCode")
	if _, ok := s.reg.Room(roomCode); !ok {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}

	raw, err := json.Marshal(authState{RoomCode: roomCode, IssuedAt: time.Now().Unix()})
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	http.Redirect(w, r, s.gateway.AuthURL(state), http.StatusFound)
}

// handleCallback finishes the OAuth flow. Tokens travel to the browser
// in the URL fragment so they never appear in server or proxy logs.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		zlog.Warn().Msgf("music authorization denied: reason=%s", errParam)
		http.Redirect(w, r, s.baseURL+"/?authError="+url.QueryEscape(errParam), http.StatusFound)
		return
	}

	st, ok := decodeState(q.Get("state"))
	if !ok {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	auth, err := s.gateway.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		zlog.Error().Msgf("authorization code exchange failed: room=%s err=%v", st.RoomCode, err)
		http.Redirect(w, r, s.baseURL+"/room/"+st.RoomCode+"?authError=exchange_failed", http.StatusFound)
		return
	}

	expiresIn := int64(time.Until(auth.ExpiresAt).Seconds())
	fragment := url.Values{
		"access_token":  {auth.AccessToken},
		"refresh_token": {auth.RefreshToken},
		"expires_in":    {strconv.FormatInt(expiresIn, 10)},
	}
	http.Redirect(w, r, s.baseURL+"/room/"+st.RoomCode+"#"+fragment.Encode(), http.StatusFound)
}

func decodeState(raw string) (authState, bool) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return authState{}, false
	}
	var st authState
	if err := json.Unmarshal(data, &st); err != nil || st.RoomCode == "" {
		return authState{}, false
	}
	if time.Since(time.Unix(st.IssuedAt, 0)) > stateMaxAge {
		return authState{}, false
	}
	return st, true
}

// handleRefresh trades a refresh token for a fresh access token on
// behalf of the host's browser.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		http.Error(w, "refreshToken is required", http.StatusBadRequest)
		return
	}

	auth, err := s.gateway.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if rle, ok := spotify.AsRateLimit(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  auth.AccessToken,
		"refreshToken": auth.RefreshToken,
		"expiresIn":    int64(time.Until(auth.ExpiresAt).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Msgf("response encode failed: %v", err)
	}
}
