package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/beatrace/internal/api/ws"
	"github.com/osa030/beatrace/internal/app/registry"
	"github.com/osa030/beatrace/internal/domain/room"
	"github.com/osa030/beatrace/internal/infra/spotify"
)

func testServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	gateway, err := spotify.New(spotify.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:8080/api/music/callback",
	})
	require.NoError(t, err)

	reg := registry.New(registry.Config{
		Settings: room.Settings{MaxPlayers: 10, RoundDuration: time.Minute, RevealDuration: 8 * time.Second},
	})
	hub := ws.NewHub("")

	return NewServer(reg, gateway, hub, "http://localhost:8080"), reg
}

func TestHealth(t *testing.T) {
	srv, reg := testServer(t)
	_, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["rooms"])

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAuthRedirect(t *testing.T) {
	srv, reg := testServer(t)
	rm, _, err := reg.CreateRoom("alice", "c1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/music/auth?roomCode="+rm.Code, nil)
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "client_id=id")
	assert.Contains(t, loc, "state=")

	// Unknown room is rejected before redirecting anywhere.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/music/auth?roomCode=ZZZZ", nil)
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecodeState(t *testing.T) {
	encode := func(st authState) string {
		raw, _ := json.Marshal(st)
		return base64.RawURLEncoding.EncodeToString(raw)
	}

	tests := []struct {
		name   string
		raw    string
		wantOK bool
		room   string
	}{
		{
			name:   "valid",
			raw:    encode(authState{RoomCode: "AB23", IssuedAt: time.Now().Unix()}),
			wantOK: true,
			room:   "AB23",
		},
		{
			name:   "expired",
			raw:    encode(authState{RoomCode: "AB23", IssuedAt: time.Now().Add(-time.Hour).Unix()}),
			wantOK: false,
		},
		{
			name:   "missing room code",
			raw:    encode(authState{IssuedAt: time.Now().Unix()}),
			wantOK: false,
		},
		{
			name:   "not base64",
			raw:    "%%%",
			wantOK: false,
		},
		{
			name:   "not json",
			raw:    base64.RawURLEncoding.EncodeToString([]byte("hello")),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := decodeState(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.room, st.RoomCode)
			}
		})
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/music/callback?code=abc&state=garbage", nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRequiresToken(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/music/refresh", nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
