package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureHandler struct {
	mu          sync.Mutex
	messages    []string
	connIDs     []string
	disconnects []string
}

func (h *captureHandler) HandleMessage(connID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connIDs = append(h.connIDs, connID)
	h.messages = append(h.messages, string(data))
}

func (h *captureHandler) HandleDisconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, connID)
}

func (h *captureHandler) lastConn() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.connIDs) == 0 {
		return "", false
	}
	return h.connIDs[len(h.connIDs)-1], true
}

func (h *captureHandler) disconnected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnects)
}

func TestHubRoundTrip(t *testing.T) {
	hub := NewHub("")
	handler := &captureHandler{}
	hub.SetHandler(handler)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Inbound frames reach the handler with the connection id.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	var connID string
	require.Eventually(t, func() bool {
		id, ok := handler.lastConn()
		connID = id
		return ok
	}, time.Second, 5*time.Millisecond)

	// Room broadcasts reach members.
	hub.JoinRoomGroup(connID, "AB23")
	hub.Broadcast("AB23", "roomUpdated", map[string]any{"code": "AB23"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var out Outbound
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "roomUpdated", out.Type)

	// Direct sends with a request id echo it.
	hub.Reply(connID, EvtError, "req-1", ErrorPayload{Message: "nope"})
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "req-1", out.ID)

	// Closing the socket fires the disconnect hook exactly once.
	conn.Close()
	require.Eventually(t, func() bool {
		return handler.disconnected() == 1
	}, time.Second, 5*time.Millisecond)

	// Sends to a gone connection are a no-op.
	hub.Send(connID, "error", nil)
	hub.Broadcast("AB23", "roomUpdated", nil)
}
