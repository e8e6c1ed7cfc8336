package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startFeed(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := NewManager(5, time.Second, time.Minute, 30*time.Second, zap.NewNop())
	go m.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(r.URL.Query().Get("id"), "admin", r.URL.Query().Get("device"), conn, m)
		if !m.Add(c) {
			conn.Close()
			return
		}
		go c.WritePump()
		go c.ReadPump()
	}))
	t.Cleanup(srv.Close)

	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, id, device string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=" + id + "&device=" + device
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastSkipsOriginDevice(t *testing.T) {
	m, srv := startFeed(t)

	origin := dial(t, srv, "c1", "laptop")
	other := dial(t, srv, "c2", "phone")

	require.Eventually(t, func() bool { return m.GetUserConnections("admin") == 2 }, 2*time.Second, 10*time.Millisecond)

	msg, err := NewMessage(TypeNoteUpdate, map[string]interface{}{"id": "n1", "version": 3, "deleted": 0})
	require.NoError(t, err)
	require.NoError(t, m.BroadcastToUser("admin", msg, "laptop"))

	other.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := other.ReadMessage()
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, TypeNoteUpdate, got.Type)

	var payload struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	}
	require.NoError(t, got.UnmarshalPayload(&payload))
	assert.Equal(t, "n1", payload.ID)
	assert.Equal(t, int64(3), payload.Version)

	origin.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = origin.ReadMessage()
	assert.Error(t, err, "origin device must not receive its own change")
}

func TestPingGetsPong(t *testing.T) {
	m, srv := startFeed(t)
	conn := dial(t, srv, "c1", "laptop")
	require.Eventually(t, func() bool { return m.GetUserConnections("admin") == 1 }, 2*time.Second, 10*time.Millisecond)

	ping, err := NewMessage(TypePing, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ping))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, TypePong, got.Type)
}

func TestUnregisterOnDisconnect(t *testing.T) {
	m, srv := startFeed(t)
	conn := dial(t, srv, "c1", "laptop")
	require.Eventually(t, func() bool { return m.GetUserConnections("admin") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return m.GetUserConnections("admin") == 0 }, 2*time.Second, 10*time.Millisecond)
}
