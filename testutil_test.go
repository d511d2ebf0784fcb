package main

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.CreateTables())
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv := NewServer(newTestDB(t))
	ts := httptest.NewServer(srv.RegisterRoutes())
	t.Cleanup(ts.Close)

	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func sendEventFrame(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(WSMessage{Type: msgType, Data: data}))
}

// readEvent reads frames until one of the wanted type arrives, failing
// the test if nothing matches within the deadline.
func readEvent(t *testing.T, conn *websocket.Conn, want string) WSMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q event", want)
		if msg.Type == want {
			return msg
		}
	}
}

// expectSilence asserts that no frame arrives on the connection within
// the window. Silent no-ops depend on this.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var msg WSMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err, "expected no event, got %q", msg.Type)
}

// decodeData re-marshals a decoded event payload into a typed struct.
func decodeData(t *testing.T, data interface{}, out interface{}) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}
