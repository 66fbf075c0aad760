package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, handle func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastScanReachesScanAndGlobalWatchers(t *testing.T) {
	h := New()

	_, url := newTestServer(t, func(conn *websocket.Conn) {
		h.Subscribe(conn, "job-1")
		_, _, _ = conn.ReadMessage()
	})
	_, globalURL := newTestServer(t, func(conn *websocket.Conn) {
		h.Subscribe(conn, "")
		_, _, _ = conn.ReadMessage()
	})

	scanConn := dial(t, url)
	globalConn := dial(t, globalURL)
	time.Sleep(20 * time.Millisecond) // let both server-side handlers register

	h.BroadcastScan("job-1", []byte(`{"stage":1}`))

	_, scanMsg, err := scanConn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, `{"stage":1}`, string(scanMsg))

	_, globalMsg, err := globalConn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, `{"stage":1}`, string(globalMsg))
}

func TestBroadcastScanDoesNotReachOtherScanWatchers(t *testing.T) {
	h := New()
	_, url := newTestServer(t, func(conn *websocket.Conn) {
		h.Subscribe(conn, "job-other")
	})
	conn := dial(t, url)
	time.Sleep(20 * time.Millisecond)

	h.BroadcastScan("job-1", []byte(`{"stage":1}`))

	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err) // deadline exceeded: no message delivered
}

func TestJobIDFromChannel(t *testing.T) {
	require.Equal(t, "abc-123", jobIDFromChannel("scan", "soc:scan:abc-123"))
	require.Equal(t, "", jobIDFromChannel("scan", "soc:firmware:abc-123"))
}
