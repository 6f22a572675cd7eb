package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"imgbatch/internal/counter"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_SendsInitialThenBroadcasts(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, &counter.Counts{TotalFiles: 1})
	}))
	defer srv.Close()

	conn := dial(t, srv.URL)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got counter.Counts
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, int64(1), got.TotalFiles)

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	hub.Broadcast(counter.Counts{TotalFiles: 2, TotalSizeBytes: 20})

	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, int64(2), got.TotalFiles)
	assert.Equal(t, int64(20), got.TotalSizeBytes)
}

func TestHub_RemovesClosedClients(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, nil)
	}))
	defer srv.Close()

	conn := dial(t, srv.URL)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}
