package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"imgbatch/api/dto"
	"imgbatch/internal/counter"
)

func writeCounts(w http.ResponseWriter, c counter.Counts) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}

func TestRemote_GetIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeCounts(w, counter.Counts{TotalFiles: 7, TotalSizeBytes: 700})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, RemoteOptions{CacheTTL: time.Minute}, zaptest.NewLogger(t))
	now := time.Now()
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		c, err := r.Get(context.Background())
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if c.TotalFiles != 7 {
			t.Errorf("Unexpected counts: %+v", c)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("Expected one request within the cache window, got %d", hits.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := r.Get(context.Background()); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("Expected a refetch after expiry, got %d requests", hits.Load())
	}
}

func TestRemote_IncrementPostsTotals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/counter" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req dto.IncrementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		if req.FilesProcessed == nil || *req.FilesProcessed != 3 || *req.TotalSizeBytes != 600 {
			t.Errorf("Unexpected body: %+v", req)
		}
		writeCounts(w, counter.Counts{TotalFiles: 103, TotalSizeBytes: 10600})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL+"/", RemoteOptions{}, zaptest.NewLogger(t))
	c, err := r.Increment(context.Background(), 3, 600)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if c.TotalFiles != 103 {
		t.Errorf("Unexpected counts: %+v", c)
	}

	// the write refreshed the cache
	cached, ok := r.fromCache()
	if !ok || cached.TotalFiles != 103 {
		t.Errorf("Expected cache to hold the new counts, got %+v", cached)
	}
}

func TestRemote_ResetSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "unauthorized"})
			return
		}
		var req dto.ResetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if r.Method != http.MethodPut || !req.Reset {
			t.Errorf("Unexpected reset request %s %+v", r.Method, req)
		}
		writeCounts(w, counter.Counts{})
	}))
	defer srv.Close()

	if _, err := NewRemote(srv.URL, RemoteOptions{Token: "secret"}, zaptest.NewLogger(t)).Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	_, err := NewRemote(srv.URL, RemoteOptions{}, zaptest.NewLogger(t)).Reset(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized || statusErr.Message != "unauthorized" {
		t.Errorf("Expected 401 StatusError, got %v", err)
	}
}

func TestRemote_SubscribeReceivesPushes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/counter/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := int64(1); i <= 2; i++ {
			if err := conn.WriteJSON(counter.Counts{TotalFiles: i}); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, RemoteOptions{}, zaptest.NewLogger(t))
	got := make(chan counter.Counts, 2)
	sub, err := r.Subscribe(context.Background(), func(c counter.Counts) { got <- c })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	for want := int64(1); want <= 2; want++ {
		select {
		case c := <-got:
			if c.TotalFiles != want {
				t.Errorf("Expected %d files, got %d", want, c.TotalFiles)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for pushed counts")
		}
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080/api/counter/ws":   "ws://localhost:8080/api/counter/ws",
		"https://counter.example/api/counter/ws": "wss://counter.example/api/counter/ws",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		if err != nil || got != want {
			t.Errorf("websocketURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
