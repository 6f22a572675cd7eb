// Package backend provides the counter backends available to the imgbatch CLI.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"imgbatch/api/dto"
	"imgbatch/internal/counter"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	counterPath     = "/api/counter"
	streamPath      = "/api/counter/ws"
	pongWait        = 60 * time.Second
)

// Remote talks to counterd over HTTP. Reads are served from a short lived
// cache that every successful write refreshes.
type Remote struct {
	baseURL  string
	token    string
	client   *http.Client
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	cached   counter.Counts
	cachedAt time.Time
	hasCache bool
}

type RemoteOptions struct {
	Token    string
	CacheTTL time.Duration
	Timeout  time.Duration
}

func NewRemote(baseURL string, opts RemoteOptions, logger *zap.Logger) *Remote {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Remote{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    opts.Token,
		client:   &http.Client{Timeout: opts.Timeout},
		cacheTTL: opts.CacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Remote) Get(ctx context.Context) (counter.Counts, error) {
	if c, ok := r.fromCache(); ok {
		return c, nil
	}
	var counts counter.Counts
	if err := r.do(ctx, http.MethodGet, nil, &counts); err != nil {
		return counter.Counts{}, err
	}
	r.store(counts)
	return counts, nil
}

func (r *Remote) Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error) {
	var counts counter.Counts
	body := dto.IncrementRequest{FilesProcessed: &files, TotalSizeBytes: &sizeBytes}
	if err := r.do(ctx, http.MethodPost, body, &counts); err != nil {
		return counter.Counts{}, err
	}
	r.store(counts)
	return counts, nil
}

func (r *Remote) Reset(ctx context.Context) (counter.Counts, error) {
	var counts counter.Counts
	if err := r.do(ctx, http.MethodPut, dto.ResetRequest{Reset: true}, &counts); err != nil {
		return counter.Counts{}, err
	}
	r.store(counts)
	return counts, nil
}

// Subscribe streams pushed counts over a websocket until ctx is done or the
// subscription is closed.
func (r *Remote) Subscribe(ctx context.Context, fn func(counter.Counts)) (counter.Subscription, error) {
	wsURL, err := websocketURL(r.baseURL + streamPath)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial counter stream: %w", err)
	}

	sub := &wsSubscription{conn: conn}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	go func() {
		for {
			var counts counter.Counts
			if err := conn.ReadJSON(&counts); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !sub.closed() {
					r.logger.Warn("Counter stream closed", zap.Error(err))
				}
				return
			}
			r.store(counts)
			fn(counts)
		}
	}()
	return sub, nil
}

func (r *Remote) do(ctx context.Context, method string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+counterPath, payload)
	if err != nil {
		return fmt.Errorf("build counter request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("counter %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e dto.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode counter response: %w", err)
	}
	return nil
}

func (r *Remote) fromCache() (counter.Counts, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasCache || r.now().Sub(r.cachedAt) >= r.cacheTTL {
		return counter.Counts{}, false
	}
	return r.cached, true
}

func (r *Remote) store(c counter.Counts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = c
	r.cachedAt = r.now()
	r.hasCache = true
}

// StatusError is a non-2xx answer from counterd.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("counter service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("counter service returned %d: %s", e.StatusCode, e.Message)
}

type wsSubscription struct {
	conn *websocket.Conn
	once sync.Once
	mu   sync.Mutex
	done bool
}

func (s *wsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscription) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse counter url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	return u.String(), nil
}
