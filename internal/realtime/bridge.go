// Package realtime relays a browser WebSocket to the Azure OpenAI realtime
// endpoint, authenticating upstream with the gateway's credential.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yuki/voicerag/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	dialTimeout    = 15 * time.Second
	maxMessageSize = 8 << 20 // audio buffers arrive base64 encoded
)

// HeaderAuthorizer adds backend credentials to the upstream handshake.
type HeaderAuthorizer interface {
	Apply(ctx context.Context, h http.Header) error
}

// Options selects the realtime deployment and the server-side session settings.
type Options struct {
	Endpoint      string
	Deployment    string
	APIVersion    string
	Voice         string
	Instructions  string
	AllowedOrigin string
}

// Bridge owns every open browser <-> backend session.
type Bridge struct {
	opts     Options
	auth     HeaderAuthorizer
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id        string
	bridge    *Bridge
	client    *websocket.Conn
	upstream  *websocket.Conn
	closeOnce sync.Once
}

// NewBridge creates a bridge. The authorizer is shared by all sessions.
func NewBridge(opts Options, auth HeaderAuthorizer) *Bridge {
	b := &Bridge{
		opts: opts,
		auth: auth,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		sessions: make(map[string]*session),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     b.checkOrigin,
	}
	return b
}

func (b *Bridge) checkOrigin(r *http.Request) bool {
	if b.opts.AllowedOrigin == "*" || b.opts.AllowedOrigin == "" {
		return true
	}
	return r.Header.Get("Origin") == b.opts.AllowedOrigin
}

// Attach registers the bridge endpoint on r.
func (b *Bridge) Attach(r chi.Router, path string) {
	r.Get(path, b.ServeWS)
}

// ActiveSessions returns the number of open sessions.
func (b *Bridge) ActiveSessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Close ends every open session. Hijacked connections are not tracked by
// http.Server, so Shutdown alone leaves them running.
func (b *Bridge) Close() {
	b.mu.RLock()
	open := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		open = append(open, s)
	}
	b.mu.RUnlock()

	for _, s := range open {
		s.close()
	}
}

// ServeWS screens the browser request, then dials the backend before upgrading
// so a dial failure can still be reported as JSON. Nothing is authorized or
// dialed for a request the upgrade would refuse.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, http.StatusBadRequest, "websocket upgrade required")
		return
	}
	if !b.checkOrigin(r) {
		slog.Warn("realtime origin rejected", "origin", r.Header.Get("Origin"))
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	target, err := b.upstreamURL()
	if err != nil {
		slog.Error("invalid realtime endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "realtime backend misconfigured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()

	header := http.Header{}
	if err := b.auth.Apply(ctx, header); err != nil {
		slog.Error("realtime authorization failed", "error", err)
		writeError(w, http.StatusBadGateway, "realtime backend unavailable")
		return
	}

	upstream, resp, err := b.dialer.DialContext(ctx, target, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		slog.Error("realtime upstream dial failed", "status", status, "error", err)
		writeError(w, http.StatusBadGateway, "realtime backend unavailable")
		return
	}

	client, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		upstream.Close()
		return
	}

	s := &session{
		id:       uuid.New().String(),
		bridge:   b,
		client:   client,
		upstream: upstream,
	}
	b.register(s)

	go s.clientToUpstream()
	go s.upstreamToClient()
}

func (b *Bridge) upstreamURL() (string, error) {
	u, err := url.Parse(b.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/openai/realtime"

	q := u.Query()
	q.Set("api-version", b.opts.APIVersion)
	q.Set("deployment", b.opts.Deployment)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Bridge) register(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.id] = s
	metrics.RealtimeSessionsActive.Inc()
	slog.Info("realtime session opened", "id", s.id)
}

func (b *Bridge) unregister(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[s.id]; ok {
		delete(b.sessions, s.id)
		metrics.RealtimeSessionsActive.Dec()
		slog.Info("realtime session closed", "id", s.id)
	}
}

// rewriteClientMessage pins instructions and voice on session.update so the
// browser cannot pick its own.
func (b *Bridge) rewriteClientMessage(data []byte) []byte {
	if !bytes.Contains(data, []byte(`"session.update"`)) {
		return data
	}

	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return data
	}
	if msg["type"] != "session.update" {
		return data
	}

	sess, _ := msg["session"].(map[string]any)
	if sess == nil {
		sess = map[string]any{}
		msg["session"] = sess
	}
	if b.opts.Instructions != "" {
		sess["instructions"] = b.opts.Instructions
	}
	if b.opts.Voice != "" {
		sess["voice"] = b.opts.Voice
	}

	out, err := json.Marshal(msg)
	if err != nil {
		return data
	}
	return out
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.client.WriteControl(websocket.CloseMessage, closing, deadline)
		s.upstream.WriteControl(websocket.CloseMessage, closing, deadline)
		s.client.Close()
		s.upstream.Close()
		s.bridge.unregister(s)
	})
}

func (s *session) clientToUpstream() {
	defer s.close()

	s.client.SetReadLimit(maxMessageSize)
	for {
		mt, data, err := s.client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("realtime client read error", "id", s.id, "error", err)
			}
			return
		}
		if mt == websocket.TextMessage {
			data = s.bridge.rewriteClientMessage(data)
		}

		s.upstream.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.upstream.WriteMessage(mt, data); err != nil {
			slog.Warn("realtime upstream write error", "id", s.id, "error", err)
			return
		}
		metrics.RealtimeMessages.WithLabelValues("client_to_upstream").Inc()
	}
}

func (s *session) upstreamToClient() {
	defer s.close()

	for {
		mt, data, err := s.upstream.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("realtime upstream read error", "id", s.id, "error", err)
			}
			return
		}

		s.client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.client.WriteMessage(mt, data); err != nil {
			slog.Warn("realtime client write error", "id", s.id, "error", err)
			return
		}
		metrics.RealtimeMessages.WithLabelValues("upstream_to_client").Inc()
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
