package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yuki/voicerag/internal/config"
	"github.com/yuki/voicerag/internal/provider"
	"github.com/yuki/voicerag/internal/speech"
)

const (
	// RealtimePath is where the realtime bridge is attached.
	RealtimePath = "/realtime"

	msgMissingSpeechConfig = "Missing Azure Speech key or region"
	msgSpeechTokenFailed   = "Failed to get Azure Speech token"
)

// Attacher registers a streaming endpoint on the router.
type Attacher interface {
	Attach(r chi.Router, path string)
}

// Server holds dependencies for API handlers.
type Server struct {
	cfg    *config.Config
	tokens *speech.Issuer
	chat   provider.LLMProvider
}

// NewRouter creates a fully wired Chi router. chat may be nil. Background work
// started for the router stops when ctx is done.
func NewRouter(ctx context.Context, cfg *config.Config, tokens *speech.Issuer, bridge Attacher, chat provider.LLMProvider) *chi.Mux {
	s := &Server{cfg: cfg, tokens: tokens, chat: chat}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(CORSMiddleware(cfg.AllowedOrigin))

	limiter := NewRateLimiter(ctx, 10, 30, 10*time.Minute)
	r.Use(limiter.Middleware)

	r.Get("/avatar/token", s.handleAvatarToken)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/chat", s.handleChat)
	})

	r.Handle("/metrics", promhttp.Handler())

	bridge.Attach(r, RealtimePath)

	r.Get("/", s.handleIndex)
	r.Handle("/*", staticFileServer(cfg.StaticDir))

	return r
}

func (s *Server) handleAvatarToken(w http.ResponseWriter, r *http.Request) {
	resp, err := s.tokens.Issue(r.Context())
	if err != nil {
		if errors.Is(err, speech.ErrMissingConfig) {
			slog.Error("speech token unavailable", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgMissingSpeechConfig})
			return
		}
		slog.Error("speech token request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgSpeechTokenFailed})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chat deployment not configured"})
		return
	}

	var req struct {
		Messages []provider.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages are required"})
		return
	}

	content, err := provider.Collect(r.Context(), s.chat, req.Messages)
	if errors.Is(err, provider.ErrUnsupportedRole) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported message role"})
		return
	}
	if err != nil {
		slog.Error("chat failed", "provider", s.chat.Name(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "chat failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// staticFileServer serves files under dir and 404s anything else, directories included.
func staticFileServer(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Clean("/" + r.URL.Path)
		fullPath := filepath.Join(dir, path)

		if !strings.HasPrefix(fullPath, filepath.Clean(dir)+string(os.PathSeparator)) {
			http.NotFound(w, r)
			return
		}

		info, err := os.Stat(fullPath)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		switch {
		case strings.HasSuffix(path, ".js"):
			w.Header().Set("Content-Type", "application/javascript")
		case strings.HasSuffix(path, ".css"):
			w.Header().Set("Content-Type", "text/css")
		case strings.HasSuffix(path, ".svg"):
			w.Header().Set("Content-Type", "image/svg+xml")
		}

		http.ServeFile(w, r, fullPath)
	}
}
