package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yuki/voicerag/internal/api"
	"github.com/yuki/voicerag/internal/config"
	"github.com/yuki/voicerag/internal/credential"
	"github.com/yuki/voicerag/internal/provider"
	"github.com/yuki/voicerag/internal/provider/llm"
	"github.com/yuki/voicerag/internal/realtime"
	"github.com/yuki/voicerag/internal/speech"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	handler, bridge, err := assemble(ctx, cfg)
	if err != nil {
		slog.Error("failed to assemble gateway", "error", err)
		os.Exit(1)
	}

	// WriteTimeout stays zero: realtime sessions are long-lived hijacked connections.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	bridge.Close()
	stop()

	slog.Info("server stopped")
}

// assemble resolves the backend credential once and wires every route. The
// bridge is returned so its sessions can be closed on shutdown.
func assemble(ctx context.Context, cfg *config.Config) (http.Handler, *realtime.Bridge, error) {
	cred := credential.Resolve(cfg.OpenAI)
	auth, err := credential.NewAuthorizer(cred)
	if err != nil {
		return nil, nil, err
	}

	bridge := realtime.NewBridge(realtime.Options{
		Endpoint:      cfg.OpenAI.Endpoint,
		Deployment:    cfg.OpenAI.RealtimeDeployment,
		APIVersion:    cfg.OpenAI.APIVersion,
		Voice:         cfg.OpenAI.Voice,
		Instructions:  cfg.OpenAI.SystemMessage,
		AllowedOrigin: cfg.AllowedOrigin,
	}, auth)

	var chat provider.LLMProvider
	if cfg.OpenAI.ChatDeployment != "" {
		p, err := llm.NewAzureOpenAIProvider(cfg.OpenAI.Endpoint, cfg.OpenAI.APIVersion, cfg.OpenAI.ChatDeployment, auth)
		if err != nil {
			return nil, nil, err
		}
		chat = p
		slog.Info("registered chat provider", "name", p.Name(), "deployment", cfg.OpenAI.ChatDeployment)
	}

	tokens := speech.NewIssuer(func() speech.Config {
		return speech.Config{Key: cfg.Speech.Key, Region: cfg.Speech.Region}
	}, speech.WithTimeout(cfg.SpeechTokenTimeout))

	return api.NewRouter(ctx, cfg, tokens, bridge, chat), bridge, nil
}
