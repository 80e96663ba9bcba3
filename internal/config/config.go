package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const defaultSystemMessage = "You are a helpful assistant. Answer questions as concisely as possible. If you don't know the answer, say you don't know."

type Config struct {
	Host string
	Port string

	// Production disables .env loading.
	Production bool

	OpenAI OpenAI
	Speech Speech

	SpeechTokenTimeout time.Duration

	StaticDir     string
	AllowedOrigin string
}

// OpenAI holds the conversational backend settings.
type OpenAI struct {
	APIKey   string
	TenantID string

	Endpoint           string
	RealtimeDeployment string
	ChatDeployment     string
	APIVersion         string
	Voice              string
	SystemMessage      string
}

// Speech holds the speech provider subscription. Both fields are optional at
// startup and checked on every token request.
type Speech struct {
	Key    string
	Region string
}

func Load() (*Config, error) {
	production := os.Getenv("RUNNING_IN_PRODUCTION") != ""
	if !production {
		slog.Info("running in development mode, loading from .env file")
		// A missing .env is fine; real env vars always win.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Host:       getEnv("HOST", "localhost"),
		Port:       getEnv("PORT", "8765"),
		Production: production,
		OpenAI: OpenAI{
			APIKey:             os.Getenv("AZURE_OPENAI_API_KEY"),
			TenantID:           os.Getenv("AZURE_TENANT_ID"),
			Endpoint:           os.Getenv("AZURE_OPENAI_ENDPOINT"),
			RealtimeDeployment: os.Getenv("AZURE_OPENAI_REALTIME_DEPLOYMENT"),
			ChatDeployment:     os.Getenv("AZURE_OPENAI_CHAT_DEPLOYMENT"),
			APIVersion:         getEnv("AZURE_OPENAI_API_VERSION", "2024-10-01-preview"),
			Voice:              getEnv("AZURE_OPENAI_REALTIME_VOICE_CHOICE", "alloy"),
			SystemMessage:      getEnv("AZURE_OPENAI_SYSTEM_MESSAGE", defaultSystemMessage),
		},
		Speech: Speech{
			Key:    os.Getenv("AZURE_SPEECH_KEY"),
			Region: os.Getenv("AZURE_SPEECH_REGION"),
		},
		SpeechTokenTimeout: getEnvDuration("AZURE_SPEECH_TOKEN_TIMEOUT", 5*time.Second),
		StaticDir:          getEnv("STATIC_DIR", "static"),
		AllowedOrigin:      getEnv("ALLOWED_ORIGIN", "*"),
	}

	if cfg.OpenAI.Endpoint == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT must be set")
	}
	if cfg.OpenAI.RealtimeDeployment == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_REALTIME_DEPLOYMENT must be set")
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("PORT must not be empty")
	}

	return cfg, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
