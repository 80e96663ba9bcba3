package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuki/voicerag/internal/config"
)

func TestAssemble_APIKeyCredential(t *testing.T) {
	cfg := &config.Config{
		OpenAI: config.OpenAI{
			APIKey:             "sk-1",
			Endpoint:           "https://example.openai.azure.com",
			RealtimeDeployment: "gpt-4o-realtime-preview",
			ChatDeployment:     "gpt-4o-mini",
			APIVersion:         "2024-10-01-preview",
			Voice:              "alloy",
		},
		SpeechTokenTimeout: time.Second,
		StaticDir:          t.TempDir(),
		AllowedOrigin:      "*",
	}

	handler, bridge, err := assemble(t.Context(), cfg)
	require.NoError(t, err)
	require.NotNil(t, bridge)
	defer bridge.Close()

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/avatar/token")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "speech settings absent")
}
