package provider

import (
	"context"
	"errors"
)

// ErrUnsupportedRole is returned for a message whose role is not system, user
// or assistant.
var ErrUnsupportedRole = errors.New("unsupported message role")

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// StreamChunk represents a chunk of streaming LLM response.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// LLMProvider is a text conversation backend.
type LLMProvider interface {
	Name() string
	// ChatStream sends messages and streams the response via the callback.
	// Return an error from the callback to stop streaming.
	ChatStream(ctx context.Context, messages []Message, onChunk func(StreamChunk) error) error
}

// Collect drains a ChatStream into a single string.
func Collect(ctx context.Context, p LLMProvider, messages []Message) (string, error) {
	var content []byte
	err := p.ChatStream(ctx, messages, func(c StreamChunk) error {
		content = append(content, c.Content...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(content), nil
}
