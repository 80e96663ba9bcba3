package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/yuki/voicerag/internal/credential"
	"github.com/yuki/voicerag/internal/provider"
)

// AzureOpenAIProvider implements LLMProvider against an Azure OpenAI chat deployment.
type AzureOpenAIProvider struct {
	client     *openai.Client
	deployment string
}

// NewAzureOpenAIProvider authenticates with the process credential held by auth.
func NewAzureOpenAIProvider(endpoint, apiVersion, deployment string, auth *credential.Authorizer, opts ...option.RequestOption) (*AzureOpenAIProvider, error) {
	reqOpts := []option.RequestOption{azure.WithEndpoint(endpoint, apiVersion)}

	switch c := auth.Credential().(type) {
	case credential.APIKey:
		reqOpts = append(reqOpts, azure.WithAPIKey(c.Value))
	case credential.IdentityChain:
		reqOpts = append(reqOpts, azure.WithTokenCredential(auth.TokenCredential()))
	default:
		return nil, fmt.Errorf("unsupported credential %T", c)
	}

	client := openai.NewClient(append(reqOpts, opts...)...)
	return &AzureOpenAIProvider{
		client:     &client,
		deployment: deployment,
	}, nil
}

func (p *AzureOpenAIProvider) Name() string { return "azure-openai" }

// toChatMessages rejects the whole conversation if any role is unknown, so a
// partial prompt is never sent.
func toChatMessages(messages []provider.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("message %d: %w %q", i, provider.ErrUnsupportedRole, m.Role)
		}
	}
	return out, nil
}

func (p *AzureOpenAIProvider) ChatStream(ctx context.Context, messages []provider.Message, onChunk func(provider.StreamChunk) error) error {
	params, err := toChatMessages(messages)
	if err != nil {
		return err
	}

	// Azure routes by deployment name, passed as the model.
	stream := p.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.deployment),
		Messages: params,
	})
	defer stream.Close()

	for stream.Next() {
		for _, choice := range stream.Current().Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onChunk(provider.StreamChunk{Content: choice.Delta.Content}); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("azure openai stream: %w", err)
	}

	return onChunk(provider.StreamChunk{Done: true})
}
