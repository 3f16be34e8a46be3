package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// GeminiProvider calls Gemini through the eino chat model component.
type GeminiProvider struct {
	chat *gemini.ChatModel
}

// NewGeminiFactory builds one genai client and hands out a chat model per
// requested model name.
func NewGeminiFactory(ctx context.Context, apiKey, baseURL string) (ProviderFactory, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	return func(ctx context.Context, model string) (Provider, error) {
		chat, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  model,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating gemini chat model: %w", err)
		}
		return &GeminiProvider{chat: chat}, nil
	}, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	in := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			in = append(in, schema.SystemMessage(m.Content))
		case RoleAssistant:
			in = append(in, schema.AssistantMessage(m.Content, nil))
		default:
			in = append(in, schema.UserMessage(m.Content))
		}
	}

	out, err := p.chat.Generate(ctx, in, einomodel.WithTemperature(float32(opts.Temperature)))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Content, nil
}
