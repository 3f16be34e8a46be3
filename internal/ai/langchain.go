package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider adapts a langchaingo model to Provider.
type LangChainProvider struct {
	name string
	llm  llms.Model
}

func NewOpenAIProvider(apiKey, baseURL, model string) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return &LangChainProvider{name: "openai", llm: llm}, nil
}

func NewAnthropicProvider(apiKey, model string) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	llm, err := anthropic.New(
		anthropic.WithToken(apiKey),
		anthropic.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return &LangChainProvider{name: "anthropic", llm: llm}, nil
}

func (p *LangChainProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(langchainRole(m.Role), m.Content))
	}

	resp, err := p.llm.GenerateContent(ctx, content, llms.WithTemperature(opts.Temperature))
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", p.name, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func langchainRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
