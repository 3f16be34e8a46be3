package ai

import (
	"context"
	"errors"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyResponse = errors.New("ai: empty response")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Temperature float64
}

// Provider is a chat-completion backend bound to one model.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

// SplitModel splits "provider/model" into its parts. An id without a known
// provider prefix belongs to defaultProvider as a whole, so model names that
// contain slashes (openrouter's "meta-llama/llama-3") survive.
func SplitModel(id string, defaultProvider string, known func(string) bool) (provider, model string) {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "/"); i > 0 {
		p := strings.ToLower(id[:i])
		if known == nil || known(p) {
			return p, id[i+1:]
		}
	}
	return strings.ToLower(strings.TrimSpace(defaultProvider)), id
}
