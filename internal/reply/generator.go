package reply

import (
	"context"
	"strings"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/ai"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
	"github.com/suPer8Hu/autoreply-agent/internal/errx"
	"github.com/suPer8Hu/autoreply-agent/internal/knowledge"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
	"github.com/suPer8Hu/autoreply-agent/internal/metrics"
)

// FallbackText is sent whenever a reply cannot be generated.
const FallbackText = "I apologize, but I'm having trouble processing your message right now. Please try again later or contact our support team for assistance."

const DefaultTimeout = 60 * time.Second

type ProviderResolver interface {
	Resolve(ctx context.Context, modelID, defaultProvider string) (ai.Provider, error)
}

type KnowledgeSource interface {
	Retrieve(ctx context.Context, agentID uint64) ([]knowledge.Document, error)
}

// Reply is the text to persist and send. Err holds the cause of a fallback.
type Reply struct {
	Text    string
	Outcome chat.Outcome
	Err     error
}

type Generator struct {
	providers       ProviderResolver
	knowledge       KnowledgeSource
	defaultProvider string
	timeout         time.Duration
	metrics         *metrics.Metrics
}

func NewGenerator(providers ProviderResolver, kb KnowledgeSource, defaultProvider string, timeout time.Duration, m *metrics.Metrics) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{
		providers:       providers,
		knowledge:       kb,
		defaultProvider: defaultProvider,
		timeout:         timeout,
		metrics:         m,
	}
}

// Generate produces a reply for latest given the chronological history. It
// never fails: any error yields FallbackText with Outcome fallback.
func (g *Generator) Generate(ctx context.Context, a *agent.Agent, history []chat.Message, latest string) Reply {
	var docs []knowledge.Document
	if g.knowledge != nil {
		var err error
		docs, err = g.knowledge.Retrieve(ctx, a.ID)
		if err != nil {
			logx.Warn().Err(err).Uint64("agent_id", a.ID).Msg("knowledge retrieval failed, continuing without it")
			docs = nil
		}
	}

	prompt := BuildPrompt(a.SystemPrompt, docs, history, latest)
	text, err := g.call(ctx, a, prompt)
	if err != nil {
		logx.Warn().Err(err).
			Uint64("agent_id", a.ID).
			Str("model", a.Model).
			Msg("reply generation failed, using fallback")
		g.metrics.RecordReplyOutcome(string(chat.OutcomeFallback))
		return Reply{Text: FallbackText, Outcome: chat.OutcomeFallback, Err: errx.Generation(err)}
	}

	g.metrics.RecordReplyOutcome(string(chat.OutcomeGenerated))
	return Reply{Text: text, Outcome: chat.OutcomeGenerated}
}

func (g *Generator) call(ctx context.Context, a *agent.Agent, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	provider, err := g.providers.Resolve(cctx, a.Model, g.defaultProvider)
	if err != nil {
		return "", err
	}

	name, _ := ai.SplitModel(a.Model, g.defaultProvider, nil)
	start := time.Now()
	text, err := provider.Chat(cctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}}, ai.Options{Temperature: a.Temperature})
	g.metrics.ObserveGeneration(name, time.Since(start))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ai.ErrEmptyResponse
	}
	return text, nil
}
