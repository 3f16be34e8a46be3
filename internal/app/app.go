// Package app assembles the stores, providers and pipeline from Config. The
// server, worker and agentctl binaries all start from here.
package app

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/ai"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
	"github.com/suPer8Hu/autoreply-agent/internal/config"
	"github.com/suPer8Hu/autoreply-agent/internal/db"
	"github.com/suPer8Hu/autoreply-agent/internal/errx"
	"github.com/suPer8Hu/autoreply-agent/internal/knowledge"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
	"github.com/suPer8Hu/autoreply-agent/internal/metrics"
	"github.com/suPer8Hu/autoreply-agent/internal/platform"
	"github.com/suPer8Hu/autoreply-agent/internal/reply"
	"github.com/suPer8Hu/autoreply-agent/internal/store/redisstore"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
	"gorm.io/gorm"
)

// ErrDegraded is returned by operations that need the database when none is
// configured or reachable.
var ErrDegraded = errx.Config(db.ErrNotConfigured, "database is not configured")

type App struct {
	Cfg     config.Config
	DB      *gorm.DB
	Redis   *redisstore.Store
	Metrics *metrics.Metrics

	Agents     *agent.Repo
	Chats      *chat.Repo
	Deliveries *webhook.DeliveryRepo

	Registry  *ai.Registry
	Generator *reply.Generator
	Gateway   *platform.Gateway
	Pipeline  *webhook.Pipeline
}

// New builds the application. A missing or unreachable database leaves the
// App degraded instead of failing; a missing Redis falls back to in-process
// locks.
func New(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Cfg:     cfg,
		Metrics: metrics.New(reg),
		Gateway: platform.NewGateway(cfg.GraphAPIBaseURL, cfg.GraphAPIVersion, cfg.GraphAPITimeout),
	}

	registry, err := NewRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	if cfg.DatabaseConfigured() {
		gdb, err := db.Open(cfg.DBDSN)
		if err != nil {
			logx.Error().Err(err).Msg("database unavailable, running degraded")
		} else if err := db.Migrate(gdb); err != nil {
			logx.Error().Err(err).Msg("database migration failed, running degraded")
			_ = db.Close(gdb)
		} else {
			a.DB = gdb
		}
	} else {
		logx.Warn().Msg("DB_DSN is not set, running degraded")
	}

	var locker webhook.Locker = webhook.NewKeyedMutex()
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL)
		if err != nil {
			logx.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using in-process locks")
		} else {
			a.Redis = rds
			locker = rds
		}
	}

	if a.DB != nil {
		a.Agents = agent.NewRepo(a.DB)
		a.Chats = chat.NewRepo(a.DB)
		a.Deliveries = webhook.NewDeliveryRepo(a.DB)
		retriever := knowledge.NewRetriever(a.Agents, cfg.KnowledgeMaxDocs, cfg.KnowledgeMaxChars)
		a.Generator = reply.NewGenerator(a.Registry, retriever, cfg.AIProvider, cfg.GenerationTimeout, a.Metrics)
		a.Pipeline = webhook.NewPipeline(a.Agents, a.Chats, a.Generator, a.Gateway, locker, a.Metrics, webhook.PipelineConfig{
			DefaultAgentID: cfg.DefaultAgentID,
			HistoryWindow:  cfg.ChatContextWindowSize,
		})
	}

	logx.Info().
		Bool("degraded", a.Degraded()).
		Bool("redis", a.Redis != nil).
		Strs("providers", a.Registry.Names()).
		Str("queue_mode", cfg.QueueMode).
		Msg("application initialized")
	return a, nil
}

func (a *App) Degraded() bool {
	return a.DB == nil
}

// Health reports the first failing dependency.
func (a *App) Health(ctx context.Context) error {
	if a.DB == nil {
		return ErrDegraded
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return errx.Store(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errx.Store(err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, db.Close(a.DB))
	}
	return errors.Join(errs...)
}

// NewRegistry registers every provider whose credentials are configured.
// Ollama needs none and is always available.
func NewRegistry(ctx context.Context, cfg config.Config) (*ai.Registry, error) {
	reg := ai.NewRegistry()

	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	if cfg.OpenRouterAPIKey != "" {
		reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
			return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
		})
	}

	if cfg.OpenAIAPIKey != "" {
		reg.Register("openai", func(_ context.Context, model string) (ai.Provider, error) {
			return ai.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model)
		})
	}

	if cfg.AnthropicAPIKey != "" {
		reg.Register("anthropic", func(_ context.Context, model string) (ai.Provider, error) {
			return ai.NewAnthropicProvider(cfg.AnthropicAPIKey, model)
		})
	}

	if cfg.GeminiAPIKey != "" {
		factory, err := ai.NewGeminiFactory(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL)
		if err != nil {
			return nil, errx.Config(err, "gemini provider")
		}
		reg.Register("gemini", factory)
	}

	if !reg.Has(cfg.AIProvider) {
		logx.Warn().Str("provider", cfg.AIProvider).Msg("default AI provider is not configured, unprefixed models will fall back")
	}
	return reg, nil
}
