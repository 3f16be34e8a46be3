package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
	"github.com/suPer8Hu/autoreply-agent/internal/errx"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
	"github.com/suPer8Hu/autoreply-agent/internal/metrics"
	"github.com/suPer8Hu/autoreply-agent/internal/platform"
	"github.com/suPer8Hu/autoreply-agent/internal/reply"
)

// Stage is the last pipeline state a message reached.
type Stage string

const (
	StageReceived         Stage = "received"
	StageValidated        Stage = "validated"
	StagePersisted        Stage = "persisted"
	StageContextAssembled Stage = "context_assembled"
	StageGenerated        Stage = "generated"
	StageReplied          Stage = "replied"
)

// Reasons a message is dropped without error.
const (
	SkipNoAgent            = "no_agent"
	SkipAutoReplyDisabled  = "auto_reply_disabled"
	SkipDuplicate          = "duplicate"
	SkipNoActiveConnection = "no_active_connection"
)

// Result describes how far a message got. A non-nil Err means it failed while
// performing Step after reaching Stage.
type Result struct {
	Stage          Stage
	Step           string
	Err            error
	Skipped        string
	AgentID        uint64
	ConversationID uint64
	ReplyOutcome   chat.Outcome
}

func (r Result) Failed() bool { return r.Err != nil }

func (r Result) status() string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.Skipped != "":
		return "skipped"
	}
	return "ok"
}

type AgentStore interface {
	GetAgent(ctx context.Context, id uint64) (*agent.Agent, error)
	SoleAgent(ctx context.Context) (*agent.Agent, error)
	ConnectionForPage(ctx context.Context, kind platform.Kind, pageID string) (*agent.PlatformConnection, error)
	ActiveConnection(ctx context.Context, agentID uint64, kind platform.Kind, pageID string) (*agent.PlatformConnection, error)
}

type ConversationStore interface {
	UpsertConversation(ctx context.Context, agentID uint64, kind platform.Kind, externalUserID string) (*chat.Conversation, error)
	InsertMessage(ctx context.Context, m *chat.Message) error
	ListRecentMessagesDesc(ctx context.Context, conversationID uint64, limit int) ([]chat.Message, error)
}

type Replier interface {
	Generate(ctx context.Context, a *agent.Agent, history []chat.Message, latest string) reply.Reply
}

type Sender interface {
	Send(ctx context.Context, kind platform.Kind, recipientID, text, accessToken string) error
}

type PipelineConfig struct {
	DefaultAgentID uint64
	HistoryWindow  int
}

// Pipeline turns one inbound message into a stored and delivered reply.
type Pipeline struct {
	agents  AgentStore
	convs   ConversationStore
	replier Replier
	sender  Sender
	locker  Locker
	metrics *metrics.Metrics
	cfg     PipelineConfig

	// sleep waits out the agent's reply delay.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPipeline(agents AgentStore, convs ConversationStore, replier Replier, sender Sender, locker Locker, m *metrics.Metrics, cfg PipelineConfig) *Pipeline {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	return &Pipeline{
		agents:  agents,
		convs:   convs,
		replier: replier,
		sender:  sender,
		locker:  locker,
		metrics: m,
		cfg:     cfg,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process runs msg through the pipeline. Failures are reported in the Result
// and never returned to the caller.
func (p *Pipeline) Process(ctx context.Context, msg InboundMessage) Result {
	res := p.process(ctx, msg)

	p.metrics.RecordPipelineResult(string(res.Stage), res.status())
	ev := logx.Info()
	if res.Err != nil {
		ev = logx.Error().Err(res.Err).Str("step", res.Step)
	}
	ev.Str("delivery_id", msg.DeliveryID).
		Str("platform", string(msg.Platform)).
		Uint64("agent_id", res.AgentID).
		Uint64("conversation_id", res.ConversationID).
		Str("stage", string(res.Stage)).
		Str("skipped", res.Skipped).
		Str("outcome", string(res.ReplyOutcome)).
		Msg("inbound message processed")
	return res
}

func (p *Pipeline) process(ctx context.Context, msg InboundMessage) Result {
	res := Result{Stage: StageReceived}
	fail := func(step string, err error) Result {
		res.Step = step
		res.Err = err
		return res
	}

	if !msg.Platform.Valid() || msg.SenderID == "" || msg.Text == "" {
		return fail("validate", fmt.Errorf("invalid inbound message: platform=%q sender=%q", msg.Platform, msg.SenderID))
	}

	a, err := p.resolveAgent(ctx, msg)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			res.Skipped = SkipNoAgent
			return res
		}
		return fail("resolve_agent", errx.Store(err))
	}
	res.AgentID = a.ID
	if !a.AutoReplyEnabled {
		res.Skipped = SkipAutoReplyDisabled
		return res
	}
	res.Stage = StageValidated

	unlock, err := p.locker.Lock(ctx, fmt.Sprintf("%d:%s:%s", a.ID, msg.Platform, msg.SenderID))
	if err != nil {
		return fail("lock", err)
	}
	defer unlock()

	conv, err := p.convs.UpsertConversation(ctx, a.ID, msg.Platform, msg.SenderID)
	if err != nil {
		return fail("upsert_conversation", errx.Store(err))
	}
	res.ConversationID = conv.ID

	customer := &chat.Message{
		ConversationID: conv.ID,
		Sender:         chat.SenderCustomer,
		Content:        msg.Text,
		CreatedAt:      msg.ReceivedAt,
	}
	if msg.MessageID != "" {
		mid := msg.MessageID
		customer.ExternalMessageID = &mid
	}
	if err := p.convs.InsertMessage(ctx, customer); err != nil {
		if errors.Is(err, chat.ErrDuplicateMessage) {
			res.Skipped = SkipDuplicate
			return res
		}
		return fail("insert_message", errx.Store(err))
	}
	res.Stage = StagePersisted

	recent, err := p.convs.ListRecentMessagesDesc(ctx, conv.ID, p.cfg.HistoryWindow)
	if err != nil {
		return fail("load_history", errx.Store(err))
	}
	history := chat.Chronological(recent)
	res.Stage = StageContextAssembled

	if a.ResponseDelaySeconds > 0 {
		if err := p.sleep(ctx, time.Duration(a.ResponseDelaySeconds)*time.Second); err != nil {
			return fail("delay", err)
		}
	}

	out := p.replier.Generate(ctx, a, history, msg.Text)
	if err := ctx.Err(); err != nil {
		return fail("generate", err)
	}
	res.ReplyOutcome = out.Outcome

	if err := p.convs.InsertMessage(ctx, &chat.Message{
		ConversationID: conv.ID,
		Sender:         chat.SenderAgent,
		Content:        out.Text,
		Outcome:        out.Outcome,
	}); err != nil {
		return fail("persist_reply", errx.Store(err))
	}
	res.Stage = StageGenerated

	// sender ids are page scoped, so reply through the page that was written to
	conn, err := p.agents.ActiveConnection(ctx, a.ID, msg.Platform, msg.RecipientID)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			logx.Warn().
				Uint64("agent_id", a.ID).
				Uint64("conversation_id", conv.ID).
				Str("platform", string(msg.Platform)).
				Str("page_id", msg.RecipientID).
				Msg("no active connection, reply stored but not sent")
			p.metrics.RecordDelivery(string(msg.Platform), "skipped")
			res.Skipped = SkipNoActiveConnection
			return res
		}
		return fail("resolve_connection", errx.Store(err))
	}

	if err := p.sender.Send(ctx, msg.Platform, msg.SenderID, out.Text, conn.AccessToken); err != nil {
		p.metrics.RecordDelivery(string(msg.Platform), "failed")
		return fail("send", err)
	}
	p.metrics.RecordDelivery(string(msg.Platform), "sent")
	res.Stage = StageReplied
	return res
}

// resolveAgent picks the agent that owns the recipient page, then the
// configured default agent, then the only agent of the deployment.
func (p *Pipeline) resolveAgent(ctx context.Context, msg InboundMessage) (*agent.Agent, error) {
	if msg.RecipientID != "" {
		conn, err := p.agents.ConnectionForPage(ctx, msg.Platform, msg.RecipientID)
		switch {
		case err == nil:
			return p.agents.GetAgent(ctx, conn.AgentID)
		case !errors.Is(err, agent.ErrNotFound):
			return nil, err
		}
	}

	if p.cfg.DefaultAgentID != 0 {
		a, err := p.agents.GetAgent(ctx, p.cfg.DefaultAgentID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, agent.ErrNotFound) {
			return nil, err
		}
		logx.Warn().Uint64("agent_id", p.cfg.DefaultAgentID).Msg("configured default agent does not exist")
	}

	return p.agents.SoleAgent(ctx)
}
