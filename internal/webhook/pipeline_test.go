package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/ai"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
	"github.com/suPer8Hu/autoreply-agent/internal/errx"
	"github.com/suPer8Hu/autoreply-agent/internal/knowledge"
	"github.com/suPer8Hu/autoreply-agent/internal/platform"
	"github.com/suPer8Hu/autoreply-agent/internal/reply"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	var models []any
	models = append(models, agent.Models()...)
	models = append(models, chat.Models()...)
	models = append(models, Models()...)
	require.NoError(t, db.AutoMigrate(models...), "automigrate")
	return db
}

// scriptedProvider answers from a list and records every prompt.
type scriptedProvider struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts []string
	temps   []float64
}

func (p *scriptedProvider) Chat(_ context.Context, messages []ai.Message, opts ai.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, messages[len(messages)-1].Content)
	p.temps = append(p.temps, opts.Temperature)
	if p.err != nil {
		return "", p.err
	}
	if len(p.answers) == 0 {
		return "ok", nil
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

type sentMessage struct {
	Path  string
	Token string
	Body  map[string]map[string]string
}

type fakeGraph struct {
	mu     sync.Mutex
	sent   []sentMessage
	status int
	srv    *httptest.Server
}

func newFakeGraph(t *testing.T) *fakeGraph {
	g := &fakeGraph{status: http.StatusOK}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.sent = append(g.sent, sentMessage{Path: r.URL.Path, Token: r.URL.Query().Get("access_token"), Body: body})
		status := g.status
		g.mu.Unlock()
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"recipient_id":"x","message_id":"mid.out"}`))
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGraph) Sent() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

type fixture struct {
	db       *gorm.DB
	agents   *agent.Repo
	chats    *chat.Repo
	provider *scriptedProvider
	graph    *fakeGraph
	pipeline *Pipeline
}

func newFixture(t *testing.T, cfg PipelineConfig) *fixture {
	t.Helper()
	db := openTestDB(t)
	f := &fixture{
		db:       db,
		agents:   agent.NewRepo(db),
		chats:    chat.NewRepo(db),
		provider: &scriptedProvider{},
		graph:    newFakeGraph(t),
	}
	reg := ai.NewRegistry()
	reg.Register("fake", func(context.Context, string) (ai.Provider, error) { return f.provider, nil })
	gen := reply.NewGenerator(reg, knowledge.NewRetriever(f.agents, 5, 2000), "fake", time.Second, nil)
	gw := platform.NewGateway(f.graph.srv.URL, "v18.0", time.Second)
	f.pipeline = NewPipeline(f.agents, f.chats, gen, gw, NewKeyedMutex(), nil, cfg)
	return f
}

func (f *fixture) createAgent(t *testing.T, mutate func(a *agent.Agent)) *agent.Agent {
	t.Helper()
	a := &agent.Agent{
		Name:             "Shop bot",
		SystemPrompt:     "You are the assistant of a bakery.",
		Temperature:      0.3,
		Model:            "fake/m",
		AutoReplyEnabled: true,
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, f.agents.CreateAgent(context.Background(), a))
	return a
}

func (f *fixture) connect(t *testing.T, agentID uint64, kind platform.Kind, pageID, token string) {
	t.Helper()
	_, err := f.agents.UpsertConnection(context.Background(), &agent.PlatformConnection{
		AgentID: agentID, Platform: kind, PageID: pageID, AccessToken: token,
	})
	require.NoError(t, err)
}

func (f *fixture) messages(t *testing.T) []chat.Message {
	t.Helper()
	var msgs []chat.Message
	require.NoError(t, f.db.Order("id ASC").Find(&msgs).Error)
	return msgs
}

func inbound(sender, text, mid string) InboundMessage {
	return InboundMessage{
		Platform: platform.Facebook, SenderID: sender, RecipientID: "PAGE", Text: text, MessageID: mid,
	}
}

func TestProcess_EndToEndHoursQuestion(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, nil)
	f.connect(t, a.ID, platform.Facebook, "PAGE", "page-token")
	require.NoError(t, f.agents.CreateKnowledgeFile(context.Background(), &agent.KnowledgeFile{
		AgentID: a.ID, FileName: "hours.txt", FileType: "text/plain", FileContent: "Open Mon-Sat 8am-6pm.",
	}))
	f.provider.answers = []string{"We're open Monday to Saturday, 8am to 6pm."}

	res := f.pipeline.Process(context.Background(), inbound("U1", "What are your hours?", "mid.1"))

	require.NoError(t, res.Err)
	assert.Equal(t, StageReplied, res.Stage)
	assert.Equal(t, chat.OutcomeGenerated, res.ReplyOutcome)
	assert.Equal(t, a.ID, res.AgentID)

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.SenderCustomer, msgs[0].Sender)
	assert.Equal(t, "What are your hours?", msgs[0].Content)
	assert.Equal(t, chat.SenderAgent, msgs[1].Sender)
	assert.Equal(t, chat.OutcomeGenerated, msgs[1].Outcome)

	require.Len(t, f.provider.prompts, 1)
	prompt := f.provider.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, "You are the assistant of a bakery."))
	assert.Contains(t, prompt, "\n--- hours.txt ---\nOpen Mon-Sat 8am-6pm.\n")
	assert.NotContains(t, prompt, "Conversation History:")
	assert.Contains(t, prompt, "Current Customer Message: What are your hours?")
	assert.Equal(t, []float64{0.3}, f.provider.temps)

	sent := f.graph.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "/v18.0/me/messages", sent[0].Path)
	assert.Equal(t, "page-token", sent[0].Token)
	assert.Equal(t, "U1", sent[0].Body["recipient"]["id"])
	assert.Equal(t, "We're open Monday to Saturday, 8am to 6pm.", sent[0].Body["message"]["text"])
}

func TestProcess_SequentialMessagesSeeHistory(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, nil)
	f.connect(t, a.ID, platform.Facebook, "PAGE", "tok")
	f.provider.answers = []string{"R1", "R2"}

	d := NewDispatcher(context.Background(), f.pipeline, nil)
	require.NoError(t, d.Ingest(context.Background(), []InboundMessage{
		inbound("U1", "M1", "mid.1"),
		inbound("U1", "M2", "mid.2"),
	}))
	d.Wait()

	msgs := f.messages(t)
	require.Len(t, msgs, 4)
	got := []string{msgs[0].Content, msgs[1].Content, msgs[2].Content, msgs[3].Content}
	assert.Equal(t, []string{"M1", "R1", "M2", "R2"}, got)

	require.Len(t, f.provider.prompts, 2)
	assert.Contains(t, f.provider.prompts[1], "Conversation History:\nCustomer: M1\nAssistant: R1\n")
	assert.Contains(t, f.provider.prompts[1], "Current Customer Message: M2")

	var convs int64
	require.NoError(t, f.db.Model(&chat.Conversation{}).Count(&convs).Error)
	assert.Equal(t, int64(1), convs)
}

func TestProcess_AutoReplyDisabledStoresNothing(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, func(a *agent.Agent) { a.AutoReplyEnabled = false })
	f.connect(t, a.ID, platform.Facebook, "PAGE", "tok")

	res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))

	assert.NoError(t, res.Err)
	assert.Equal(t, SkipAutoReplyDisabled, res.Skipped)
	assert.Empty(t, f.messages(t))
	assert.Empty(t, f.graph.Sent())
	assert.Empty(t, f.provider.prompts)
}

func TestProcess_NoActiveConnectionPersistsReplyWithoutSending(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, nil)
	f.connect(t, a.ID, platform.Facebook, "PAGE", "tok")
	conns, err := f.agents.ListConnections(context.Background(), a.ID)
	require.NoError(t, err)
	require.NoError(t, f.agents.SetConnectionActive(context.Background(), a.ID, conns[0].ID, false))

	res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))

	assert.NoError(t, res.Err)
	assert.Equal(t, StageGenerated, res.Stage)
	assert.Equal(t, SkipNoActiveConnection, res.Skipped)
	assert.Len(t, f.messages(t), 2)
	assert.Empty(t, f.graph.Sent())
}

func TestProcess_RepliesThroughRecipientPage(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, nil)
	ctx := context.Background()
	now := time.Now()
	pageA, err := f.agents.UpsertConnection(ctx, &agent.PlatformConnection{
		AgentID: a.ID, Platform: platform.Facebook, PageID: "PAGE_A", AccessToken: "token-A",
		ConnectedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = f.agents.UpsertConnection(ctx, &agent.PlatformConnection{
		AgentID: a.ID, Platform: platform.Facebook, PageID: "PAGE_B", AccessToken: "token-B",
		ConnectedAt: now,
	})
	require.NoError(t, err)

	msg := inbound("U1", "hello", "mid.1")
	msg.RecipientID = "PAGE_A"
	res := f.pipeline.Process(ctx, msg)
	require.NoError(t, res.Err)
	assert.Equal(t, StageReplied, res.Stage)
	require.Len(t, f.graph.Sent(), 1)
	assert.Equal(t, "token-A", f.graph.Sent()[0].Token)

	// a deactivated page is skipped, not answered through the other page
	require.NoError(t, f.agents.SetConnectionActive(ctx, a.ID, pageA.ID, false))
	msg = inbound("U1", "still there?", "mid.2")
	msg.RecipientID = "PAGE_A"
	res = f.pipeline.Process(ctx, msg)
	assert.NoError(t, res.Err)
	assert.Equal(t, SkipNoActiveConnection, res.Skipped)
	assert.Len(t, f.graph.Sent(), 1)
}

func TestProcess_DuplicateMessageIDRepliesOnce(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, nil)
	f.connect(t, a.ID, platform.Facebook, "PAGE", "tok")

	first := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))
	second := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))

	assert.Equal(t, StageReplied, first.Stage)
	assert.Equal(t, SkipDuplicate, second.Skipped)
	assert.Len(t, f.messages(t), 2)
	assert.Len(t, f.graph.Sent(), 1)
}

func TestProcess_GenerationFailureSendsFallback(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, nil)
	f.connect(t, a.ID, platform.Facebook, "PAGE", "tok")
	f.provider.err = errors.New("model unavailable")

	res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))

	require.NoError(t, res.Err)
	assert.Equal(t, chat.OutcomeFallback, res.ReplyOutcome)
	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, reply.FallbackText, msgs[1].Content)
	assert.Equal(t, chat.OutcomeFallback, msgs[1].Outcome)
	require.Len(t, f.graph.Sent(), 1)
	assert.Equal(t, reply.FallbackText, f.graph.Sent()[0].Body["message"]["text"])
}

func TestProcess_SendFailureIsReportedNotPanicked(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, nil)
	f.connect(t, a.ID, platform.Facebook, "PAGE", "bad-token")
	f.graph.status = http.StatusBadRequest

	res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))

	require.Error(t, res.Err)
	assert.Equal(t, "send", res.Step)
	assert.Equal(t, StageGenerated, res.Stage)
	assert.True(t, errx.Is(res.Err, errx.KindDelivery))
	var de *platform.DeliveryError
	require.ErrorAs(t, res.Err, &de)
	assert.Equal(t, http.StatusBadRequest, de.Status)
	assert.Len(t, f.messages(t), 2, "reply stays persisted")
}

func TestProcess_AgentResolution(t *testing.T) {
	t.Run("no agent", func(t *testing.T) {
		f := newFixture(t, PipelineConfig{})
		res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))
		assert.Equal(t, SkipNoAgent, res.Skipped)
		assert.Empty(t, f.messages(t))
	})

	t.Run("recipient page picks its agent", func(t *testing.T) {
		f := newFixture(t, PipelineConfig{})
		first := f.createAgent(t, func(a *agent.Agent) { a.Name = "first" })
		second := f.createAgent(t, func(a *agent.Agent) { a.Name = "second" })
		f.connect(t, first.ID, platform.Facebook, "OTHER", "t1")
		f.connect(t, second.ID, platform.Facebook, "PAGE", "t2")

		res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))
		assert.Equal(t, second.ID, res.AgentID)
		require.Len(t, f.graph.Sent(), 1)
		assert.Equal(t, "t2", f.graph.Sent()[0].Token)
	})

	t.Run("default agent when page is unknown", func(t *testing.T) {
		f := newFixture(t, PipelineConfig{})
		first := f.createAgent(t, func(a *agent.Agent) { a.Name = "first" })
		f.createAgent(t, func(a *agent.Agent) { a.Name = "second" })
		f.pipeline.cfg.DefaultAgentID = first.ID

		res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))
		assert.Equal(t, first.ID, res.AgentID)
	})

	t.Run("several agents and no mapping", func(t *testing.T) {
		f := newFixture(t, PipelineConfig{})
		f.createAgent(t, func(a *agent.Agent) { a.Name = "first" })
		f.createAgent(t, func(a *agent.Agent) { a.Name = "second" })

		res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))
		assert.Equal(t, SkipNoAgent, res.Skipped)
	})
}

func TestProcess_DelayIsCancellable(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	a := f.createAgent(t, func(a *agent.Agent) { a.ResponseDelaySeconds = 30 })
	f.connect(t, a.ID, platform.Facebook, "PAGE", "tok")

	var waited time.Duration
	f.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		waited = d
		return context.Canceled
	}

	res := f.pipeline.Process(context.Background(), inbound("U1", "hello", "mid.1"))

	assert.Equal(t, 30*time.Second, waited)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, "delay", res.Step)
	assert.Len(t, f.messages(t), 1, "customer message kept, no reply")
	assert.Empty(t, f.graph.Sent())
	assert.Empty(t, f.provider.prompts)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestProcess_InvalidMessage(t *testing.T) {
	f := newFixture(t, PipelineConfig{})
	res := f.pipeline.Process(context.Background(), InboundMessage{Platform: "telegram", SenderID: "U", Text: "x"})
	assert.Error(t, res.Err)
	assert.Equal(t, StageReceived, res.Stage)
	assert.Equal(t, "validate", res.Step)
}
