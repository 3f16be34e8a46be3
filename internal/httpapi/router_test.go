package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/ai"
	"github.com/suPer8Hu/autoreply-agent/internal/app"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
	"github.com/suPer8Hu/autoreply-agent/internal/config"
	"github.com/suPer8Hu/autoreply-agent/internal/platform"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingIngester struct {
	mu   sync.Mutex
	msgs []webhook.InboundMessage
}

func (r *recordingIngester) Ingest(_ context.Context, msgs []webhook.InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recordingIngester) all() []webhook.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]webhook.InboundMessage(nil), r.msgs...)
}

type echoProvider struct{}

func (echoProvider) Chat(_ context.Context, messages []ai.Message, _ ai.Options) (string, error) {
	return "echo: " + fmt.Sprint(len(messages)), nil
}

func testConfig(t *testing.T, withDB bool) config.Config {
	cfg := config.Config{
		AppEnv:                "testing",
		AIProvider:            "ollama",
		OllamaBaseURL:         "http://127.0.0.1:1",
		OllamaModel:           "llama3",
		ChatContextWindowSize: 10,
		WebhookVerifyToken:    "verify-me",
		QueueMode:             config.QueueModeInline,
		GraphAPIBaseURL:       "http://127.0.0.1:1",
		GraphAPIVersion:       "v18.0",
	}
	if withDB {
		cfg.DBDSN = "sqlite:" + filepath.Join(t.TempDir(), "api.db")
	}
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) (*app.App, *recordingIngester, *gin.Engine) {
	t.Helper()
	reg := prometheus.NewRegistry()
	a, err := app.New(context.Background(), cfg, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.Registry.Register("ollama", func(context.Context, string) (ai.Provider, error) {
		return echoProvider{}, nil
	})
	ing := &recordingIngester{}
	return a, ing, NewRouter(a, ing, reg)
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createAgent(t *testing.T, a *app.App, autoReply bool) *agent.Agent {
	t.Helper()
	ag := &agent.Agent{
		Name:             "Shop bot",
		SystemPrompt:     "Be helpful.",
		Model:            "ollama/llama3",
		Temperature:      0.5,
		AutoReplyEnabled: autoReply,
	}
	require.NoError(t, a.Agents.CreateAgent(context.Background(), ag))
	return ag
}

func TestVerifyWebhook(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t, false))

	w := do(r, http.MethodGet, "/api/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = do(r, http.MethodGet, "/api/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Verification failed", decode(t, w)["error"])
}

func TestReceiveWebhook_IngestsAndRecords(t *testing.T) {
	a, ing, r := newTestServer(t, testConfig(t, true))

	payload := []byte(`{"object":"page","entry":[{"id":"PAGE","messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1,"message":{"mid":"m.1","text":"hi"}},
		{"sender":{"id":"U2"},"recipient":{"id":"PAGE"},"timestamp":2,"message":{"mid":"m.2","text":"hello"}}
	]}]}`)
	w := do(r, http.MethodPost, "/api/webhook", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	msgs := ing.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, platform.Facebook, msgs[0].Platform)
	assert.NotEmpty(t, msgs[0].DeliveryID)
	assert.Equal(t, msgs[0].DeliveryID, msgs[1].DeliveryID)
	assert.False(t, msgs[0].ReceivedAt.IsZero())

	d, err := a.Deliveries.Get(context.Background(), msgs[0].DeliveryID)
	require.NoError(t, err)
	assert.Equal(t, "page", d.Object)
	assert.Equal(t, 2, d.MessageCount)
}

func TestReceiveWebhook_MalformedStillOK(t *testing.T) {
	_, ing, r := newTestServer(t, testConfig(t, false))

	w := do(r, http.MethodPost, "/api/webhook", []byte(`{not json`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ing.all())
}

func TestReceiveWebhook_Signature(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.WebhookAppSecret = "s3cret"
	_, ing, r := newTestServer(t, cfg)
	body := []byte(`{"object":"instagram","entry":[{"id":"IG","messaging":[{"sender":{"id":"U"},"recipient":{"id":"IG"},"message":{"mid":"x","text":"yo"}}]}]}`)

	w := do(r, http.MethodPost, "/api/webhook", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, ing.all())

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(body, "s3cret"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ing.all(), 1)
	assert.Equal(t, platform.Instagram, ing.all()[0].Platform)
}

func TestTestAgent(t *testing.T) {
	a, _, r := newTestServer(t, testConfig(t, true))

	w := do(r, http.MethodPost, "/api/test-agent", map[string]string{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message is required", decode(t, w)["error"])

	w = do(r, http.MethodPost, "/api/test-agent", []byte(`{"message":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "invalid json", body["error"])
	assert.Equal(t, false, body["success"])

	w = do(r, http.MethodPost, "/api/test-agent", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message is required", decode(t, w)["error"])

	w = do(r, http.MethodPost, "/api/test-agent", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No agent configured", decode(t, w)["error"])

	createAgent(t, a, true)
	w = do(r, http.MethodPost, "/api/test-agent", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo: 1", decode(t, w)["response"])
}

func TestTestAgent_Degraded(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t, false))
	w := do(r, http.MethodPost, "/api/test-agent", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentEndpoints(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t, true))

	w := do(r, http.MethodGet, "/api/agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["data"])

	w = do(r, http.MethodPut, "/api/agent", map[string]any{"name": "Bot"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "first save must name a model")

	w = do(r, http.MethodPut, "/api/agent", map[string]any{"name": "Bot", "model": "ollama/llama3"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPut, "/api/agent", map[string]any{"temperature": 0.2, "auto_reply_enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "Bot", data["name"])
	assert.Equal(t, 0.2, data["temperature"])
	assert.Equal(t, false, data["auto_reply_enabled"])

	w = do(r, http.MethodPut, "/api/agent", map[string]any{"temperature": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPut, "/api/agent", map[string]any{"response_delay_seconds": 61})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKnowledgeEndpoints(t *testing.T) {
	a, _, r := newTestServer(t, testConfig(t, true))

	w := do(r, http.MethodGet, "/api/knowledge", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	createAgent(t, a, true)
	w = do(r, http.MethodPost, "/api/knowledge", map[string]string{"file_name": "faq.txt", "file_type": "text/plain", "file_content": "Open 9-5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["data"].(map[string]any)["id"].(float64)

	w = do(r, http.MethodPost, "/api/knowledge", map[string]string{"file_name": "empty.txt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/knowledge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	files := decode(t, w)["data"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, float64(8), files[0].(map[string]any)["file_size"])

	w = do(r, http.MethodDelete, fmt.Sprintf("/api/knowledge/%d", int(id)), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodDelete, fmt.Sprintf("/api/knowledge/%d", int(id)), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConnectionEndpoints(t *testing.T) {
	a, _, r := newTestServer(t, testConfig(t, true))
	createAgent(t, a, true)

	w := do(r, http.MethodPost, "/api/connections", map[string]string{"platform": "twitter", "page_id": "P", "access_token": "t"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/connections", map[string]string{"platform": "facebook", "page_id": "P1", "page_name": "Shop", "access_token": "tok"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conn := decode(t, w)["data"].(map[string]any)
	assert.NotContains(t, conn, "access_token")
	id := int(conn["id"].(float64))

	w = do(r, http.MethodPatch, fmt.Sprintf("/api/connections/%d", id), map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/connections", nil)
	conns := decode(t, w)["data"].([]any)
	require.Len(t, conns, 1)
	assert.Equal(t, false, conns[0].(map[string]any)["is_active"])

	w = do(r, http.MethodPatch, fmt.Sprintf("/api/connections/%d", id), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, fmt.Sprintf("/api/connections/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodDelete, "/api/connections/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsAndMessages(t *testing.T) {
	a, _, r := newTestServer(t, testConfig(t, true))
	ag := createAgent(t, a, true)
	ctx := context.Background()

	conv, err := a.Chats.UpsertConversation(ctx, ag.ID, platform.Facebook, "U1")
	require.NoError(t, err)
	for i, s := range []chat.Sender{chat.SenderCustomer, chat.SenderAgent, chat.SenderCustomer} {
		require.NoError(t, a.Chats.InsertMessage(ctx, &chat.Message{
			ConversationID: conv.ID,
			Sender:         s,
			Content:        fmt.Sprintf("msg %d", i),
		}))
	}

	w := do(r, http.MethodGet, "/api/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["unique_users"])
	assert.Equal(t, float64(1), data["messages_sent"])
	assert.Equal(t, float64(2), data["messages_received"])

	w = do(r, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages?limit=2", conv.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)["data"].(map[string]any)
	msgs := page["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg 2", msgs[0].(map[string]any)["content"])

	w = do(r, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages?before_id=%d", conv.ID, int(page["next_before_id"].(float64))), nil)
	msgs = decode(t, w)["data"].(map[string]any)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg 0", msgs[0].(map[string]any)["content"])

	w = do(r, http.MethodGet, "/api/conversations/999/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDegradedDashboardAndHealth(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t, false))

	w := do(r, http.MethodGet, "/api/agent", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(r, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterFallbacksAndMetrics(t *testing.T) {
	_, _, r := newTestServer(t, testConfig(t, true))

	w := do(r, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(40400), decode(t, w)["code"])

	w = do(r, http.MethodDelete, "/api/webhook", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	do(r, http.MethodPost, "/api/webhook", []byte(`{"object":"page","entry":[]}`))
	w = do(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "webhook")
}
