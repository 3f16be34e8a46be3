package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/app"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
)

// Ingester accepts normalized webhook messages: the inline dispatcher or the
// rabbitmq publisher.
type Ingester interface {
	Ingest(ctx context.Context, msgs []webhook.InboundMessage) error
}

type Handler struct {
	App    *app.App
	Ingest Ingester
}

func NewHandler(a *app.App, ing Ingester) *Handler {
	return &Handler{App: a, Ingest: ing}
}

// requireDB writes the failure envelope and reports false when the service
// runs without a database.
func (h *Handler) requireDB(c *gin.Context) bool {
	if h.App.Degraded() {
		common.Fail(c, http.StatusServiceUnavailable, 50300, "database is not configured")
		return false
	}
	return true
}

// currentAgent resolves the agent a dashboard request is about: ?agent_id,
// then the configured default agent, then the most recently created one.
func (h *Handler) currentAgent(c *gin.Context) (*agent.Agent, error) {
	ctx := c.Request.Context()
	if v := c.Query("agent_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, agent.ErrNotFound
		}
		return h.App.Agents.GetAgent(ctx, id)
	}
	if id := h.App.Cfg.DefaultAgentID; id != 0 {
		a, err := h.App.Agents.GetAgent(ctx, id)
		if !errors.Is(err, agent.ErrNotFound) {
			return a, err
		}
	}
	return h.App.Agents.LatestAgent(ctx)
}

// agentOrFail is currentAgent plus the failure envelope.
func (h *Handler) agentOrFail(c *gin.Context) (*agent.Agent, bool) {
	a, err := h.currentAgent(c)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "No agent found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to load agent")
		return nil, false
	}
	return a, true
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid id")
		return 0, false
	}
	return id, true
}
