package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
)

// GetAgent returns the current agent, or null data when none exists yet.
func (h *Handler) GetAgent(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	a, err := h.currentAgent(c)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			common.OK(c, nil)
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to load agent")
		return
	}
	common.OK(c, a)
}

type agentRequest struct {
	Name                 *string  `json:"name"`
	SystemPrompt         *string  `json:"system_prompt"`
	Temperature          *float64 `json:"temperature"`
	Model                *string  `json:"model"`
	AutoReplyEnabled     *bool    `json:"auto_reply_enabled"`
	ResponseDelaySeconds *int     `json:"response_delay_seconds"`
}

func (r agentRequest) apply(a *agent.Agent) {
	if r.Name != nil {
		a.Name = *r.Name
	}
	if r.SystemPrompt != nil {
		a.SystemPrompt = *r.SystemPrompt
	}
	if r.Temperature != nil {
		a.Temperature = *r.Temperature
	}
	if r.Model != nil {
		a.Model = *r.Model
	}
	if r.AutoReplyEnabled != nil {
		a.AutoReplyEnabled = *r.AutoReplyEnabled
	}
	if r.ResponseDelaySeconds != nil {
		a.ResponseDelaySeconds = *r.ResponseDelaySeconds
	}
}

// PutAgent updates the current agent's configuration. Omitted fields keep
// their value. The first call creates the agent and must name a model.
func (h *Handler) PutAgent(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	existing, err := h.currentAgent(c)
	create := errors.Is(err, agent.ErrNotFound)
	if err != nil && !create {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to load agent")
		return
	}
	if create {
		existing = &agent.Agent{
			Name:             "Assistant",
			Temperature:      0.7,
			AutoReplyEnabled: true,
		}
	}

	req.apply(existing)
	if err := existing.Validate(); err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, err.Error())
		return
	}

	if create {
		err = h.App.Agents.CreateAgent(ctx, existing)
	} else {
		err = h.App.Agents.UpdateAgent(ctx, existing)
	}
	if err != nil {
		logx.Error().Err(err).Uint64("agent_id", existing.ID).Msg("agent save failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "Failed to update agent")
		return
	}

	saved, err := h.App.Agents.GetAgent(ctx, existing.ID)
	if err != nil {
		common.OK(c, existing)
		return
	}
	common.OK(c, saved)
}
