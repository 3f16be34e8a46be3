package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
	"github.com/suPer8Hu/autoreply-agent/internal/platform"
)

func (h *Handler) ListConnections(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	a, ok := h.agentOrFail(c)
	if !ok {
		return
	}
	conns, err := h.App.Agents.ListConnections(c.Request.Context(), a.ID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50006, "failed to list connections")
		return
	}
	common.OK(c, conns)
}

type connectionRequest struct {
	Platform    string `json:"platform"`
	PageID      string `json:"page_id"`
	PageName    string `json:"page_name"`
	AccessToken string `json:"access_token"`
}

// CreateConnection connects a page to the current agent. Connecting an
// already known page refreshes its token and reactivates it.
func (h *Handler) CreateConnection(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	kind, valid := platform.ParseKind(req.Platform)
	if !valid {
		common.Fail(c, http.StatusBadRequest, 10006, "platform must be facebook or instagram")
		return
	}
	req.PageID = strings.TrimSpace(req.PageID)
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	if req.PageID == "" || req.AccessToken == "" {
		common.Fail(c, http.StatusBadRequest, 10007, "page_id and access_token are required")
		return
	}

	a, ok := h.agentOrFail(c)
	if !ok {
		return
	}
	conn, err := h.App.Agents.UpsertConnection(c.Request.Context(), &agent.PlatformConnection{
		AgentID:     a.ID,
		Platform:    kind,
		PageID:      req.PageID,
		PageName:    req.PageName,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50007, "failed to save connection")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": conn})
}

func (h *Handler) UpdateConnection(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		common.Fail(c, http.StatusBadRequest, 10008, "is_active is required")
		return
	}
	a, ok := h.agentOrFail(c)
	if !ok {
		return
	}
	if err := h.App.Agents.SetConnectionActive(c.Request.Context(), a.ID, id, *req.IsActive); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "connection not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50008, "failed to update connection")
		return
	}
	common.OK(c, gin.H{"id": id, "is_active": *req.IsActive})
}

func (h *Handler) DeleteConnection(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	a, ok := h.agentOrFail(c)
	if !ok {
		return
	}
	if err := h.App.Agents.DeleteConnection(c.Request.Context(), a.ID, id); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "connection not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50009, "failed to delete connection")
		return
	}
	common.OK(c, gin.H{"id": id})
}
