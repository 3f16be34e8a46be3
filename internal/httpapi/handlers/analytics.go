package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
)

func (h *Handler) GetAnalytics(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	a, ok := h.agentOrFail(c)
	if !ok {
		return
	}
	out, err := h.App.Chats.Analytics(c.Request.Context(), a.ID, time.Now())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50010, "failed to compute analytics")
		return
	}
	common.OK(c, out)
}

// ListConversationMessages pages backwards through a conversation, newest first.
func (h *Handler) ListConversationMessages(c *gin.Context) {
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

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	ctx := c.Request.Context()
	conv, err := h.App.Chats.GetConversation(ctx, a.ID, id)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "conversation not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50011, "failed to load conversation")
		return
	}
	msgs, err := h.App.Chats.ListMessages(ctx, conv.ID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50012, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"conversation":   conv,
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}
