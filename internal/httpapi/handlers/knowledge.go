package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
)

const maxKnowledgeFileBytes = 512 << 10

func (h *Handler) ListKnowledge(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	a, ok := h.agentOrFail(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	files, err := h.App.Agents.ListKnowledgeFiles(c.Request.Context(), a.ID, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list knowledge files")
		return
	}
	common.OK(c, files)
}

type knowledgeRequest struct {
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	FileContent string `json:"file_content"`
}

func (h *Handler) UploadKnowledge(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.FileName = strings.TrimSpace(req.FileName)
	if req.FileName == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "file_name is required")
		return
	}
	if req.FileContent == "" {
		common.Fail(c, http.StatusBadRequest, 10005, "file_content is required")
		return
	}
	if len(req.FileContent) > maxKnowledgeFileBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41300, "file is too large")
		return
	}

	a, ok := h.agentOrFail(c)
	if !ok {
		return
	}
	f := &agent.KnowledgeFile{
		AgentID:     a.ID,
		FileName:    req.FileName,
		FileType:    req.FileType,
		FileContent: req.FileContent,
		FileSize:    int64(len(req.FileContent)),
	}
	if err := h.App.Agents.CreateKnowledgeFile(c.Request.Context(), f); err != nil {
		logx.Error().Err(err).Uint64("agent_id", a.ID).Msg("knowledge upload failed")
		common.Fail(c, http.StatusInternalServerError, 50004, "Failed to upload file")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": f})
}

func (h *Handler) DeleteKnowledge(c *gin.Context) {
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
	if err := h.App.Agents.DeleteKnowledgeFile(c.Request.Context(), a.ID, id); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "knowledge file not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50005, "Failed to delete file")
		return
	}
	common.OK(c, gin.H{"id": id})
}
