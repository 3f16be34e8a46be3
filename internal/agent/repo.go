package agent

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/platform"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Agents

func (r *Repo) CreateAgent(ctx context.Context, a *Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repo) UpdateAgent(ctx context.Context, a *Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&Agent{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"name":                   a.Name,
			"system_prompt":          a.SystemPrompt,
			"temperature":            a.Temperature,
			"model":                  a.Model,
			"auto_reply_enabled":     a.AutoReplyEnabled,
			"response_delay_seconds": a.ResponseDelaySeconds,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) GetAgent(ctx context.Context, id uint64) (*Agent, error) {
	var a Agent
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// LatestAgent returns the most recently created agent. Only the preview
// endpoint and the dashboard fall back to it.
func (r *Repo) LatestAgent(ctx context.Context) (*Agent, error) {
	var a Agent
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// SoleAgent returns the agent of a single-agent deployment. It reports
// ErrNotFound when zero or several agents exist.
func (r *Repo) SoleAgent(ctx context.Context) (*Agent, error) {
	var agents []Agent
	if err := r.db.WithContext(ctx).Order("id ASC").Limit(2).Find(&agents).Error; err != nil {
		return nil, err
	}
	if len(agents) != 1 {
		return nil, ErrNotFound
	}
	return &agents[0], nil
}

// Platform connections

// UpsertConnection inserts the connection or, when (agent, platform, page) already
// exists, refreshes name and token and reactivates it.
func (r *Repo) UpsertConnection(ctx context.Context, c *PlatformConnection) (*PlatformConnection, error) {
	c.ID = 0
	c.IsActive = true
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_id"}, {Name: "platform"}, {Name: "page_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"page_name", "access_token", "is_active", "connected_at",
		}),
	}).Create(c).Error
	if err != nil {
		return nil, err
	}

	var out PlatformConnection
	if err := r.db.WithContext(ctx).
		Where("agent_id = ? AND platform = ? AND page_id = ?", c.AgentID, c.Platform, c.PageID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) ListConnections(ctx context.Context, agentID uint64) ([]PlatformConnection, error) {
	var conns []PlatformConnection
	if err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("connected_at DESC").
		Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *Repo) SetConnectionActive(ctx context.Context, agentID, id uint64, active bool) error {
	res := r.db.WithContext(ctx).Model(&PlatformConnection{}).
		Where("id = ? AND agent_id = ?", id, agentID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteConnection(ctx context.Context, agentID, id uint64) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND agent_id = ?", id, agentID).
		Delete(&PlatformConnection{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConnectionForPage finds the connection (active or not) that owns a page or
// account id on a platform. The webhook recipient id is that page id.
func (r *Repo) ConnectionForPage(ctx context.Context, kind platform.Kind, pageID string) (*PlatformConnection, error) {
	var c PlatformConnection
	if err := r.db.WithContext(ctx).
		Where("platform = ? AND page_id = ?", kind, pageID).
		Order("is_active DESC, connected_at DESC").
		First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ActiveConnection returns the active connection of an agent for pageID on a
// platform. An empty pageID matches the most recently connected page.
func (r *Repo) ActiveConnection(ctx context.Context, agentID uint64, kind platform.Kind, pageID string) (*PlatformConnection, error) {
	var c PlatformConnection
	q := r.db.WithContext(ctx).
		Where("agent_id = ? AND platform = ? AND is_active = ?", agentID, kind, true)
	if pageID != "" {
		q = q.Where("page_id = ?", pageID)
	}
	if err := q.Order("connected_at DESC").First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Knowledge base

func (r *Repo) CreateKnowledgeFile(ctx context.Context, f *KnowledgeFile) error {
	if f.FileSize == 0 {
		f.FileSize = int64(len(f.FileContent))
	}
	return r.db.WithContext(ctx).Create(f).Error
}

// ListKnowledgeFiles returns an agent's files newest first. limit <= 0 means all.
func (r *Repo) ListKnowledgeFiles(ctx context.Context, agentID uint64, limit int) ([]KnowledgeFile, error) {
	q := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var files []KnowledgeFile
	if err := q.Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *Repo) DeleteKnowledgeFile(ctx context.Context, agentID, id uint64) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND agent_id = ?", id, agentID).
		Delete(&KnowledgeFile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
