package chat

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

// UpsertConversation creates the conversation for (agent, platform, user) or bumps
// last_message_at when it already exists. Concurrent first messages from the same
// user end up on one row.
func (r *Repo) UpsertConversation(ctx context.Context, agentID uint64, kind platform.Kind, externalUserID string) (*Conversation, error) {
	now := time.Now()
	c := &Conversation{
		AgentID:        agentID,
		Platform:       kind,
		ExternalUserID: externalUserID,
		LastMessageAt:  now,
		CreatedAt:      now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}, {Name: "platform"}, {Name: "external_user_id"}},
		DoUpdates: clause.Assignments(map[string]any{"last_message_at": now}),
	}).Create(c).Error
	if err != nil {
		return nil, err
	}

	var out Conversation
	if err := r.db.WithContext(ctx).
		Where("agent_id = ? AND platform = ? AND external_user_id = ?", agentID, kind, externalUserID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) GetConversation(ctx context.Context, agentID, id uint64) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("id = ? AND agent_id = ?", id, agentID).
		First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// InsertMessage appends a message. A customer message whose external id was
// already stored for the conversation is not inserted and ErrDuplicateMessage
// is returned.
func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if m.ExternalMessageID != nil && *m.ExternalMessageID == "" {
		m.ExternalMessageID = nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateMessage
	}
	return nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, conversationID uint64, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, conversationID uint64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Chronological reverses a newest-first slice in place and returns it.
func Chronological(msgs []Message) []Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
