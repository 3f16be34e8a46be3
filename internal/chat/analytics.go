package chat

import (
	"context"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/platform"
)

const (
	recentConversationLimit = 10
	activityDays            = 7
)

type PlatformStat struct {
	Platform          platform.Kind `json:"platform"`
	UserCount         int64         `json:"user_count"`
	ConversationCount int64         `json:"conversation_count"`
}

type RecentConversation struct {
	ID            uint64        `json:"id"`
	Platform      platform.Kind `json:"platform"`
	CustomerName  *string       `json:"customer_name,omitempty"`
	LastMessageAt time.Time     `json:"last_message_at"`
	LastMessage   string        `json:"last_message"`
	LastSender    Sender        `json:"last_sender"`
}

type DailyActivity struct {
	Date         string `json:"date"`
	MessageCount int64  `json:"message_count"`
}

type Analytics struct {
	UniqueUsers         int64                `json:"unique_users"`
	PlatformBreakdown   []PlatformStat       `json:"platform_breakdown"`
	MessagesSent        int64                `json:"messages_sent"`
	MessagesReceived    int64                `json:"messages_received"`
	RecentConversations []RecentConversation `json:"recent_conversations"`
	DailyActivity       []DailyActivity      `json:"daily_activity"`
}

// Analytics summarizes an agent's conversations. Daily activity covers the
// seven days ending at now, newest day first, and lists only days with messages.
func (r *Repo) Analytics(ctx context.Context, agentID uint64, now time.Time) (*Analytics, error) {
	db := r.db.WithContext(ctx)
	out := &Analytics{
		PlatformBreakdown:   []PlatformStat{},
		RecentConversations: []RecentConversation{},
		DailyActivity:       []DailyActivity{},
	}

	if err := db.Model(&Conversation{}).
		Where("agent_id = ?", agentID).
		Distinct("external_user_id").
		Count(&out.UniqueUsers).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&Conversation{}).
		Select("platform, COUNT(DISTINCT external_user_id) AS user_count, COUNT(id) AS conversation_count").
		Where("agent_id = ?", agentID).
		Group("platform").
		Order("platform").
		Scan(&out.PlatformBreakdown).Error; err != nil {
		return nil, err
	}

	convIDs := db.Model(&Conversation{}).Select("id").Where("agent_id = ?", agentID)

	if err := db.Model(&Message{}).
		Where("conversation_id IN (?) AND sender = ?", convIDs, SenderAgent).
		Count(&out.MessagesSent).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Message{}).
		Where("conversation_id IN (?) AND sender = ?", convIDs, SenderCustomer).
		Count(&out.MessagesReceived).Error; err != nil {
		return nil, err
	}

	var convs []Conversation
	if err := db.Where("agent_id = ?", agentID).
		Order("last_message_at DESC, id DESC").
		Limit(recentConversationLimit).
		Find(&convs).Error; err != nil {
		return nil, err
	}
	for _, c := range convs {
		rc := RecentConversation{
			ID:            c.ID,
			Platform:      c.Platform,
			CustomerName:  c.CustomerName,
			LastMessageAt: c.LastMessageAt,
		}
		var last []Message
		if err := db.Where("conversation_id = ?", c.ID).
			Order("id DESC").
			Limit(1).
			Find(&last).Error; err != nil {
			return nil, err
		}
		if len(last) == 1 {
			rc.LastMessage = last[0].Content
			rc.LastSender = last[0].Sender
		}
		out.RecentConversations = append(out.RecentConversations, rc)
	}

	// Bucketed here rather than with DATE() so mysql and sqlite agree.
	since := now.Add(-activityDays * 24 * time.Hour)
	var stamps []time.Time
	if err := db.Model(&Message{}).
		Where("conversation_id IN (?) AND created_at >= ?", convIDs, since).
		Order("created_at DESC").
		Pluck("created_at", &stamps).Error; err != nil {
		return nil, err
	}
	for _, ts := range stamps {
		day := ts.In(now.Location()).Format(time.DateOnly)
		n := len(out.DailyActivity)
		if n > 0 && out.DailyActivity[n-1].Date == day {
			out.DailyActivity[n-1].MessageCount++
			continue
		}
		out.DailyActivity = append(out.DailyActivity, DailyActivity{Date: day, MessageCount: 1})
	}

	return out, nil
}
