package chat

import (
	"errors"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/platform"
)

var (
	ErrNotFound         = errors.New("chat: not found")
	ErrDuplicateMessage = errors.New("chat: duplicate inbound message")
)

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
)

// Outcome tags agent messages with how the text was produced.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeFallback  Outcome = "fallback"
)

// Conversation is one customer's thread with one agent on one platform.
type Conversation struct {
	ID             uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID        uint64        `gorm:"not null;index:uniq_conv_agent_platform_user,unique,priority:1" json:"agent_id"`
	Platform       platform.Kind `gorm:"type:varchar(16);not null;index:uniq_conv_agent_platform_user,unique,priority:2" json:"platform"`
	ExternalUserID string        `gorm:"type:varchar(128);not null;index:uniq_conv_agent_platform_user,unique,priority:3" json:"platform_conversation_id"`
	CustomerName   *string       `gorm:"type:varchar(255)" json:"customer_name,omitempty"`
	LastMessageAt  time.Time     `gorm:"index" json:"last_message_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID    uint64    `gorm:"not null;index:uniq_msg_conv_external,unique,priority:1" json:"conversation_id"`
	ExternalMessageID *string   `gorm:"type:varchar(191);index:uniq_msg_conv_external,unique,priority:2" json:"external_message_id,omitempty"`
	Sender            Sender    `gorm:"type:varchar(16);index;not null" json:"sender_type"`
	Content           string    `gorm:"type:text;not null" json:"content"`
	Outcome           Outcome   `gorm:"type:varchar(16)" json:"outcome,omitempty"`
	CreatedAt         time.Time `gorm:"index" json:"sent_at"`
}

func (Message) TableName() string { return "messages" }

func Models() []any {
	return []any{&Conversation{}, &Message{}}
}
