package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/platform"
)

const (
	MaxResponseDelaySeconds = 60
)

// ErrNotFound is returned when no agent, connection or knowledge file matches.
var ErrNotFound = errors.New("agent: not found")

type Agent struct {
	ID                   uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                 string    `gorm:"type:varchar(255);not null" json:"name"`
	SystemPrompt         string    `gorm:"type:text;not null" json:"system_prompt"`
	Temperature          float64   `gorm:"not null" json:"temperature"`
	Model                string    `gorm:"type:varchar(128);not null" json:"model"`
	AutoReplyEnabled     bool      `gorm:"not null" json:"auto_reply_enabled"`
	ResponseDelaySeconds int       `gorm:"not null" json:"response_delay_seconds"`
	CreatedAt            time.Time `gorm:"index" json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }

// Validate enforces temperature in [0,1] and delay in [0,60].
func (a *Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(a.Model) == "" {
		return errors.New("model is required")
	}
	if a.Temperature < 0 || a.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %v", a.Temperature)
	}
	if a.ResponseDelaySeconds < 0 || a.ResponseDelaySeconds > MaxResponseDelaySeconds {
		return fmt.Errorf("response delay must be between 0 and %d seconds, got %d",
			MaxResponseDelaySeconds, a.ResponseDelaySeconds)
	}
	return nil
}

type PlatformConnection struct {
	ID          uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID     uint64        `gorm:"not null;index:uniq_conn_agent_platform_page,unique,priority:1" json:"agent_id"`
	Platform    platform.Kind `gorm:"type:varchar(32);not null;index:uniq_conn_agent_platform_page,unique,priority:2;index:idx_conn_platform_page,priority:1" json:"platform"`
	PageID      string        `gorm:"type:varchar(128);not null;index:uniq_conn_agent_platform_page,unique,priority:3;index:idx_conn_platform_page,priority:2" json:"page_id"`
	PageName    string        `gorm:"type:varchar(255)" json:"page_name,omitempty"`
	AccessToken string        `gorm:"type:text;not null" json:"-"`
	IsActive    bool          `gorm:"not null;index" json:"is_active"`
	ConnectedAt time.Time     `json:"connected_at"`
}

func (PlatformConnection) TableName() string { return "platform_connections" }

type KnowledgeFile struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID     uint64    `gorm:"not null;index:idx_kb_agent_created,priority:1" json:"agent_id"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"file_name"`
	FileType    string    `gorm:"type:varchar(128)" json:"file_type"`
	FileContent string    `gorm:"type:longtext;not null" json:"file_content"`
	FileSize    int64     `gorm:"not null" json:"file_size"`
	CreatedAt   time.Time `gorm:"index:idx_kb_agent_created,priority:2" json:"created_at"`
}

func (KnowledgeFile) TableName() string { return "knowledge_base" }

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Agent{}, &PlatformConnection{}, &KnowledgeFile{}}
}
