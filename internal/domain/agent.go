// Package domain – AI assistant models.
//
// These types back the per-artist AI assistant: its configuration, the
// day-scoped chat sessions, the individual messages, and the daily usage
// counter that enforces the message quota.
package domain

import (
	"strings"
	"time"
)

// Chat message roles.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// AgentConfig is the per-artist AI assistant configuration. The six Prompt*
// fragments are concatenated (non-empty ones only, in declaration order,
// separated by blank lines) to build the system prompt; when all six are
// empty a hard-coded fallback persona is used instead.
type AgentConfig struct {
	ID                string    `json:"id"        gorm:"type:char(36);primaryKey"`
	ArtistID          string    `json:"artist_id" gorm:"type:char(36);not null;uniqueIndex"`
	IsEnabled         bool      `json:"is_enabled" gorm:"not null;default:false"`
	Model             string    `json:"model"      gorm:"type:varchar(64);not null;default:'deepseek-chat'"`
	Temperature       float32   `json:"temperature" gorm:"not null;default:0.7"`
	MaxTokens         int       `json:"max_tokens" gorm:"not null;default:1000"`
	DailyMessageLimit int       `json:"daily_message_limit" gorm:"not null;default:20"`
	PromptIdentity    string    `json:"prompt_identity"   gorm:"type:text;not null;default:''"`
	PromptActivity    string    `json:"prompt_activity"   gorm:"type:text;not null;default:''"`
	PromptOntology    string    `json:"prompt_ontology"   gorm:"type:text;not null;default:''"`
	PromptMarketing   string    `json:"prompt_marketing"  gorm:"type:text;not null;default:''"`
	PromptBoundaries  string    `json:"prompt_boundaries" gorm:"type:text;not null;default:''"`
	PromptExtra       string    `json:"prompt_extra"      gorm:"type:text;not null;default:''"`
	ConfiguredBy      *string   `json:"configured_by,omitempty" gorm:"type:char(36)"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Artist Artist `json:"-" gorm:"foreignKey:ArtistID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for AgentConfig.
func (AgentConfig) TableName() string { return "ai_agent_configs" }

// PromptFragments returns the six prompt fragments in their fixed order.
func (c *AgentConfig) PromptFragments() []string {
	return []string{
		c.PromptIdentity, c.PromptActivity, c.PromptOntology,
		c.PromptMarketing, c.PromptBoundaries, c.PromptExtra,
	}
}

// HasCustomPrompt reports whether at least one prompt fragment is non-empty
// after trimming.
func (c *AgentConfig) HasCustomPrompt() bool {
	for _, f := range c.PromptFragments() {
		if strings.TrimSpace(f) != "" {
			return true
		}
	}
	return false
}

// ChatSession groups an artist's conversation turns for a single UTC
// calendar day. At most one session exists per (artist, context date); a new
// day always starts a fresh session, bounding context growth.
//
// MessageCount, TotalTokens, and LastMessageAt are denormalized counters
// updated incrementally as messages are appended.
type ChatSession struct {
	ID            string     `json:"id"           gorm:"type:char(36);primaryKey"`
	ArtistID      string     `json:"artist_id"    gorm:"type:char(36);not null;uniqueIndex:ux_session_artist_date,priority:1"`
	UserID        string     `json:"user_id"      gorm:"type:char(36);not null"`
	ContextDate   string     `json:"context_date" gorm:"type:char(10);not null;uniqueIndex:ux_session_artist_date,priority:2"`
	Title         string     `json:"title"        gorm:"type:varchar(255);not null;default:''"`
	MessageCount  int        `json:"message_count" gorm:"not null;default:0"`
	TotalTokens   int        `json:"total_tokens"  gorm:"not null;default:0"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Artist Artist `json:"-" gorm:"foreignKey:ArtistID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "ai_chat_sessions" }

// ChatMessage is a single utterance within a session, authored either by
// the artist ("user") or by the assistant. Messages are immutable once
// created and ordered by (CreatedAt, ID) within their session. Assistant
// messages may carry generation metadata.
type ChatMessage struct {
	ID             string    `json:"id"         gorm:"type:char(36);primaryKey"`
	SessionID      string    `json:"session_id" gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Role           string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content        string    `json:"content"    gorm:"type:text;not null"`
	TokensUsed     *int      `json:"tokens_used,omitempty"`
	ModelUsed      *string   `json:"model_used,omitempty" gorm:"type:varchar(64)"`
	ResponseTimeMS *int64    `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_session_msgs,priority:2"`

	Session ChatSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "ai_chat_messages" }

// DailyUsage counts the AI exchanges an artist consumed on one UTC calendar
// day. There is no reset job: the counter for a new day simply starts at
// zero because the (artist, date) key changes at UTC midnight.
type DailyUsage struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	ArtistID     string    `json:"artist_id"     gorm:"type:char(36);not null;uniqueIndex:ux_usage_artist_date,priority:1"`
	UsageDate    string    `json:"usage_date"    gorm:"type:char(10);not null;uniqueIndex:ux_usage_artist_date,priority:2"`
	MessagesUsed int       `json:"messages_used" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for DailyUsage.
func (DailyUsage) TableName() string { return "ai_daily_usage" }

// UsageDateOf formats t's UTC calendar day as the usage/session date key.
func UsageDateOf(t time.Time) string { return t.UTC().Format("2006-01-02") }
