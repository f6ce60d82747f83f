package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProjectModel maps to the "projects" table.
type ProjectModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"not null;uniqueIndex"`
	Template     string    `gorm:"not null"`
	Sandbox      string    `gorm:"not null;uniqueIndex"`
	Port         int       `gorm:"not null"`
	Status       string    `gorm:"not null;default:'deploying'"`
	LastError    string
	LastActiveAt *time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ProjectModel) TableName() string { return "projects" }

// ConversationMessageModel maps to the "conversation_messages" table.
type ConversationMessageModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID     uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_project_seq"`
	SeqNum        int       `gorm:"not null;index:idx_messages_project_seq"`
	Role          string    `gorm:"not null"`
	Content       string
	ContentBlocks JSONB `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

func (ConversationMessageModel) TableName() string { return "conversation_messages" }

// TokenUsageModel maps to the "token_usage" table.
// No UpdatedAt — usage records are append-only.
type TokenUsageModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Provider     string    `gorm:"not null"`
	InputTokens  int       `gorm:"not null"`
	OutputTokens int       `gorm:"not null"`
	CreatedAt    time.Time
}

func (TokenUsageModel) TableName() string { return "token_usage" }

// JSONB is a json.RawMessage that implements the driver.Valuer and sql.Scanner
// interfaces for GORM JSONB columns. The SQLite dialect stores it as TEXT.
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = JSONB(append([]byte(nil), v...))
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	return nil
}
