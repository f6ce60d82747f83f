// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/llm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the unified persistence interface for Karakana.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	Projects() ProjectStore
	Messages() MessageStore
	Usage() UsageStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// ProjectStore persists the project registry.
type ProjectStore interface {
	Create(ctx context.Context, p *domain.Project) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	GetByName(ctx context.Context, name string) (*domain.Project, error)
	List(ctx context.Context) ([]*domain.Project, error)
	// UpdateStatus sets the provisioning status and, for "error", the cause.
	UpdateStatus(ctx context.Context, id uuid.UUID, status, lastError string) error
	// Touch bumps LastActiveAt so the idle sweep skips live projects.
	Touch(ctx context.Context, id uuid.UUID) error
	// ListIdle returns projects whose LastActiveAt (or CreatedAt when the
	// project was never active) is before the cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MessageStore persists per-project conversation history.
type MessageStore interface {
	// AppendMessages atomically appends messages with monotonically
	// increasing sequence numbers.
	AppendMessages(ctx context.Context, projectID uuid.UUID, msgs []llm.Message) error
	// LoadHistory returns the most recent maxMessages messages,
	// oldest-first.
	LoadHistory(ctx context.Context, projectID uuid.UUID, maxMessages int) ([]llm.Message, error)
	DeleteForProject(ctx context.Context, projectID uuid.UUID) error
}

// UsageStore records provider token consumption.
type UsageStore interface {
	Record(ctx context.Context, usage *domain.TokenUsage) error
	// ProjectTotals sums recorded input and output tokens for a project.
	ProjectTotals(ctx context.Context, projectID uuid.UUID) (inputTokens, outputTokens int, err error)
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
