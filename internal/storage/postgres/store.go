package postgres

import (
	"context"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/jkaninda/karakana/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on top of a GORM connection. The same
// implementation serves both dialects; the sqlite package opens its own
// connection and wraps it here.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	driver string

	// Sub-store instances (created lazily on first access).
	mu       sync.Mutex
	projects storage.ProjectStore
	messages storage.MessageStore
	usage    storage.UsageStore
}

// NewStore wraps an open GORM connection.
func NewStore(db *gorm.DB, logger *slog.Logger, driver string) *Store {
	return &Store{db: db, logger: logger, driver: driver}
}

// GormDB returns the underlying GORM DB for repository construction.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// Migrate runs GORM AutoMigrate to create/update tables.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(
		&ProjectModel{},
		&ConversationMessageModel{},
		&TokenUsageModel{},
	)
}

// Ping checks the database connection for health/readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns the storage driver name.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Projects() storage.ProjectStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projects == nil {
		s.projects = NewProjectRepository(s.db)
	}
	return s.projects
}

func (s *Store) Messages() storage.MessageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = NewMessageRepository(s.db)
	}
	return s.messages
}

func (s *Store) Usage() storage.UsageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage == nil {
		s.usage = NewUsageRepository(s.db)
	}
	return s.usage
}
