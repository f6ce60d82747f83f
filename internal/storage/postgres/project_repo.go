package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/storage"
)

// Compile-time interface check.
var _ storage.ProjectStore = (*ProjectRepository)(nil)

// ProjectRepository implements storage.ProjectStore with GORM.
type ProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a ProjectRepository.
func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	model := toProjectModel(p)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var model ProjectModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return toProject(&model), nil
}

func (r *ProjectRepository) GetByName(ctx context.Context, name string) (*domain.Project, error) {
	var model ProjectModel
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading project by name: %w", err)
	}
	return toProject(&model), nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]*domain.Project, error) {
	var models []ProjectModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	projects := make([]*domain.Project, len(models))
	for i := range models {
		projects[i] = toProject(&models[i])
	}
	return projects, nil
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status, lastError string) error {
	res := r.db.WithContext(ctx).
		Model(&ProjectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"last_error": lastError,
		})
	if res.Error != nil {
		return fmt.Errorf("updating project status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *ProjectRepository) Touch(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&ProjectModel{}).
		Where("id = ?", id).
		Update("last_active_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("touching project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *ProjectRepository) ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.Project, error) {
	var models []ProjectModel
	err := r.db.WithContext(ctx).
		Where("(last_active_at IS NOT NULL AND last_active_at < ?) OR (last_active_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing idle projects: %w", err)
	}
	projects := make([]*domain.Project, len(models))
	for i := range models {
		projects[i] = toProject(&models[i])
	}
	return projects, nil
}

func (r *ProjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&ProjectModel{}).Error; err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return nil
}
