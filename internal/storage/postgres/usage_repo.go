package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/storage"
)

// Compile-time interface check.
var _ storage.UsageStore = (*UsageRepository)(nil)

// UsageRepository implements storage.UsageStore with GORM.
// Usage rows are append-only.
type UsageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a UsageRepository.
func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Record(ctx context.Context, usage *domain.TokenUsage) error {
	model := TokenUsageModel{
		ID:           usage.ID,
		ProjectID:    usage.ProjectID,
		Provider:     usage.Provider,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CreatedAt:    usage.CreatedAt,
	}
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("recording token usage: %w", err)
	}
	return nil
}

func (r *UsageRepository) ProjectTotals(ctx context.Context, projectID uuid.UUID) (int, int, error) {
	var totals struct {
		Input  int
		Output int
	}
	err := r.db.WithContext(ctx).
		Model(&TokenUsageModel{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(SUM(input_tokens), 0) AS input, COALESCE(SUM(output_tokens), 0) AS output").
		Scan(&totals).Error
	if err != nil {
		return 0, 0, fmt.Errorf("summing token usage: %w", err)
	}
	return totals.Input, totals.Output, nil
}
