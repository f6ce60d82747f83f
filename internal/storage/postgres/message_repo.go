package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/storage"
)

// DefaultMaxHistoryMessages bounds a history load when the caller does
// not specify a limit.
const DefaultMaxHistoryMessages = 100

// Compile-time interface check.
var _ storage.MessageStore = (*MessageRepository)(nil)

// MessageRepository implements storage.MessageStore with GORM.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a MessageRepository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// AppendMessages atomically appends one or more messages to a project's
// history. Sequence numbers are monotonically assigned after the
// current max.
func (r *MessageRepository) AppendMessages(ctx context.Context, projectID uuid.UUID, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		err := tx.Model(&ConversationMessageModel{}).
			Where("project_id = ?", projectID).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		models := make([]ConversationMessageModel, 0, len(msgs))
		for i, msg := range msgs {
			models = append(models, toMessageModel(projectID, maxSeq+i+1, msg))
		}
		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("inserting messages: %w", err)
		}
		return nil
	})
}

// LoadHistory returns the most recent messages for a project, ordered
// oldest-first (ascending seq_num).
func (r *MessageRepository) LoadHistory(ctx context.Context, projectID uuid.UUID, maxMessages int) ([]llm.Message, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxHistoryMessages
	}

	var models []ConversationMessageModel
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("seq_num DESC").
		Limit(maxMessages).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading conversation history: %w", err)
	}

	// Reverse to oldest-first order.
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}

	messages := make([]llm.Message, len(models))
	for i := range models {
		messages[i] = toMessage(&models[i])
	}
	return messages, nil
}

// DeleteForProject removes all persisted history for a project.
func (r *MessageRepository) DeleteForProject(ctx context.Context, projectID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Delete(&ConversationMessageModel{}).Error; err != nil {
		return fmt.Errorf("deleting conversation messages: %w", err)
	}
	return nil
}
