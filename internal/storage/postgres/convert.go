package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/llm"
)

func toProjectModel(p *domain.Project) ProjectModel {
	model := ProjectModel{
		ID:           p.ID,
		Name:         p.Name,
		Template:     p.Template,
		Sandbox:      p.Sandbox,
		Port:         p.Port,
		Status:       p.Status,
		LastError:    p.LastError,
		LastActiveAt: p.LastActiveAt,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if model.Status == "" {
		model.Status = domain.StatusDeploying
	}
	return model
}

func toProject(m *ProjectModel) *domain.Project {
	return &domain.Project{
		ID:           m.ID,
		Name:         m.Name,
		Template:     m.Template,
		Sandbox:      m.Sandbox,
		Port:         m.Port,
		Status:       m.Status,
		LastError:    m.LastError,
		LastActiveAt: m.LastActiveAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// toMessageModel converts an llm.Message for persistence. The full
// block list round-trips through ContentBlocks; Content keeps the plain
// text for display and ad hoc queries.
func toMessageModel(projectID uuid.UUID, seqNum int, msg llm.Message) ConversationMessageModel {
	var contentBlocks JSONB
	if len(msg.Blocks) > 0 {
		if data, err := json.Marshal(msg.Blocks); err == nil {
			contentBlocks = JSONB(data)
		}
	}

	return ConversationMessageModel{
		ID:            uuid.New(),
		ProjectID:     projectID,
		SeqNum:        seqNum,
		Role:          sanitizeRole(msg.Role),
		Content:       msg.Text(),
		ContentBlocks: contentBlocks,
		CreatedAt:     time.Now().UTC(),
	}
}

// toMessage converts a GORM model back to an llm.Message.
func toMessage(m *ConversationMessageModel) llm.Message {
	if len(m.ContentBlocks) > 0 {
		var blocks []llm.ContentBlock
		if err := json.Unmarshal(m.ContentBlocks, &blocks); err == nil && len(blocks) > 0 {
			return llm.Message{Role: llm.Role(m.Role), Blocks: blocks}
		}
	}
	return llm.Message{
		Role:   llm.Role(m.Role),
		Blocks: []llm.ContentBlock{llm.TextBlock(m.Content)},
	}
}

func sanitizeRole(role llm.Role) string {
	if role == llm.RoleAssistant {
		return string(llm.RoleAssistant)
	}
	return string(llm.RoleUser)
}
