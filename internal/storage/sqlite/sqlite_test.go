package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/storage"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "karakana.db")}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProjects_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := &domain.Project{
		ID:       domain.NewID(),
		Name:     "brave-otter",
		Template: "react-base",
		Sandbox:  "brave-otter",
		Port:     8090,
		Status:   domain.StatusDeploying,
	}
	if err := store.Projects().Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Projects().Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "brave-otter" || got.Port != 8090 || got.Status != domain.StatusDeploying {
		t.Errorf("loaded project = %+v", got)
	}

	byName, err := store.Projects().GetByName(ctx, "brave-otter")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if byName.ID != p.ID {
		t.Errorf("GetByName returned %s, want %s", byName.ID, p.ID)
	}

	if err := store.Projects().UpdateStatus(ctx, p.ID, domain.StatusReady, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ = store.Projects().Get(ctx, p.ID)
	if got.Status != domain.StatusReady {
		t.Errorf("status = %q after update", got.Status)
	}

	if err := store.Projects().Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Projects().Get(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestProjects_NotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Projects().Get(ctx, domain.NewID()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if _, err := store.Projects().GetByName(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetByName = %v, want ErrNotFound", err)
	}
	if err := store.Projects().UpdateStatus(ctx, domain.NewID(), domain.StatusError, "boom"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateStatus = %v, want ErrNotFound", err)
	}
	if err := store.Projects().Touch(ctx, domain.NewID()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Touch = %v, want ErrNotFound", err)
	}
}

func TestProjects_IdleSweep(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stale := &domain.Project{ID: domain.NewID(), Name: "stale", Sandbox: "stale", Template: "base", Status: domain.StatusReady}
	fresh := &domain.Project{ID: domain.NewID(), Name: "fresh", Sandbox: "fresh", Template: "base", Status: domain.StatusReady}
	for _, p := range []*domain.Project{stale, fresh} {
		if err := store.Projects().Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := store.Projects().Touch(ctx, fresh.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	// Never-touched projects fall back to CreatedAt, which is "now" for
	// both rows, so only a future cutoff sees the stale one.
	idle, err := store.Projects().ListIdle(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListIdle: %v", err)
	}
	if len(idle) != 0 {
		t.Errorf("idle before cutoff = %d projects, want 0", len(idle))
	}

	idle, err = store.Projects().ListIdle(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListIdle: %v", err)
	}
	if len(idle) != 2 {
		t.Errorf("idle after cutoff = %d projects, want 2", len(idle))
	}
}

func TestMessages_AppendAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	projectID := domain.NewID()

	turn := []llm.Message{
		llm.UserText("build me a shop"),
		llm.AssistantMessage(
			llm.TextBlock("Starting with the scaffold."),
			llm.ToolUseBlock("tu_1", "run_command", map[string]any{"command": "ls"}),
		),
		llm.UserMessage(llm.ToolResultBlock("tu_1", "index.js", false)),
		llm.AssistantMessage(llm.TextBlock("Done.")),
	}
	if err := store.Messages().AppendMessages(ctx, projectID, turn); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	history, err := store.Messages().LoadHistory(ctx, projectID, 0)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if history[0].Role != llm.RoleUser || history[0].Text() != "build me a shop" {
		t.Errorf("history[0] = %+v", history[0])
	}
	// Structured blocks must survive the round trip.
	blocks := history[1].Blocks
	if len(blocks) != 2 || blocks[1].Type != "tool_use" || blocks[1].Name != "run_command" {
		t.Errorf("history[1].Blocks = %+v", blocks)
	}
	if rb := history[2].Blocks[0]; rb.Type != "tool_result" || rb.ToolUseID != "tu_1" {
		t.Errorf("history[2].Blocks = %+v", history[2].Blocks)
	}
}

func TestMessages_LoadHistoryLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	projectID := domain.NewID()

	for i := 0; i < 6; i++ {
		msg := llm.UserText("message " + string(rune('a'+i)))
		if err := store.Messages().AppendMessages(ctx, projectID, []llm.Message{msg}); err != nil {
			t.Fatalf("AppendMessages: %v", err)
		}
	}

	history, err := store.Messages().LoadHistory(ctx, projectID, 3)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// Most recent three, oldest-first.
	if history[0].Text() != "message d" || history[2].Text() != "message f" {
		t.Errorf("window = [%q .. %q]", history[0].Text(), history[2].Text())
	}
}

func TestMessages_DeleteForProject(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	projectID := domain.NewID()

	if err := store.Messages().AppendMessages(ctx, projectID, []llm.Message{llm.UserText("hi")}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := store.Messages().DeleteForProject(ctx, projectID); err != nil {
		t.Fatalf("DeleteForProject: %v", err)
	}
	history, err := store.Messages().LoadHistory(ctx, projectID, 0)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history length = %d after delete", len(history))
	}
}

func TestUsage_RecordAndTotals(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	projectID := domain.NewID()

	for _, u := range []struct{ in, out int }{{100, 40}, {200, 60}} {
		err := store.Usage().Record(ctx, &domain.TokenUsage{
			ProjectID:    projectID,
			Provider:     "anthropic",
			InputTokens:  u.in,
			OutputTokens: u.out,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	in, out, err := store.Usage().ProjectTotals(ctx, projectID)
	if err != nil {
		t.Fatalf("ProjectTotals: %v", err)
	}
	if in != 300 || out != 100 {
		t.Errorf("totals = (%d, %d), want (300, 100)", in, out)
	}

	// Other projects are not included.
	in, out, err = store.Usage().ProjectTotals(ctx, domain.NewID())
	if err != nil {
		t.Fatalf("ProjectTotals: %v", err)
	}
	if in != 0 || out != 0 {
		t.Errorf("totals for empty project = (%d, %d)", in, out)
	}
}
