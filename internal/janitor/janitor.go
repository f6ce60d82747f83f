// Package janitor reclaims sandboxes whose projects have gone idle. It
// runs on a cron schedule and, per idle project, either stops the
// container (default) or removes the sandbox and the project record
// entirely.
//
// Core invariant: the sweep is best-effort. One project failing to
// reap never aborts the rest of the sweep, and a failed sweep never
// stops the loop.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/karakana/internal/config"
	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/lifecycle"
	"github.com/jkaninda/karakana/internal/storage"
)

// Janitor sweeps idle projects on a cron schedule.
type Janitor struct {
	store     storage.Store
	lifecycle *lifecycle.Manager
	config    *config.JanitorConfig
	logger    *slog.Logger

	schedule cron.Schedule
	now      func() time.Time
}

// New creates a Janitor. It fails when the configured cron schedule
// does not parse, so a bad schedule is caught at startup rather than
// silently never firing.
func New(store storage.Store, lm *lifecycle.Manager, cfg *config.JanitorConfig, logger *slog.Logger) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.CronSchedule())
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.CronSchedule(), err)
	}
	return &Janitor{
		store:     store,
		lifecycle: lm,
		config:    cfg,
		logger:    logger,
		schedule:  sched,
		now:       time.Now,
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
func (j *Janitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		j.logger.InfoContext(ctx, "janitor started",
			slog.String("schedule", j.config.CronSchedule()),
			slog.String("idle_after", j.config.IdleAfter().String()),
			slog.Bool("remove", j.config.Remove),
		)

		for {
			next := j.schedule.Next(j.now().UTC())
			timer := time.NewTimer(next.Sub(j.now().UTC()))

			select {
			case <-ctx.Done():
				timer.Stop()
				j.logger.Info("janitor stopped")
				return
			case <-timer.C:
				j.Sweep(ctx)
			}
		}
	}()

	return cancel
}

// Sweep runs a single sweep cycle: list idle projects, reap each one.
// Returns how many projects were reaped and how many failed.
func (j *Janitor) Sweep(ctx context.Context) (reaped, failed int) {
	cutoff := j.now().UTC().Add(-j.config.IdleAfter())

	projects, err := j.store.Projects().ListIdle(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "janitor sweep failed",
			slog.String("error", err.Error()),
		)
		return 0, 0
	}

	for _, p := range projects {
		if p.Sandbox == "" || p.Status == domain.StatusDeploying {
			continue
		}
		if err := j.reap(ctx, p); err != nil {
			failed++
			j.logger.WarnContext(ctx, "failed to reap idle project",
				slog.String("project", p.Name),
				slog.String("sandbox", p.Sandbox),
				slog.String("error", err.Error()),
			)
			continue
		}
		reaped++
		j.logger.InfoContext(ctx, "reaped idle project",
			slog.String("project", p.Name),
			slog.String("sandbox", p.Sandbox),
			slog.Bool("removed", j.config.Remove),
		)
	}

	if reaped > 0 || failed > 0 {
		j.logger.InfoContext(ctx, "janitor sweep finished",
			slog.Int("reaped", reaped),
			slog.Int("failed", failed),
		)
	}
	return reaped, failed
}

// reap stops the project's sandbox, or removes everything when Remove
// is set. Removal tears down the container, image and project files,
// then the conversation history and the project record.
func (j *Janitor) reap(ctx context.Context, p *domain.Project) error {
	if !j.config.Remove {
		return j.lifecycle.Stop(ctx, p.Sandbox)
	}

	report := j.lifecycle.DeleteAndCleanup(ctx, p.Sandbox, p.Name)
	if len(report.Errors) > 0 {
		return fmt.Errorf("cleanup: %s", strings.Join(report.Errors, "; "))
	}
	if err := j.store.Messages().DeleteForProject(ctx, p.ID); err != nil {
		// The sandbox is already gone; an orphaned history is not
		// worth failing the reap over.
		j.logger.WarnContext(ctx, "failed to delete conversation history",
			slog.String("project", p.Name),
			slog.String("error", err.Error()),
		)
	}
	if err := j.store.Projects().Delete(ctx, p.ID); err != nil {
		return fmt.Errorf("deleting project record: %w", err)
	}
	return nil
}
