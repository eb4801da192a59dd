package engine

import (
	"context"
	"fmt"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
)

// ContextSaveOptions is a working-memory snapshot for a task.
type ContextSaveOptions struct {
	TaskID    domain.TaskID
	Progress  string
	Findings  string
	Blockers  string
	NextSteps string
}

func (e Engine) SaveContext(ctx context.Context, caller auth.Caller, opts ContextSaveOptions) (domain.Context, error) {
	id, s, err := identity(caller, "save_context")
	if err != nil {
		return domain.Context{}, err
	}
	if opts.Progress == "" && opts.Findings == "" && opts.Blockers == "" && opts.NextSteps == "" {
		return domain.Context{}, InputError{Field: "progress", Message: "at least one of progress, findings, blockers, next_steps is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Context{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	t, err := r.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Context{}, err
	}
	if err := canWorkOn(ctx, r, caller, "save_context", t); err != nil {
		return domain.Context{}, err
	}
	c := domain.Context{
		ID:        domain.NewContextID(),
		ProjectID: t.ProjectID,
		TaskID:    t.ID,
		AgentID:   id,
		SessionID: s.ID,
		Progress:  opts.Progress,
		Findings:  opts.Findings,
		Blockers:  opts.Blockers,
		NextSteps: opts.NextSteps,
		CreatedAt: e.now(),
	}
	if err := r.InsertContext(ctx, c); err != nil {
		return domain.Context{}, fmt.Errorf("insert context: %w", err)
	}
	if _, err := e.recorder().RecordContextSaved(ctx, tx, c); err != nil {
		return domain.Context{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Context{}, err
	}
	return c, nil
}

// GetContext returns the most recent snapshot for a task in the caller's project.
func (e Engine) GetContext(ctx context.Context, caller auth.Caller, taskID domain.TaskID) (domain.Context, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Context{}, err
	}
	if err := requireSameProject(caller, t.ProjectID); err != nil {
		return domain.Context{}, err
	}
	return e.Repo.LatestContext(ctx, t.ID)
}
