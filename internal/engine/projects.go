package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name        string
	Description string
	WorkingDir  string
}

func cleanDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", InputError{Field: "working_dir", Message: err.Error()}
	}
	return abs, nil
}

func (e Engine) CreateProject(ctx context.Context, caller auth.Caller, opts ProjectCreateOptions) (domain.Project, error) {
	if err := required("name", opts.Name); err != nil {
		return domain.Project{}, err
	}
	dir, err := cleanDir(opts.WorkingDir)
	if err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	now := e.now()
	p := domain.Project{
		ID:          domain.NewProjectID(),
		Name:        opts.Name,
		Description: opts.Description,
		Status:      domain.ProjectActive,
		WorkingDir:  dir,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.WithTx(tx).InsertProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	var meta map[string]string
	if dir != "" {
		meta = map[string]string{"working_dir": dir}
	}
	if _, err := e.recorder().RecordCreation(ctx, tx, p.ID, domain.EntityProject, string(p.ID), string(p.Status), actorOf(caller), meta); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SetWorkingDir points the project at the directory kicked agents run in.
func (e Engine) SetWorkingDir(ctx context.Context, caller auth.Caller, id domain.ProjectID, dir string) (domain.Project, error) {
	dir, err := cleanDir(dir)
	if err != nil {
		return domain.Project{}, err
	}
	if dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return domain.Project{}, InputError{Field: "working_dir", Message: fmt.Sprintf("%s is not a directory", dir)}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	p, err := r.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	prev := p.WorkingDir
	p.WorkingDir = dir
	p.UpdatedAt = e.now()
	if err := r.SetProjectWorkingDir(ctx, p.ID, dir, p.UpdatedAt); err != nil {
		return p, err
	}
	actor := actorOf(caller)
	if _, err := e.recorder().RecordEvent(ctx, tx, domain.StateChangeEvent{
		ProjectID:  p.ID,
		EntityType: domain.EntityProject,
		EntityID:   string(p.ID),
		EventType:  domain.EventUpdated,
		AgentID:    actor.AgentID,
		SessionID:  actor.SessionID,
		Metadata:   map[string]string{"field": "working_dir", "previous": prev, "new": dir},
	}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

func (e Engine) GetProject(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) PauseProject(ctx context.Context, caller auth.Caller, id domain.ProjectID) (domain.Project, error) {
	return e.Sessions().PauseProject(ctx, id, actorOf(caller))
}

func (e Engine) ResumeProject(ctx context.Context, caller auth.Caller, id domain.ProjectID) (domain.Project, error) {
	return e.Sessions().ResumeProject(ctx, id, actorOf(caller))
}

func (e Engine) ArchiveProject(ctx context.Context, caller auth.Caller, id domain.ProjectID, reason string) (domain.Project, error) {
	return e.Sessions().ArchiveProject(ctx, id, actorOf(caller), reason)
}

// ListActiveSessions returns the project's unexpired sessions.
func (e Engine) ListActiveSessions(ctx context.Context, id domain.ProjectID) ([]domain.AgentSession, error) {
	if _, err := e.Repo.GetProject(ctx, id); err != nil {
		return nil, err
	}
	return e.Sessions().ListActive(ctx, id)
}

// ProjectEvents pages through the project's event log. Session callers only
// see their own project.
func (e Engine) ProjectEvents(ctx context.Context, caller auth.Caller, id domain.ProjectID, afterSeq int64, limit int) ([]domain.StateChangeEvent, error) {
	if err := requireSameProject(caller, id); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetProject(ctx, id); err != nil {
		return nil, err
	}
	return e.Events().ListByProject(ctx, id, afterSeq, limit)
}
