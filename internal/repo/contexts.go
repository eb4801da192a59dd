package repo

import (
	"context"

	"agentline/internal/domain"
)

const contextColumns = `id,project_id,task_id,agent_id,COALESCE(session_id,''),COALESCE(progress,''),COALESCE(findings,''),COALESCE(blockers,''),COALESCE(next_steps,''),created_at`

func scanContext(row scanner) (domain.Context, error) {
	var (
		c         domain.Context
		createdAt string
	)
	err := row.Scan(&c.ID, &c.ProjectID, &c.TaskID, &c.AgentID, &c.SessionID, &c.Progress, &c.Findings, &c.Blockers, &c.NextSteps, &createdAt)
	if err != nil {
		return c, notFound(err)
	}
	c.CreatedAt, err = parseTime(createdAt)
	return c, err
}

func (r Repo) InsertContext(ctx context.Context, c domain.Context) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO contexts(id,project_id,task_id,agent_id,session_id,progress,findings,blockers,next_steps,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.TaskID, c.AgentID, nullable(string(c.SessionID)), nullable(c.Progress), nullable(c.Findings),
		nullable(c.Blockers), nullable(c.NextSteps), formatTime(c.CreatedAt))
	return err
}

// LatestContext returns the most recently saved context for a task.
func (r Repo) LatestContext(ctx context.Context, taskID domain.TaskID) (domain.Context, error) {
	return scanContext(r.q().QueryRowContext(ctx, `SELECT `+contextColumns+` FROM contexts WHERE task_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, taskID))
}
