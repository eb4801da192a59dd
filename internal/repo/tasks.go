package repo

import (
	"context"
	"database/sql"
	"time"

	"agentline/internal/domain"
)

const taskColumns = `id,project_id,parent_task_id,title,COALESCE(description,''),status,assignee_id,created_at,updated_at`

func scanTask(row scanner) (domain.Task, error) {
	var (
		t                    domain.Task
		parent, assignee     sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &parent, &t.Title, &t.Description, &t.Status, &assignee, &createdAt, &updatedAt)
	if err != nil {
		return t, notFound(err)
	}
	if parent.Valid && parent.String != "" {
		p := domain.TaskID(parent.String)
		t.ParentTaskID = &p
	}
	if assignee.Valid && assignee.String != "" {
		a := domain.AgentID(assignee.String)
		t.AssigneeID = &a
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	t.UpdatedAt, err = parseTime(updatedAt)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	var parent, assignee any
	if t.ParentTaskID != nil {
		parent = string(*t.ParentTaskID)
	}
	if t.AssigneeID != nil {
		assignee = string(*t.AssigneeID)
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO tasks(id,project_id,parent_task_id,title,description,status,assignee_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, parent, t.Title, nullable(t.Description), t.Status, assignee, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	return scanTask(r.q().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// TaskFilter narrows ListTasks; zero values match everything.
type TaskFilter struct {
	ProjectID  domain.ProjectID
	AssigneeID domain.AgentID
	Status     domain.TaskStatus
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.AssigneeID != "" {
		query += ` AND assignee_id=?`
		args = append(args, f.AssigneeID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountOpenTasks counts non-terminal tasks assigned to agent.
func (r Repo) CountOpenTasks(ctx context.Context, agent domain.AgentID) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE assignee_id=? AND status NOT IN (?,?)`,
		agent, domain.TaskDone, domain.TaskCancelled).Scan(&n)
	return n, err
}

func (r Repo) UpdateTaskStatus(ctx context.Context, id domain.TaskID, status domain.TaskStatus, now time.Time) error {
	res, err := r.q().ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskAssignee sets or clears (nil) the assignee.
func (r Repo) UpdateTaskAssignee(ctx context.Context, id domain.TaskID, assignee *domain.AgentID, now time.Time) error {
	var v any
	if assignee != nil {
		v = string(*assignee)
	}
	res, err := r.q().ExecContext(ctx, `UPDATE tasks SET assignee_id=?, updated_at=? WHERE id=?`, v, formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
