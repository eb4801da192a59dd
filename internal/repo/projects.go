package repo

import (
	"context"
	"database/sql"
	"time"

	"agentline/internal/domain"
)

const projectColumns = `id,name,COALESCE(description,''),status,COALESCE(working_dir,''),resumed_at,created_at,updated_at`

func scanProject(row scanner) (domain.Project, error) {
	var (
		p                    domain.Project
		resumed              sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.WorkingDir, &resumed, &createdAt, &updatedAt)
	if err != nil {
		return p, notFound(err)
	}
	if p.ResumedAt, err = parseNullTime(resumed); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTime(updatedAt)
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO projects(id,name,description,status,working_dir,resumed_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.Status, nullable(p.WorkingDir), nullableTime(p.ResumedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
	return scanProject(r.q().QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SaveProjectStatus writes status and resumedAt as one row update.
func (r Repo) SaveProjectStatus(ctx context.Context, p domain.Project) error {
	res, err := r.q().ExecContext(ctx, `UPDATE projects SET status=?, resumed_at=?, updated_at=? WHERE id=?`,
		p.Status, nullableTime(p.ResumedAt), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetProjectWorkingDir(ctx context.Context, id domain.ProjectID, dir string, now time.Time) error {
	res, err := r.q().ExecContext(ctx, `UPDATE projects SET working_dir=?, updated_at=? WHERE id=?`, nullable(dir), formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
