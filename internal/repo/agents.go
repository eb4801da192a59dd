package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentline/internal/domain"
)

const agentColumns = `id,name,COALESCE(role,''),type,hierarchy_type,parent_agent_id,max_parallel_tasks,capabilities_json,status,auth_level,COALESCE(passkey_hash,''),COALESCE(kick_method,''),COALESCE(kick_command,''),created_at,updated_at`

func scanAgent(row scanner) (domain.Agent, error) {
	var (
		a                    domain.Agent
		parent, caps         sql.NullString
		kickMethod           string
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Type, &a.HierarchyType, &parent, &a.MaxParallelTasks,
		&caps, &a.Status, &a.AuthLevel, &a.PasskeyHash, &kickMethod, &a.KickCommand, &createdAt, &updatedAt)
	if err != nil {
		return domain.Agent{}, notFound(err)
	}
	if parent.Valid && parent.String != "" {
		p := domain.AgentID(parent.String)
		a.ParentAgentID = &p
	}
	a.KickMethod = domain.KickMethod(kickMethod)
	if a.Capabilities, err = unmarshalStrings(caps); err != nil {
		return domain.Agent{}, fmt.Errorf("agent %s capabilities: %w", a.ID, err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Agent{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (r Repo) InsertAgent(ctx context.Context, a domain.Agent) error {
	var parent any
	if a.ParentAgentID != nil {
		parent = string(*a.ParentAgentID)
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO agents(id,name,role,type,hierarchy_type,parent_agent_id,max_parallel_tasks,capabilities_json,status,auth_level,passkey_hash,kick_method,kick_command,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Role), a.Type, a.HierarchyType, parent, a.MaxParallelTasks, marshalStrings(a.Capabilities),
		a.Status, a.AuthLevel, nullable(a.PasskeyHash), nullable(string(a.KickMethod)), nullable(a.KickCommand),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return err
}

func (r Repo) GetAgent(ctx context.Context, id domain.AgentID) (domain.Agent, error) {
	return scanAgent(r.q().QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

// ListAgents returns agents ordered by creation; an empty status lists all.
func (r Repo) ListAgents(ctx context.Context, status domain.AgentStatus) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r Repo) UpdateAgentStatus(ctx context.Context, id domain.AgentID, status domain.AgentStatus, now time.Time) error {
	res, err := r.q().ExecContext(ctx, `UPDATE agents SET status=?, updated_at=? WHERE id=?`, status, formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAgentParent sets or clears (nil) the agent's parent.
func (r Repo) UpdateAgentParent(ctx context.Context, id domain.AgentID, parent *domain.AgentID, now time.Time) error {
	var v any
	if parent != nil {
		v = string(*parent)
	}
	res, err := r.q().ExecContext(ctx, `UPDATE agents SET parent_agent_id=?, updated_at=? WHERE id=?`, v, formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
