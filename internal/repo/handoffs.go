package repo

import (
	"context"
	"database/sql"

	"agentline/internal/domain"
)

const handoffColumns = `id,project_id,task_id,from_agent_id,to_agent_id,summary,COALESCE(context,''),status,created_at,accepted_at`

func scanHandoff(row scanner) (domain.Handoff, error) {
	var (
		h              domain.Handoff
		to, acceptedAt sql.NullString
		createdAt      string
	)
	err := row.Scan(&h.ID, &h.ProjectID, &h.TaskID, &h.FromAgentID, &to, &h.Summary, &h.Context, &h.Status, &createdAt, &acceptedAt)
	if err != nil {
		return h, notFound(err)
	}
	if to.Valid && to.String != "" {
		a := domain.AgentID(to.String)
		h.ToAgentID = &a
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return h, err
	}
	h.AcceptedAt, err = parseNullTime(acceptedAt)
	return h, err
}

func (r Repo) InsertHandoff(ctx context.Context, h domain.Handoff) error {
	var to any
	if h.ToAgentID != nil {
		to = string(*h.ToAgentID)
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO handoffs(id,project_id,task_id,from_agent_id,to_agent_id,summary,context,status,created_at,accepted_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		h.ID, h.ProjectID, h.TaskID, h.FromAgentID, to, h.Summary, nullable(h.Context), h.Status, formatTime(h.CreatedAt), nullableTime(h.AcceptedAt))
	return err
}

func (r Repo) GetHandoff(ctx context.Context, id domain.HandoffID) (domain.Handoff, error) {
	return scanHandoff(r.q().QueryRowContext(ctx, `SELECT `+handoffColumns+` FROM handoffs WHERE id=?`, id))
}

// SaveHandoffAcceptance marks a pending handoff accepted by h.ToAgentID.
func (r Repo) SaveHandoffAcceptance(ctx context.Context, h domain.Handoff) error {
	var to any
	if h.ToAgentID != nil {
		to = string(*h.ToAgentID)
	}
	res, err := r.q().ExecContext(ctx, `UPDATE handoffs SET status=?, accepted_at=?, to_agent_id=? WHERE id=? AND status=?`,
		h.Status, nullableTime(h.AcceptedAt), to, h.ID, domain.HandoffPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingHandoffs returns pending handoffs addressed to agent or to nobody in particular.
func (r Repo) ListPendingHandoffs(ctx context.Context, projectID domain.ProjectID, agent domain.AgentID) ([]domain.Handoff, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+handoffColumns+` FROM handoffs
WHERE project_id=? AND status=? AND (to_agent_id IS NULL OR to_agent_id=?) ORDER BY created_at, id`,
		projectID, domain.HandoffPending, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
