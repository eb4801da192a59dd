package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"agentline/internal/domain"
	"agentline/internal/repo"
)

const timeLayout = time.RFC3339Nano

const eventColumns = `seq,id,project_id,entity_type,entity_id,event_type,agent_id,session_id,previous_state,new_state,reason,metadata_json,created_at`

// Reader queries the log. Results are always in append order.
type Reader struct {
	Q repo.Querier
}

func scanEvent(rows *sql.Rows) (domain.StateChangeEvent, error) {
	var (
		e                                  domain.StateChangeEvent
		agent, session, prev, next, reason sql.NullString
		meta                               sql.NullString
		createdAt                          string
	)
	if err := rows.Scan(&e.Seq, &e.ID, &e.ProjectID, &e.EntityType, &e.EntityID, &e.EventType,
		&agent, &session, &prev, &next, &reason, &meta, &createdAt); err != nil {
		return e, err
	}
	if agent.Valid {
		id := domain.AgentID(agent.String)
		e.AgentID = &id
	}
	if session.Valid {
		id := domain.SessionID(session.String)
		e.SessionID = &id
	}
	e.PreviousState = nullString(prev)
	e.NewState = nullString(next)
	e.Reason = nullString(reason)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return e, err
		}
	}
	var err error
	e.CreatedAt, err = time.Parse(timeLayout, createdAt)
	return e, err
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r Reader) list(ctx context.Context, query string, args ...any) ([]domain.StateChangeEvent, error) {
	rows, err := r.Q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StateChangeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByEntity returns every event for one entity.
func (r Reader) ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.StateChangeEvent, error) {
	return r.list(ctx, `SELECT `+eventColumns+` FROM events WHERE entity_type=? AND entity_id=? ORDER BY seq`, entityType, entityID)
}

// ListByProject pages through a project's events after the given sequence.
// A limit of zero or less returns everything.
func (r Reader) ListByProject(ctx context.Context, projectID domain.ProjectID, afterSeq int64, limit int) ([]domain.StateChangeEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE project_id=? AND seq>? ORDER BY seq`
	args := []any{projectID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// LatestSeq returns the highest sequence recorded for the project, or zero.
func (r Reader) LatestSeq(ctx context.Context, projectID domain.ProjectID) (int64, error) {
	var seq sql.NullInt64
	if err := r.Q.QueryRowContext(ctx, `SELECT max(seq) FROM events WHERE project_id=?`, projectID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (r Reader) CountByEntity(ctx context.Context, entityType domain.EntityType, entityID string) (int, error) {
	var n int
	err := r.Q.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE entity_type=? AND entity_id=?`, entityType, entityID).Scan(&n)
	return n, err
}

// ReplayTaskStatus folds a task's events into its current status. ok is false
// when no event carried a status.
func ReplayTaskStatus(events []domain.StateChangeEvent) (status domain.TaskStatus, ok bool) {
	for _, e := range events {
		if e.EntityType != domain.EntityTask || e.NewState == nil {
			continue
		}
		switch e.EventType {
		case domain.EventCreated, domain.EventStatusChanged, domain.EventCompleted:
			status, ok = domain.TaskStatus(*e.NewState), true
		}
	}
	return status, ok
}
