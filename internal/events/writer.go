package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentline/internal/domain"
	"agentline/internal/metrics"
	"agentline/internal/observability"
)

// ErrUnknownEntity is returned when an event references a row that does not exist.
var ErrUnknownEntity = errors.New("event references unknown entity")

var entityTables = map[domain.EntityType]string{
	domain.EntityAgent:   "agents",
	domain.EntityProject: "projects",
	domain.EntityTask:    "tasks",
	domain.EntitySession: "sessions",
	domain.EntityHandoff: "handoffs",
	domain.EntityContext: "contexts",
}

// Writer appends events inside the caller's transaction, so an event and the
// mutation it describes commit or roll back together.
type Writer struct {
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Append validates e, assigns its id, sequence and timestamp, and inserts it.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.StateChangeEvent) (domain.StateChangeEvent, error) {
	if tx == nil {
		return e, errors.New("event append requires a transaction")
	}
	out, err := w.append(ctx, tx, e)
	if err != nil {
		w.Metrics.EventAppendFailed()
		observability.LoggerFromContext(ctx).Error("event append failed",
			"entity_type", e.EntityType, "entity_id", e.EntityID, "event_type", e.EventType, "error", err)
		return e, err
	}
	w.Metrics.EventAppended(string(out.EntityType), string(out.EventType))
	return out, nil
}

func (w Writer) append(ctx context.Context, tx *sql.Tx, e domain.StateChangeEvent) (domain.StateChangeEvent, error) {
	// Agents are global; every other entity lives in a project.
	if e.ProjectID == "" && e.EntityType != domain.EntityAgent {
		return e, errors.New("event project_id required")
	}
	if !e.EntityType.Valid() {
		return e, fmt.Errorf("invalid entity type %q", e.EntityType)
	}
	if !e.EventType.Valid() {
		return e, fmt.Errorf("invalid event type %q", e.EventType)
	}
	if e.EntityID == "" {
		return e, errors.New("event entity_id required")
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+entityTables[e.EntityType]+` WHERE id=?`, e.EntityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("%w: %s %s", ErrUnknownEntity, e.EntityType, e.EntityID)
	}
	if err != nil {
		return e, err
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if e.ID == "" {
		e.ID = domain.NewEventID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	var meta any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return e, fmt.Errorf("marshal event metadata: %w", err)
		}
		meta = string(data)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(id,project_id,entity_type,entity_id,event_type,agent_id,session_id,previous_state,new_state,reason,metadata_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.EntityType, e.EntityID, e.EventType,
		optionalID(e.AgentID), optionalID(e.SessionID), optional(e.PreviousState), optional(e.NewState), optional(e.Reason),
		meta, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return e, fmt.Errorf("insert event: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return e, err
	}
	return e, nil
}

func optional(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func optionalID[T ~string](v *T) any {
	if v == nil || *v == "" {
		return nil
	}
	return string(*v)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
