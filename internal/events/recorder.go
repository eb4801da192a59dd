package events

import (
	"context"
	"database/sql"
	"strconv"

	"agentline/internal/domain"
)

// Actor identifies who caused an event. Both fields are optional.
type Actor struct {
	AgentID   *domain.AgentID
	SessionID *domain.SessionID
}

// AgentActor builds an Actor for an agent acting through a session.
func AgentActor(agent domain.AgentID, session domain.SessionID) Actor {
	var a Actor
	if agent != "" {
		a.AgentID = &agent
	}
	if session != "" {
		a.SessionID = &session
	}
	return a
}

// Recorder builds typed events for each kind of state change.
type Recorder struct {
	Writer Writer
}

// RecordEvent appends an arbitrary event.
func (r Recorder) RecordEvent(ctx context.Context, tx *sql.Tx, e domain.StateChangeEvent) (domain.StateChangeEvent, error) {
	return r.Writer.Append(ctx, tx, e)
}

func (r Recorder) RecordStatusChange(ctx context.Context, tx *sql.Tx, projectID domain.ProjectID, entityType domain.EntityType, entityID, from, to string, actor Actor, reason string) (domain.StateChangeEvent, error) {
	return r.Writer.Append(ctx, tx, domain.StateChangeEvent{
		ProjectID:     projectID,
		EntityType:    entityType,
		EntityID:      entityID,
		EventType:     domain.EventStatusChanged,
		AgentID:       actor.AgentID,
		SessionID:     actor.SessionID,
		PreviousState: strPtr(from),
		NewState:      strPtr(to),
		Reason:        strPtr(reason),
	})
}

// RecordAssignmentChange records a task moving between assignees. A nil next
// is an unassignment.
func (r Recorder) RecordAssignmentChange(ctx context.Context, tx *sql.Tx, task domain.Task, previous, next *domain.AgentID, actor Actor, reason string) (domain.StateChangeEvent, error) {
	e := domain.StateChangeEvent{
		ProjectID:  task.ProjectID,
		EntityType: domain.EntityTask,
		EntityID:   string(task.ID),
		EventType:  domain.EventAssigned,
		AgentID:    actor.AgentID,
		SessionID:  actor.SessionID,
		Reason:     strPtr(reason),
	}
	if previous != nil {
		e.PreviousState = strPtr(string(*previous))
	}
	if next != nil {
		e.NewState = strPtr(string(*next))
	} else {
		e.EventType = domain.EventUnassigned
	}
	return r.Writer.Append(ctx, tx, e)
}

func (r Recorder) RecordCreation(ctx context.Context, tx *sql.Tx, projectID domain.ProjectID, entityType domain.EntityType, entityID, state string, actor Actor, metadata map[string]string) (domain.StateChangeEvent, error) {
	return r.Writer.Append(ctx, tx, domain.StateChangeEvent{
		ProjectID:  projectID,
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  domain.EventCreated,
		AgentID:    actor.AgentID,
		SessionID:  actor.SessionID,
		NewState:   strPtr(state),
		Metadata:   metadata,
	})
}

func (r Recorder) RecordSessionStarted(ctx context.Context, tx *sql.Tx, s domain.AgentSession) (domain.StateChangeEvent, error) {
	return r.Writer.Append(ctx, tx, domain.StateChangeEvent{
		ProjectID:  s.ProjectID,
		EntityType: domain.EntitySession,
		EntityID:   string(s.ID),
		EventType:  domain.EventStarted,
		AgentID:    &s.AgentID,
		SessionID:  &s.ID,
		NewState:   strPtr("active"),
		Metadata:   map[string]string{"expires_at": s.ExpiresAt.UTC().Format(timeLayout)},
	})
}

func (r Recorder) RecordSessionEnded(ctx context.Context, tx *sql.Tx, s domain.AgentSession, reason string) (domain.StateChangeEvent, error) {
	return r.Writer.Append(ctx, tx, domain.StateChangeEvent{
		ProjectID:     s.ProjectID,
		EntityType:    domain.EntitySession,
		EntityID:      string(s.ID),
		EventType:     domain.EventCompleted,
		AgentID:       &s.AgentID,
		SessionID:     &s.ID,
		PreviousState: strPtr("active"),
		NewState:      strPtr("ended"),
		Reason:        strPtr(reason),
	})
}

func (r Recorder) RecordHandoffCreated(ctx context.Context, tx *sql.Tx, h domain.Handoff, actor Actor) (domain.StateChangeEvent, error) {
	meta := map[string]string{"task_id": string(h.TaskID), "from_agent_id": string(h.FromAgentID)}
	if h.ToAgentID != nil {
		meta["to_agent_id"] = string(*h.ToAgentID)
	}
	return r.Writer.Append(ctx, tx, domain.StateChangeEvent{
		ProjectID:  h.ProjectID,
		EntityType: domain.EntityHandoff,
		EntityID:   string(h.ID),
		EventType:  domain.EventCreated,
		AgentID:    actor.AgentID,
		SessionID:  actor.SessionID,
		NewState:   strPtr(string(domain.HandoffPending)),
		Metadata:   meta,
	})
}

func (r Recorder) RecordHandoffAccepted(ctx context.Context, tx *sql.Tx, h domain.Handoff, actor Actor) (domain.StateChangeEvent, error) {
	return r.Writer.Append(ctx, tx, domain.StateChangeEvent{
		ProjectID:     h.ProjectID,
		EntityType:    domain.EntityHandoff,
		EntityID:      string(h.ID),
		EventType:     domain.EventCompleted,
		AgentID:       actor.AgentID,
		SessionID:     actor.SessionID,
		PreviousState: strPtr(string(domain.HandoffPending)),
		NewState:      strPtr(string(domain.HandoffAccepted)),
		Metadata:      map[string]string{"task_id": string(h.TaskID)},
	})
}

func (r Recorder) RecordContextSaved(ctx context.Context, tx *sql.Tx, c domain.Context) (domain.StateChangeEvent, error) {
	actor := AgentActor(c.AgentID, c.SessionID)
	return r.Writer.Append(ctx, tx, domain.StateChangeEvent{
		ProjectID:  c.ProjectID,
		EntityType: domain.EntityContext,
		EntityID:   string(c.ID),
		EventType:  domain.EventCreated,
		AgentID:    actor.AgentID,
		SessionID:  actor.SessionID,
		Metadata: map[string]string{
			"task_id":      string(c.TaskID),
			"has_blockers": strconv.FormatBool(c.Blockers != ""),
		},
	})
}
