package domain

import "time"

type EntityType string

const (
	EntityAgent   EntityType = "agent"
	EntityProject EntityType = "project"
	EntityTask    EntityType = "task"
	EntitySession EntityType = "session"
	EntityHandoff EntityType = "handoff"
	EntityContext EntityType = "context"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityAgent, EntityProject, EntityTask, EntitySession, EntityHandoff, EntityContext:
		return true
	}
	return false
}

type EventType string

const (
	EventCreated       EventType = "created"
	EventUpdated       EventType = "updated"
	EventDeleted       EventType = "deleted"
	EventStatusChanged EventType = "status_changed"
	EventAssigned      EventType = "assigned"
	EventUnassigned    EventType = "unassigned"
	EventStarted       EventType = "started"
	EventCompleted     EventType = "completed"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventDeleted, EventStatusChanged,
		EventAssigned, EventUnassigned, EventStarted, EventCompleted:
		return true
	}
	return false
}

// StateChangeEvent is one immutable entry of the audit log.
type StateChangeEvent struct {
	ID            EventID           `json:"id"`
	Seq           int64             `json:"seq"`
	ProjectID     ProjectID         `json:"project_id"`
	EntityType    EntityType        `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	EventType     EventType         `json:"event_type"`
	AgentID       *AgentID          `json:"agent_id,omitempty"`
	SessionID     *SessionID        `json:"session_id,omitempty"`
	PreviousState *string           `json:"previous_state,omitempty"`
	NewState      *string           `json:"new_state,omitempty"`
	Reason        *string           `json:"reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at" format:"date-time"`
}
