package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Identifier prefixes. Every id is the prefix followed by a random suffix.
const (
	AgentPrefix   = "agt_"
	ProjectPrefix = "prj_"
	TaskPrefix    = "tsk_"
	SessionPrefix = "ses_"
	EventPrefix   = "evt_"
	ContextPrefix = "ctx_"
	HandoffPrefix = "hof_"
)

type (
	AgentID   string
	ProjectID string
	TaskID    string
	SessionID string
	EventID   string
	ContextID string
	HandoffID string
)

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewAgentID() AgentID     { return AgentID(newID(AgentPrefix)) }
func NewProjectID() ProjectID { return ProjectID(newID(ProjectPrefix)) }
func NewTaskID() TaskID       { return TaskID(newID(TaskPrefix)) }
func NewSessionID() SessionID { return SessionID(newID(SessionPrefix)) }
func NewEventID() EventID     { return EventID(newID(EventPrefix)) }
func NewContextID() ContextID { return ContextID(newID(ContextPrefix)) }
func NewHandoffID() HandoffID { return HandoffID(newID(HandoffPrefix)) }

func (id AgentID) String() string   { return string(id) }
func (id ProjectID) String() string { return string(id) }
func (id TaskID) String() string    { return string(id) }
func (id SessionID) String() string { return string(id) }
func (id EventID) String() string   { return string(id) }
func (id ContextID) String() string { return string(id) }
func (id HandoffID) String() string { return string(id) }

// HasPrefix reports whether raw carries the given type tag and a non-empty suffix.
func HasPrefix(raw, prefix string) bool {
	return len(raw) > len(prefix) && strings.HasPrefix(raw, prefix)
}
