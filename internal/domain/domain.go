package domain

import "time"

type AgentType string

const (
	AgentTypeAI    AgentType = "ai"
	AgentTypeHuman AgentType = "human"
)

type HierarchyType string

const (
	HierarchyOwner   HierarchyType = "owner"
	HierarchyManager HierarchyType = "manager"
	HierarchyWorker  HierarchyType = "worker"
)

type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentInactive  AgentStatus = "inactive"
	AgentSuspended AgentStatus = "suspended"
	AgentArchived  AgentStatus = "archived"
)

type KickMethod string

const (
	KickMethodCLI    KickMethod = "cli"
	KickMethodScript KickMethod = "script"
	KickMethodNone   KickMethod = "none"
)

type Agent struct {
	ID               AgentID       `json:"id"`
	Name             string        `json:"name"`
	Role             string        `json:"role,omitempty"`
	Type             AgentType     `json:"type" enum:"ai,human"`
	HierarchyType    HierarchyType `json:"hierarchy_type" enum:"owner,manager,worker"`
	ParentAgentID    *AgentID      `json:"parent_agent_id,omitempty"`
	MaxParallelTasks int           `json:"max_parallel_tasks"`
	Capabilities     []string      `json:"capabilities,omitempty"`
	Status           AgentStatus   `json:"status" enum:"active,inactive,suspended,archived"`
	AuthLevel        int           `json:"auth_level"`
	PasskeyHash      string        `json:"-"`
	KickMethod       KickMethod    `json:"kick_method,omitempty"`
	KickCommand      string        `json:"kick_command,omitempty"`
	CreatedAt        time.Time     `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time     `json:"updated_at" format:"date-time"`
}

// IsManagerRole reports whether the agent resolves to the manager caller.
func (a Agent) IsManagerRole() bool {
	return a.HierarchyType == HierarchyOwner || a.HierarchyType == HierarchyManager
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectPaused   ProjectStatus = "paused"
	ProjectArchived ProjectStatus = "archived"
)

type Project struct {
	ID          ProjectID     `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status" enum:"active,paused,archived"`
	WorkingDir  string        `json:"working_dir,omitempty"`
	ResumedAt   *time.Time    `json:"resumed_at,omitempty" format:"date-time"`
	CreatedAt   time.Time     `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time     `json:"updated_at" format:"date-time"`
}

type TaskStatus string

const (
	TaskBacklog    TaskStatus = "backlog"
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskCancelled
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskBacklog, TaskTodo, TaskInProgress, TaskBlocked, TaskDone, TaskCancelled:
		return true
	}
	return false
}

type Task struct {
	ID           TaskID     `json:"id"`
	ProjectID    ProjectID  `json:"project_id"`
	ParentTaskID *TaskID    `json:"parent_task_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status" enum:"backlog,todo,in_progress,blocked,done,cancelled"`
	AssigneeID   *AgentID   `json:"assignee_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time  `json:"updated_at" format:"date-time"`
}

type AgentSession struct {
	ID        SessionID `json:"id"`
	AgentID   AgentID   `json:"agent_id"`
	ProjectID ProjectID `json:"project_id"`
	// Token is only populated when the session is issued; the store keeps a digest.
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at" format:"date-time"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// Expired reports whether the session is past its expiry at now.
func (s AgentSession) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

type HandoffStatus string

const (
	HandoffPending  HandoffStatus = "pending"
	HandoffAccepted HandoffStatus = "accepted"
)

type Handoff struct {
	ID          HandoffID     `json:"id"`
	ProjectID   ProjectID     `json:"project_id"`
	TaskID      TaskID        `json:"task_id"`
	FromAgentID AgentID       `json:"from_agent_id"`
	ToAgentID   *AgentID      `json:"to_agent_id,omitempty"`
	Summary     string        `json:"summary"`
	Context     string        `json:"context,omitempty"`
	Status      HandoffStatus `json:"status" enum:"pending,accepted"`
	CreatedAt   time.Time     `json:"created_at" format:"date-time"`
	AcceptedAt  *time.Time    `json:"accepted_at,omitempty" format:"date-time"`
}

type Context struct {
	ID        ContextID `json:"id"`
	ProjectID ProjectID `json:"project_id"`
	TaskID    TaskID    `json:"task_id"`
	AgentID   AgentID   `json:"agent_id"`
	SessionID SessionID `json:"session_id,omitempty"`
	Progress  string    `json:"progress,omitempty"`
	Findings  string    `json:"findings,omitempty"`
	Blockers  string    `json:"blockers,omitempty"`
	NextSteps string    `json:"next_steps,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
