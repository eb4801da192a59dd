// Package kick triggers an agent's external execution against a task.
package kick

import (
	"context"
	"fmt"
	"time"

	"agentline/internal/domain"
)

type Kind string

const (
	AgentNotFound            Kind = "agent_not_found"
	ProjectNotFound          Kind = "project_not_found"
	NoWorkingDirectory       Kind = "no_working_directory"
	WorkingDirectoryNotFound Kind = "working_directory_not_found"
	UnsupportedMethod        Kind = "unsupported_method"
	NoKickCommand            Kind = "no_kick_command"
	ExecutionFailed          Kind = "execution_failed"
	TaskNotAssigned          Kind = "task_not_assigned"
	CLINotFound              Kind = "cli_not_found"
)

// Error carries enough identifying context to be shown to an operator as is.
type Error struct {
	Kind      Kind
	AgentID   domain.AgentID
	ProjectID domain.ProjectID
	TaskID    domain.TaskID
	Path      string
	Method    string
	Reason    string
}

func (e *Error) Error() string {
	switch e.Kind {
	case AgentNotFound:
		return fmt.Sprintf("agent not found: %s", e.AgentID)
	case ProjectNotFound:
		return fmt.Sprintf("project not found: %s", e.ProjectID)
	case NoWorkingDirectory:
		return fmt.Sprintf("project %s has no working directory configured", e.ProjectID)
	case WorkingDirectoryNotFound:
		return fmt.Sprintf("working directory for project %s does not exist: %s", e.ProjectID, e.Path)
	case UnsupportedMethod:
		return fmt.Sprintf("agent %s has unsupported kick method %q", e.AgentID, e.Method)
	case NoKickCommand:
		return fmt.Sprintf("agent %s has no kick command configured", e.AgentID)
	case ExecutionFailed:
		return fmt.Sprintf("kick of agent %s failed: %s", e.AgentID, e.Reason)
	case TaskNotAssigned:
		return fmt.Sprintf("task %s is not assigned to any agent", e.TaskID)
	case CLINotFound:
		return fmt.Sprintf("agent CLI not found: %s", e.Path)
	default:
		return fmt.Sprintf("kick failed: %s", e.Kind)
	}
}

// KindLabel is used as the metrics outcome label.
func (e *Error) KindLabel() string { return string(e.Kind) }

// Result describes a started execution.
type Result struct {
	Success   bool           `json:"success"`
	AgentID   domain.AgentID `json:"agent_id"`
	AgentName string         `json:"agent_name"`
	Message   string         `json:"message,omitempty"`
	ProcessID *int           `json:"process_id,omitempty"`
	Timestamp time.Time      `json:"timestamp" format:"date-time"`
}

// Kicker launches an agent on a task within a project.
type Kicker interface {
	Kick(ctx context.Context, agent domain.Agent, task domain.Task, project domain.Project) (Result, error)
}
