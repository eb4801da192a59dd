// Package auth decides whether a caller may invoke a tool.
package auth

import (
	"fmt"
	"sort"

	"agentline/internal/domain"
)

// Permission is the level a tool requires.
type Permission string

const (
	CoordinatorOnly Permission = "coordinatorOnly"
	ManagerOnly     Permission = "managerOnly"
	WorkerOnly      Permission = "workerOnly"
	Authenticated   Permission = "authenticated"
	Public          Permission = "unauthenticated"
)

// DenialKind enumerates authorization failures.
type DenialKind string

const (
	ToolNotRegistered      DenialKind = "tool_not_registered"
	CoordinatorRequired    DenialKind = "coordinator_required"
	ManagerRequired        DenialKind = "manager_required"
	WorkerRequired         DenialKind = "worker_required"
	AuthenticationRequired DenialKind = "authentication_required"
	NotSubordinate         DenialKind = "not_subordinate"
)

// AuthorizationError is a policy denial. It is never retryable.
type AuthorizationError struct {
	Kind      DenialKind
	Tool      string
	ManagerID domain.AgentID
	TargetID  domain.AgentID
}

func (e AuthorizationError) Error() string {
	switch e.Kind {
	case ToolNotRegistered:
		return fmt.Sprintf("tool %q is not registered", e.Tool)
	case CoordinatorRequired:
		return fmt.Sprintf("tool %q requires the coordinator", e.Tool)
	case ManagerRequired:
		return fmt.Sprintf("tool %q requires a manager agent", e.Tool)
	case WorkerRequired:
		return fmt.Sprintf("tool %q requires a worker agent", e.Tool)
	case AuthenticationRequired:
		return fmt.Sprintf("tool %q requires an authenticated agent session", e.Tool)
	case NotSubordinate:
		return fmt.Sprintf("agent %s is not a subordinate of manager %s", e.TargetID, e.ManagerID)
	default:
		return fmt.Sprintf("access to %q denied", e.Tool)
	}
}

// NotSubordinateError builds the denial for a target outside the manager's subtree.
func NotSubordinateError(managerID, targetID domain.AgentID) AuthorizationError {
	return AuthorizationError{Kind: NotSubordinate, ManagerID: managerID, TargetID: targetID}
}

// PermissionTable maps tool names to required permissions. It has no mutation API.
type PermissionTable struct {
	entries map[string]Permission
}

// NewPermissionTable copies entries into an immutable table.
func NewPermissionTable(entries map[string]Permission) *PermissionTable {
	m := make(map[string]Permission, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return &PermissionTable{entries: m}
}

// Lookup returns the permission required by tool.
func (t *PermissionTable) Lookup(tool string) (Permission, bool) {
	if t == nil {
		return "", false
	}
	p, ok := t.entries[tool]
	return p, ok
}

// Tools lists registered tool names in sorted order.
func (t *PermissionTable) Tools() []string {
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var defaultTable = NewPermissionTable(map[string]Permission{
	"authenticate": Public,
	"list_tools":   Public,

	"health_check":         CoordinatorOnly,
	"list_agents":          CoordinatorOnly,
	"create_agent":         CoordinatorOnly,
	"update_agent_status":  CoordinatorOnly,
	"list_projects":        CoordinatorOnly,
	"create_project":       CoordinatorOnly,
	"pause_project":        CoordinatorOnly,
	"resume_project":       CoordinatorOnly,
	"archive_project":      CoordinatorOnly,
	"list_active_sessions": CoordinatorOnly,

	"create_task":       ManagerOnly,
	"assign_task":       ManagerOnly,
	"unassign_task":     ManagerOnly,
	"list_subordinates": ManagerOnly,
	"kick_agent":        ManagerOnly,

	"report_completed": WorkerOnly,
	"report_blocked":   WorkerOnly,

	"logout":             Authenticated,
	"get_my_profile":     Authenticated,
	"get_my_tasks":       Authenticated,
	"update_task_status": Authenticated,
	"get_task_history":   Authenticated,
	"create_handoff":     Authenticated,
	"accept_handoff":     Authenticated,
	"save_context":       Authenticated,
	"get_context":        Authenticated,
})

// DefaultPermissions returns the process-wide tool table.
func DefaultPermissions() *PermissionTable {
	return defaultTable
}

// Authorizer evaluates callers against a permission table.
type Authorizer struct {
	Table *PermissionTable
}

// NewAuthorizer returns an Authorizer over table, or the default table when nil.
func NewAuthorizer(table *PermissionTable) Authorizer {
	if table == nil {
		table = defaultTable
	}
	return Authorizer{Table: table}
}

// Authorize returns nil when caller may invoke tool and an AuthorizationError otherwise.
// Unknown tools are always denied.
func (a Authorizer) Authorize(tool string, caller Caller) error {
	required, ok := a.Table.Lookup(tool)
	if !ok {
		return AuthorizationError{Kind: ToolNotRegistered, Tool: tool}
	}
	if caller == nil {
		caller = Unauthenticated{}
	}
	deny := func(kind DenialKind) error {
		return AuthorizationError{Kind: kind, Tool: tool}
	}
	switch required {
	case Public:
		return nil
	case CoordinatorOnly:
		if _, ok := caller.(Coordinator); ok {
			return nil
		}
		return deny(CoordinatorRequired)
	case ManagerOnly:
		switch caller.(type) {
		case Manager:
			return nil
		case Coordinator, Worker:
			return deny(ManagerRequired)
		case Unauthenticated:
			return deny(AuthenticationRequired)
		}
	case WorkerOnly:
		switch caller.(type) {
		case Worker:
			return nil
		case Coordinator, Manager:
			return deny(WorkerRequired)
		case Unauthenticated:
			return deny(AuthenticationRequired)
		}
	case Authenticated:
		switch caller.(type) {
		case Manager, Worker:
			return nil
		case Coordinator, Unauthenticated:
			return deny(AuthenticationRequired)
		}
	}
	return deny(AuthenticationRequired)
}
