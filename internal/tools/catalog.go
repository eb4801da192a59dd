package tools

import (
	"context"
	"time"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
)

func str(name, desc string) Param { return Param{Name: name, Description: desc} }

func req(name, desc string) Param { return Param{Name: name, Description: desc, Required: true} }

func agentIDPtr(s *string) *domain.AgentID {
	if s == nil {
		return nil
	}
	id := domain.AgentID(*s)
	return &id
}

var taskStatuses = []string{"backlog", "todo", "in_progress", "blocked", "done", "cancelled"}

func (r *Registry) catalog() []Tool {
	e := r.Engine
	return []Tool{
		{
			Name:        "authenticate",
			Description: "Exchange an agent id and passkey for a session token bound to a project.",
			Params:      []Param{req("agent_id", "Agent id"), req("passkey", "Agent passkey"), req("project_id", "Project to work in")},
			Handle: func(ctx context.Context, _ auth.Caller, a Args) (any, error) {
				agentID, err := a.RequireString("agent_id")
				if err != nil {
					return nil, err
				}
				projectID, err := a.RequireString("project_id")
				if err != nil {
					return nil, err
				}
				s, agent, err := e.Authenticate(ctx, engine.AuthenticateOptions{
					AgentID: domain.AgentID(agentID), Passkey: a.String("passkey"), ProjectID: domain.ProjectID(projectID),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"session_id": s.ID, "token": s.Token, "expires_at": s.ExpiresAt,
					"agent": agent, "caller": auth.KindOf(auth.CallerForAgent(agent, s)),
				}, nil
			},
		},
		{
			Name:        "list_tools",
			Description: "List the tools the current caller may invoke.",
			Handle: func(_ context.Context, caller auth.Caller, _ Args) (any, error) {
				var out []map[string]string
				for _, name := range r.Names() {
					if r.Authorizer.Authorize(name, caller) == nil {
						out = append(out, map[string]string{"name": name, "description": r.tools[name].Description})
					}
				}
				return map[string]any{"caller": auth.KindOf(caller), "tools": out}, nil
			},
		},
		{
			Name:        "health_check",
			Description: "Report service health.",
			Handle: func(ctx context.Context, _ auth.Caller, _ Args) (any, error) {
				if err := e.DB.PingContext(ctx); err != nil {
					return nil, err
				}
				return map[string]any{"status": "ok", "time": time.Now().UTC()}, nil
			},
		},
		{
			Name:        "list_agents",
			Description: "List agents, optionally by status.",
			Params:      []Param{{Name: "status", Description: "Agent status filter", Enum: []string{"active", "inactive", "suspended", "archived"}}},
			Handle: func(ctx context.Context, _ auth.Caller, a Args) (any, error) {
				return e.ListAgents(ctx, domain.AgentStatus(a.String("status")))
			},
		},
		{
			Name:        "create_agent",
			Description: "Register an agent in the hierarchy.",
			Params: []Param{
				req("name", "Display name"),
				str("role", "Free text role"),
				{Name: "type", Description: "ai or human", Enum: []string{"ai", "human"}},
				{Name: "hierarchy_type", Description: "owner, manager or worker", Enum: []string{"owner", "manager", "worker"}},
				str("parent_agent_id", "Parent agent id"),
				{Name: "max_parallel_tasks", Kind: NumberParam, Description: "Open task limit"},
				{Name: "capabilities", Kind: ArrayParam, Description: "Capability tags"},
				str("passkey", "Passkey used to authenticate"),
				{Name: "kick_method", Description: "cli, script or none", Enum: []string{"cli", "script", "none"}},
				str("kick_command", "Shell command for the script kick method"),
			},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				name, err := a.RequireString("name")
				if err != nil {
					return nil, err
				}
				maxTasks, err := a.Int("max_parallel_tasks", 1)
				if err != nil {
					return nil, err
				}
				return e.CreateAgent(ctx, caller, engine.AgentCreateOptions{
					Name:             name,
					Role:             a.String("role"),
					Type:             domain.AgentType(a.String("type")),
					HierarchyType:    domain.HierarchyType(a.String("hierarchy_type")),
					ParentAgentID:    agentIDPtr(a.OptionalString("parent_agent_id")),
					MaxParallelTasks: maxTasks,
					Capabilities:     a.Strings("capabilities"),
					Passkey:          a.String("passkey"),
					KickMethod:       domain.KickMethod(a.String("kick_method")),
					KickCommand:      a.String("kick_command"),
				})
			},
		},
		{
			Name:        "update_agent_status",
			Description: "Change an agent's status.",
			Params: []Param{
				req("agent_id", "Agent id"),
				{Name: "status", Required: true, Description: "New status", Enum: []string{"active", "inactive", "suspended", "archived"}},
				str("reason", "Why"),
			},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				id, err := a.RequireString("agent_id")
				if err != nil {
					return nil, err
				}
				status, err := a.RequireString("status")
				if err != nil {
					return nil, err
				}
				return e.UpdateAgentStatus(ctx, caller, domain.AgentID(id), domain.AgentStatus(status), a.String("reason"))
			},
		},
		{
			Name:        "list_projects",
			Description: "List projects.",
			Handle: func(ctx context.Context, _ auth.Caller, _ Args) (any, error) {
				return e.ListProjects(ctx)
			},
		},
		{
			Name:        "create_project",
			Description: "Create a project.",
			Params:      []Param{req("name", "Project name"), str("description", "Description"), str("working_dir", "Directory kicked agents run in")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				name, err := a.RequireString("name")
				if err != nil {
					return nil, err
				}
				return e.CreateProject(ctx, caller, engine.ProjectCreateOptions{
					Name: name, Description: a.String("description"), WorkingDir: a.String("working_dir"),
				})
			},
		},
		projectLifecycle("pause_project", "Pause a project; live sessions keep a 5 minute grace period.", e.PauseProject),
		projectLifecycle("resume_project", "Resume a paused project.", e.ResumeProject),
		{
			Name:        "archive_project",
			Description: "Archive a project. This is final.",
			Params:      []Param{req("project_id", "Project id"), str("reason", "Why")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				id, err := a.RequireString("project_id")
				if err != nil {
					return nil, err
				}
				return e.ArchiveProject(ctx, caller, domain.ProjectID(id), a.String("reason"))
			},
		},
		{
			Name:        "list_active_sessions",
			Description: "List a project's unexpired sessions.",
			Params:      []Param{req("project_id", "Project id")},
			Handle: func(ctx context.Context, _ auth.Caller, a Args) (any, error) {
				id, err := a.RequireString("project_id")
				if err != nil {
					return nil, err
				}
				return e.ListActiveSessions(ctx, domain.ProjectID(id))
			},
		},
		{
			Name:        "create_task",
			Description: "Create a task in the caller's project, optionally assigned to a subordinate.",
			Params: []Param{
				req("title", "Title"),
				str("description", "Description"),
				str("parent_task_id", "Parent task id"),
				str("assignee_id", "Subordinate to assign"),
				{Name: "status", Description: "Initial status", Enum: []string{"backlog", "todo"}},
			},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				title, err := a.RequireString("title")
				if err != nil {
					return nil, err
				}
				opts := engine.TaskCreateOptions{
					Title:       title,
					Description: a.String("description"),
					Status:      domain.TaskStatus(a.String("status")),
					AssigneeID:  agentIDPtr(a.OptionalString("assignee_id")),
				}
				if p := a.OptionalString("parent_task_id"); p != nil {
					id := domain.TaskID(*p)
					opts.ParentTaskID = &id
				}
				return e.CreateTask(ctx, caller, opts)
			},
		},
		{
			Name:        "assign_task",
			Description: "Assign a task to a subordinate.",
			Params:      []Param{req("task_id", "Task id"), req("agent_id", "Subordinate agent id"), str("reason", "Why")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				agentID, err := a.RequireString("agent_id")
				if err != nil {
					return nil, err
				}
				return e.AssignTask(ctx, caller, domain.TaskID(taskID), domain.AgentID(agentID), a.String("reason"))
			},
		},
		{
			Name:        "unassign_task",
			Description: "Remove a subordinate's assignment.",
			Params:      []Param{req("task_id", "Task id"), str("reason", "Why")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.UnassignTask(ctx, caller, domain.TaskID(taskID), a.String("reason"))
			},
		},
		{
			Name:        "list_subordinates",
			Description: "List the agents the caller manages.",
			Handle: func(ctx context.Context, caller auth.Caller, _ Args) (any, error) {
				return e.ListSubordinates(ctx, caller)
			},
		},
		{
			Name:        "kick_agent",
			Description: "Launch the assignee of a task.",
			Params:      []Param{req("task_id", "Task id")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.KickAgent(ctx, caller, domain.TaskID(taskID))
			},
		},
		{
			Name:        "report_completed",
			Description: "Mark your own task done.",
			Params:      []Param{req("task_id", "Task id"), str("summary", "What was done")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.ReportCompleted(ctx, caller, domain.TaskID(taskID), a.String("summary"))
			},
		},
		{
			Name:        "report_blocked",
			Description: "Mark your own task blocked.",
			Params:      []Param{req("task_id", "Task id"), req("reason", "What blocks it")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.ReportBlocked(ctx, caller, domain.TaskID(taskID), a.String("reason"))
			},
		},
		{
			Name:        "logout",
			Description: "End the current session.",
			Handle: func(ctx context.Context, caller auth.Caller, _ Args) (any, error) {
				if err := e.Logout(ctx, caller); err != nil {
					return nil, err
				}
				return map[string]any{"ok": true}, nil
			},
		},
		{
			Name:        "get_my_profile",
			Description: "Show the caller's agent, session, load and pending handoffs.",
			Handle: func(ctx context.Context, caller auth.Caller, _ Args) (any, error) {
				return e.GetProfile(ctx, caller)
			},
		},
		{
			Name:        "get_my_tasks",
			Description: "List tasks assigned to the caller.",
			Params:      []Param{{Name: "status", Description: "Status filter", Enum: taskStatuses}},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				return e.MyTasks(ctx, caller, domain.TaskStatus(a.String("status")))
			},
		},
		{
			Name:        "update_task_status",
			Description: "Move a task to another status.",
			Params: []Param{
				req("task_id", "Task id"),
				{Name: "status", Required: true, Description: "New status", Enum: taskStatuses},
				str("reason", "Why"),
			},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				status, err := a.RequireString("status")
				if err != nil {
					return nil, err
				}
				return e.UpdateTaskStatus(ctx, caller, domain.TaskID(taskID), domain.TaskStatus(status), a.String("reason"))
			},
		},
		{
			Name:        "get_task_history",
			Description: "List a task's events in order.",
			Params:      []Param{req("task_id", "Task id")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.TaskHistory(ctx, caller, domain.TaskID(taskID))
			},
		},
		{
			Name:        "create_handoff",
			Description: "Hand a task over, optionally to a specific agent.",
			Params:      []Param{req("task_id", "Task id"), req("summary", "State of the work"), str("to_agent_id", "Target agent"), str("context", "Extra context")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.CreateHandoff(ctx, caller, engine.HandoffCreateOptions{
					TaskID:    domain.TaskID(taskID),
					ToAgentID: agentIDPtr(a.OptionalString("to_agent_id")),
					Summary:   a.String("summary"),
					Context:   a.String("context"),
				})
			},
		},
		{
			Name:        "accept_handoff",
			Description: "Accept a pending handoff; the task is reassigned to you.",
			Params:      []Param{req("handoff_id", "Handoff id")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				id, err := a.RequireString("handoff_id")
				if err != nil {
					return nil, err
				}
				h, t, err := e.AcceptHandoff(ctx, caller, domain.HandoffID(id))
				if err != nil {
					return nil, err
				}
				return map[string]any{"handoff": h, "task": t}, nil
			},
		},
		{
			Name:        "save_context",
			Description: "Save a working-memory snapshot for a task.",
			Params: []Param{
				req("task_id", "Task id"), str("progress", "Progress so far"), str("findings", "Findings"),
				str("blockers", "Blockers"), str("next_steps", "Next steps"),
			},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.SaveContext(ctx, caller, engine.ContextSaveOptions{
					TaskID:    domain.TaskID(taskID),
					Progress:  a.String("progress"),
					Findings:  a.String("findings"),
					Blockers:  a.String("blockers"),
					NextSteps: a.String("next_steps"),
				})
			},
		},
		{
			Name:        "get_context",
			Description: "Fetch the latest snapshot for a task.",
			Params:      []Param{req("task_id", "Task id")},
			Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
				taskID, err := a.RequireString("task_id")
				if err != nil {
					return nil, err
				}
				return e.GetContext(ctx, caller, domain.TaskID(taskID))
			},
		},
	}
}

type lifecycleFunc func(context.Context, auth.Caller, domain.ProjectID) (domain.Project, error)

func projectLifecycle(name, desc string, fn lifecycleFunc) Tool {
	return Tool{
		Name:        name,
		Description: desc,
		Params:      []Param{req("project_id", "Project id")},
		Handle: func(ctx context.Context, caller auth.Caller, a Args) (any, error) {
			id, err := a.RequireString("project_id")
			if err != nil {
				return nil, err
			}
			return fn(ctx, caller, domain.ProjectID(id))
		},
	}
}
