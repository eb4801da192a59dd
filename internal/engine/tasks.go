package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task. ProjectID defaults to
// the caller's session project.
type TaskCreateOptions struct {
	ProjectID    domain.ProjectID
	ParentTaskID *domain.TaskID
	Title        string
	Description  string
	Status       domain.TaskStatus
	AssigneeID   *domain.AgentID
}

func sessionProject(caller auth.Caller, explicit domain.ProjectID) (domain.ProjectID, error) {
	_, s, ok := auth.AgentIdentity(caller)
	switch {
	case !ok && explicit == "":
		return "", InputError{Field: "project_id", Message: "is required"}
	case !ok:
		return explicit, nil
	case explicit != "" && explicit != s.ProjectID:
		return "", fmt.Errorf("%w: %s", ErrWrongProject, explicit)
	default:
		return s.ProjectID, nil
	}
}

func (e Engine) CreateTask(ctx context.Context, caller auth.Caller, opts TaskCreateOptions) (domain.Task, error) {
	if err := required("title", opts.Title); err != nil {
		return domain.Task{}, err
	}
	if opts.Status == "" {
		opts.Status = domain.TaskTodo
	}
	if !opts.Status.Valid() || opts.Status.Terminal() {
		return domain.Task{}, InputError{Field: "status", Message: fmt.Sprintf("cannot create a task in status %q", opts.Status)}
	}
	projectID, err := sessionProject(caller, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	if _, err := r.GetProject(ctx, projectID); err != nil {
		return domain.Task{}, err
	}
	if opts.ParentTaskID != nil {
		parent, err := r.GetTask(ctx, *opts.ParentTaskID)
		if err != nil {
			return domain.Task{}, err
		}
		if parent.ProjectID != projectID {
			return domain.Task{}, InputError{Field: "parent_task_id", Message: "parent in different project"}
		}
	}
	now := e.now()
	t := domain.Task{
		ID:           domain.NewTaskID(),
		ProjectID:    projectID,
		ParentTaskID: opts.ParentTaskID,
		Title:        opts.Title,
		Description:  opts.Description,
		Status:       opts.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.InsertTask(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	actor := actorOf(caller)
	if _, err := e.recorder().RecordCreation(ctx, tx, t.ProjectID, domain.EntityTask, string(t.ID), string(t.Status), actor, map[string]string{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if opts.AssigneeID != nil {
		if t, err = e.assign(ctx, tx, caller, "create_task", t, *opts.AssigneeID, ""); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// assign moves t to assignee inside tx after the subordinate and capacity checks.
func (e Engine) assign(ctx context.Context, tx *sql.Tx, caller auth.Caller, tool string, t domain.Task, assignee domain.AgentID, reason string) (domain.Task, error) {
	r := e.Repo.WithTx(tx)
	if t.Status.Terminal() {
		return t, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, t.ID, t.Status)
	}
	target, err := r.GetAgent(ctx, assignee)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return t, InputError{Field: "assignee_id", Message: fmt.Sprintf("agent %s not found", assignee)}
		}
		return t, err
	}
	if target.Status != domain.AgentActive {
		return t, fmt.Errorf("%w: %s", ErrAgentInactive, target.ID)
	}
	if err := requireSubordinate(ctx, r, caller, tool, target.ID); err != nil {
		return t, err
	}
	if t.AssigneeID != nil && *t.AssigneeID == target.ID {
		return t, nil
	}
	open, err := r.CountOpenTasks(ctx, target.ID)
	if err != nil {
		return t, err
	}
	if open >= target.MaxParallelTasks {
		return t, fmt.Errorf("%w: %s has %d open tasks", ErrCapacityReached, target.ID, open)
	}
	prev := t.AssigneeID
	t.AssigneeID = &target.ID
	t.UpdatedAt = e.now()
	if err := r.UpdateTaskAssignee(ctx, t.ID, t.AssigneeID, t.UpdatedAt); err != nil {
		return t, err
	}
	if _, err := e.recorder().RecordAssignmentChange(ctx, tx, t, prev, t.AssigneeID, actorOf(caller), reason); err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) AssignTask(ctx context.Context, caller auth.Caller, taskID domain.TaskID, assignee domain.AgentID, reason string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.WithTx(tx).GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := requireSameProject(caller, t.ProjectID); err != nil {
		return t, err
	}
	if t, err = e.assign(ctx, tx, caller, "assign_task", t, assignee, reason); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

func (e Engine) UnassignTask(ctx context.Context, caller auth.Caller, taskID domain.TaskID, reason string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	t, err := r.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := requireSameProject(caller, t.ProjectID); err != nil {
		return t, err
	}
	if t.AssigneeID == nil {
		return t, nil
	}
	if err := requireSubordinate(ctx, r, caller, "unassign_task", *t.AssigneeID); err != nil {
		return t, err
	}
	prev := t.AssigneeID
	t.AssigneeID = nil
	t.UpdatedAt = e.now()
	if err := r.UpdateTaskAssignee(ctx, t.ID, nil, t.UpdatedAt); err != nil {
		return t, err
	}
	if _, err := e.recorder().RecordAssignmentChange(ctx, tx, t, prev, nil, actorOf(caller), reason); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// canWorkOn reports whether an agent caller may act on t: it is the assignee,
// or it manages the assignee, or t is unassigned and the caller is a manager.
func canWorkOn(ctx context.Context, r repo.Repo, caller auth.Caller, tool string, t domain.Task) error {
	id, _, err := identity(caller, tool)
	if err != nil {
		return err
	}
	if err := requireSameProject(caller, t.ProjectID); err != nil {
		return err
	}
	if t.AssigneeID != nil && *t.AssigneeID == id {
		return nil
	}
	if _, ok := caller.(auth.Manager); !ok {
		return fmt.Errorf("%w: %s", ErrNotAssignee, t.ID)
	}
	if t.AssigneeID == nil {
		return nil
	}
	return requireSubordinate(ctx, r, caller, tool, *t.AssigneeID)
}

// TaskStatusOptions describe a status transition.
type TaskStatusOptions struct {
	TaskID domain.TaskID
	Status domain.TaskStatus
	Reason string
	// EventType overrides status_changed, e.g. completed for report_completed.
	EventType domain.EventType
	// AssigneeOnly restricts the transition to the task's assignee.
	AssigneeOnly bool
	Tool         string
}

func (e Engine) transition(ctx context.Context, caller auth.Caller, opts TaskStatusOptions) (domain.Task, error) {
	if !opts.Status.Valid() {
		return domain.Task{}, InputError{Field: "status", Message: fmt.Sprintf("unknown task status %q", opts.Status)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	t, err := r.GetTask(ctx, opts.TaskID)
	if err != nil {
		return t, err
	}
	if opts.AssigneeOnly {
		id, _, err := identity(caller, opts.Tool)
		if err != nil {
			return t, err
		}
		if err := requireSameProject(caller, t.ProjectID); err != nil {
			return t, err
		}
		if t.AssigneeID == nil || *t.AssigneeID != id {
			return t, fmt.Errorf("%w: %s", ErrNotAssignee, t.ID)
		}
	} else if err := canWorkOn(ctx, r, caller, opts.Tool, t); err != nil {
		return t, err
	}
	if t.Status.Terminal() {
		return t, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, t.ID, t.Status)
	}
	if t.Status == opts.Status {
		return t, nil
	}
	prev := t.Status
	t.Status = opts.Status
	t.UpdatedAt = e.now()
	if err := r.UpdateTaskStatus(ctx, t.ID, t.Status, t.UpdatedAt); err != nil {
		return t, err
	}
	eventType := opts.EventType
	if eventType == "" {
		eventType = domain.EventStatusChanged
	}
	actor := actorOf(caller)
	from, to := string(prev), string(t.Status)
	ev := domain.StateChangeEvent{
		ProjectID:     t.ProjectID,
		EntityType:    domain.EntityTask,
		EntityID:      string(t.ID),
		EventType:     eventType,
		AgentID:       actor.AgentID,
		SessionID:     actor.SessionID,
		PreviousState: &from,
		NewState:      &to,
	}
	if opts.Reason != "" {
		ev.Reason = &opts.Reason
	}
	if _, err := e.recorder().RecordEvent(ctx, tx, ev); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// UpdateTaskStatus moves a task to any status unless it is terminal.
func (e Engine) UpdateTaskStatus(ctx context.Context, caller auth.Caller, taskID domain.TaskID, status domain.TaskStatus, reason string) (domain.Task, error) {
	return e.transition(ctx, caller, TaskStatusOptions{TaskID: taskID, Status: status, Reason: reason, Tool: "update_task_status"})
}

// ReportCompleted marks the caller's own task done.
func (e Engine) ReportCompleted(ctx context.Context, caller auth.Caller, taskID domain.TaskID, summary string) (domain.Task, error) {
	return e.transition(ctx, caller, TaskStatusOptions{
		TaskID: taskID, Status: domain.TaskDone, Reason: summary,
		EventType: domain.EventCompleted, AssigneeOnly: true, Tool: "report_completed",
	})
}

// ReportBlocked marks the caller's own task blocked with a reason.
func (e Engine) ReportBlocked(ctx context.Context, caller auth.Caller, taskID domain.TaskID, reason string) (domain.Task, error) {
	if err := required("reason", reason); err != nil {
		return domain.Task{}, err
	}
	return e.transition(ctx, caller, TaskStatusOptions{
		TaskID: taskID, Status: domain.TaskBlocked, Reason: reason,
		AssigneeOnly: true, Tool: "report_blocked",
	})
}

// MyTasks lists the caller's tasks in its session project.
func (e Engine) MyTasks(ctx context.Context, caller auth.Caller, status domain.TaskStatus) ([]domain.Task, error) {
	id, s, err := identity(caller, "get_my_tasks")
	if err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, InputError{Field: "status", Message: fmt.Sprintf("unknown task status %q", status)}
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilter{ProjectID: s.ProjectID, AssigneeID: id, Status: status})
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilter) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

// TaskHistory returns a task's events in append order.
func (e Engine) TaskHistory(ctx context.Context, caller auth.Caller, taskID domain.TaskID) ([]domain.StateChangeEvent, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := requireSameProject(caller, t.ProjectID); err != nil {
		return nil, err
	}
	return e.Events().ListByEntity(ctx, domain.EntityTask, string(t.ID))
}
