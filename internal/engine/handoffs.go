package engine

import (
	"context"
	"errors"
	"fmt"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/repo"
)

// HandoffCreateOptions describe a transfer of a task. A nil ToAgentID lets
// any agent in the project accept it.
type HandoffCreateOptions struct {
	TaskID    domain.TaskID
	ToAgentID *domain.AgentID
	Summary   string
	Context   string
}

func (e Engine) CreateHandoff(ctx context.Context, caller auth.Caller, opts HandoffCreateOptions) (domain.Handoff, error) {
	from, _, err := identity(caller, "create_handoff")
	if err != nil {
		return domain.Handoff{}, err
	}
	if err := required("summary", opts.Summary); err != nil {
		return domain.Handoff{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Handoff{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	t, err := r.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Handoff{}, err
	}
	if err := canWorkOn(ctx, r, caller, "create_handoff", t); err != nil {
		return domain.Handoff{}, err
	}
	if t.Status.Terminal() {
		return domain.Handoff{}, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, t.ID, t.Status)
	}
	if opts.ToAgentID != nil {
		if *opts.ToAgentID == from {
			return domain.Handoff{}, InputError{Field: "to_agent_id", Message: "cannot hand off to yourself"}
		}
		if _, err := r.GetAgent(ctx, *opts.ToAgentID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Handoff{}, InputError{Field: "to_agent_id", Message: fmt.Sprintf("agent %s not found", *opts.ToAgentID)}
			}
			return domain.Handoff{}, err
		}
	}
	h := domain.Handoff{
		ID:          domain.NewHandoffID(),
		ProjectID:   t.ProjectID,
		TaskID:      t.ID,
		FromAgentID: from,
		ToAgentID:   opts.ToAgentID,
		Summary:     opts.Summary,
		Context:     opts.Context,
		Status:      domain.HandoffPending,
		CreatedAt:   e.now(),
	}
	if err := r.InsertHandoff(ctx, h); err != nil {
		return domain.Handoff{}, fmt.Errorf("insert handoff: %w", err)
	}
	if _, err := e.recorder().RecordHandoffCreated(ctx, tx, h, actorOf(caller)); err != nil {
		return domain.Handoff{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Handoff{}, err
	}
	return h, nil
}

// AcceptHandoff reassigns the task to the caller. Targeted handoffs can only
// be accepted by their target.
func (e Engine) AcceptHandoff(ctx context.Context, caller auth.Caller, id domain.HandoffID) (domain.Handoff, domain.Task, error) {
	me, _, err := identity(caller, "accept_handoff")
	if err != nil {
		return domain.Handoff{}, domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Handoff{}, domain.Task{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	h, err := r.GetHandoff(ctx, id)
	if err != nil {
		return h, domain.Task{}, err
	}
	if err := requireSameProject(caller, h.ProjectID); err != nil {
		return h, domain.Task{}, err
	}
	if h.Status != domain.HandoffPending {
		return h, domain.Task{}, fmt.Errorf("%w: %s is %s", ErrHandoffNotPending, h.ID, h.Status)
	}
	if h.ToAgentID != nil && *h.ToAgentID != me {
		return h, domain.Task{}, InputError{Field: "handoff_id", Message: fmt.Sprintf("handoff %s is addressed to %s", h.ID, *h.ToAgentID)}
	}
	if h.FromAgentID == me {
		return h, domain.Task{}, InputError{Field: "handoff_id", Message: "cannot accept your own handoff"}
	}
	t, err := r.GetTask(ctx, h.TaskID)
	if err != nil {
		return h, t, err
	}
	if t.Status.Terminal() {
		return h, t, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, t.ID, t.Status)
	}
	agent, err := r.GetAgent(ctx, me)
	if err != nil {
		return h, t, err
	}
	open, err := r.CountOpenTasks(ctx, me)
	if err != nil {
		return h, t, err
	}
	if open >= agent.MaxParallelTasks {
		return h, t, fmt.Errorf("%w: %s has %d open tasks", ErrCapacityReached, me, open)
	}

	now := e.now()
	prev := t.AssigneeID
	t.AssigneeID = &agent.ID
	t.UpdatedAt = now
	if err := r.UpdateTaskAssignee(ctx, t.ID, t.AssigneeID, now); err != nil {
		return h, t, err
	}
	actor := actorOf(caller)
	if _, err := e.recorder().RecordAssignmentChange(ctx, tx, t, prev, t.AssigneeID, actor, "handoff "+string(h.ID)); err != nil {
		return h, t, err
	}
	h.Status = domain.HandoffAccepted
	h.AcceptedAt = &now
	if h.ToAgentID == nil {
		h.ToAgentID = &agent.ID
	}
	if err := r.SaveHandoffAcceptance(ctx, h); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return h, t, fmt.Errorf("%w: %s", ErrHandoffNotPending, h.ID)
		}
		return h, t, err
	}
	if _, err := e.recorder().RecordHandoffAccepted(ctx, tx, h, actor); err != nil {
		return h, t, err
	}
	if err := tx.Commit(); err != nil {
		return h, t, err
	}
	return h, t, nil
}
