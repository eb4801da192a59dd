package engine

import (
	"context"
	"errors"
	"fmt"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/kick"
	"agentline/internal/observability"
	"agentline/internal/repo"
)

// KickAgent launches the assignee of a task. The caller must manage the
// assignee and the project must be active. A started event is recorded on the
// task once the process is running.
func (e Engine) KickAgent(ctx context.Context, caller auth.Caller, taskID domain.TaskID) (kick.Result, error) {
	res, err := e.kickAgent(ctx, caller, taskID)
	e.Metrics.ObserveKick(err)
	return res, err
}

func (e Engine) kickAgent(ctx context.Context, caller auth.Caller, taskID domain.TaskID) (kick.Result, error) {
	if e.Kicker == nil {
		return kick.Result{}, errors.New("no kicker configured")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return kick.Result{}, err
	}
	if err := requireSameProject(caller, t.ProjectID); err != nil {
		return kick.Result{}, err
	}
	if t.AssigneeID == nil {
		return kick.Result{}, &kick.Error{Kind: kick.TaskNotAssigned, TaskID: t.ID, ProjectID: t.ProjectID}
	}
	agent, err := e.Repo.GetAgent(ctx, *t.AssigneeID)
	if errors.Is(err, repo.ErrNotFound) {
		return kick.Result{}, &kick.Error{Kind: kick.AgentNotFound, AgentID: *t.AssigneeID, TaskID: t.ID}
	}
	if err != nil {
		return kick.Result{}, err
	}
	project, err := e.Repo.GetProject(ctx, t.ProjectID)
	if errors.Is(err, repo.ErrNotFound) {
		return kick.Result{}, &kick.Error{Kind: kick.ProjectNotFound, ProjectID: t.ProjectID, TaskID: t.ID}
	}
	if err != nil {
		return kick.Result{}, err
	}
	if err := requireSubordinate(ctx, e.Repo, caller, "kick_agent", agent.ID); err != nil {
		return kick.Result{}, err
	}
	if project.Status != domain.ProjectActive {
		return kick.Result{}, fmt.Errorf("%w: %s is %s", ErrProjectNotActive, project.ID, project.Status)
	}

	res, err := e.Kicker.Kick(ctx, agent, t, project)
	if err != nil {
		return res, err
	}

	if err := e.recordKick(ctx, caller, t, agent, res); err != nil {
		pid := "unknown"
		if res.ProcessID != nil {
			pid = itoa(*res.ProcessID)
		}
		observability.LoggerFromContext(ctx).Error("kick: agent started but event not recorded",
			"agent_id", agent.ID, "task_id", t.ID, "process_id", pid, "error", err)
		return res, fmt.Errorf("agent %s started as pid %s but the kick was not recorded: %w", agent.ID, pid, err)
	}
	return res, nil
}

func (e Engine) recordKick(ctx context.Context, caller auth.Caller, t domain.Task, agent domain.Agent, res kick.Result) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	meta := map[string]string{
		"kicked_agent_id": string(agent.ID),
		"method":          string(agent.KickMethod),
	}
	if res.ProcessID != nil {
		meta["process_id"] = itoa(*res.ProcessID)
	}
	actor := actorOf(caller)
	if _, err := e.recorder().RecordEvent(ctx, tx, domain.StateChangeEvent{
		ProjectID:  t.ProjectID,
		EntityType: domain.EntityTask,
		EntityID:   string(t.ID),
		EventType:  domain.EventStarted,
		AgentID:    actor.AgentID,
		SessionID:  actor.SessionID,
		Metadata:   meta,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
