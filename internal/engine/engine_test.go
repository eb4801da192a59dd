package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/events"
	"agentline/internal/hierarchy"
	"agentline/internal/kick"
	"agentline/internal/migrate"
)

const passkey = "correct horse"

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
	Owner   domain.Agent
	Manager domain.Agent
	Worker  domain.Agent
	// Callers resolved from real sessions.
	AsManager auth.Caller
	AsWorker  auth.Caller
}

var coordinator = auth.Coordinator{}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	eng := engine.New(conn, config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	env := testEnv{Engine: eng, Ctx: ctx}
	env.Project, err = eng.CreateProject(ctx, coordinator, engine.ProjectCreateOptions{Name: "alpha"})
	require.NoError(t, err)
	env.Owner = env.createAgent(t, "owner", domain.AgentTypeHuman, domain.HierarchyOwner, nil)
	env.Manager = env.createAgent(t, "lead", domain.AgentTypeAI, domain.HierarchyManager, &env.Owner.ID)
	env.Worker = env.createAgent(t, "coder", domain.AgentTypeAI, domain.HierarchyWorker, &env.Manager.ID)
	env.AsManager = env.login(t, env.Manager)
	env.AsWorker = env.login(t, env.Worker)
	return env
}

func (env testEnv) createAgent(t *testing.T, name string, typ domain.AgentType, h domain.HierarchyType, parent *domain.AgentID) domain.Agent {
	t.Helper()
	a, err := env.Engine.CreateAgent(env.Ctx, coordinator, engine.AgentCreateOptions{
		Name: name, Type: typ, HierarchyType: h, ParentAgentID: parent, Passkey: passkey,
		KickMethod: domain.KickMethodScript, KickCommand: "true",
	})
	require.NoError(t, err)
	return a
}

func (env testEnv) login(t *testing.T, a domain.Agent) auth.Caller {
	t.Helper()
	s, agent, err := env.Engine.Authenticate(env.Ctx, engine.AuthenticateOptions{AgentID: a.ID, Passkey: passkey, ProjectID: env.Project.ID})
	require.NoError(t, err)
	return auth.CallerForAgent(agent, s)
}

func (env testEnv) assignedTask(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, env.AsManager, engine.TaskCreateOptions{Title: title, AssigneeID: &env.Worker.ID})
	require.NoError(t, err)
	return task
}

func TestCallerClassificationFromSessions(t *testing.T) {
	env := newTestEnv(t)
	require.IsType(t, auth.Manager{}, env.AsManager)
	require.IsType(t, auth.Worker{}, env.AsWorker)
}

func TestStatusChangesAreRecordedInOrder(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t, "sequence")

	path := []domain.TaskStatus{
		domain.TaskInProgress, domain.TaskBlocked, domain.TaskInProgress, domain.TaskTodo, domain.TaskBacklog,
		domain.TaskTodo, domain.TaskInProgress, domain.TaskBlocked, domain.TaskInProgress, domain.TaskDone,
	}
	for _, status := range path {
		var err error
		task, err = env.Engine.UpdateTaskStatus(env.Ctx, env.AsWorker, task.ID, status, "")
		require.NoError(t, err)
		require.Equal(t, status, task.Status)
	}

	history, err := env.Engine.TaskHistory(env.Ctx, env.AsWorker, task.ID)
	require.NoError(t, err)
	var changes []domain.StateChangeEvent
	var lastSeq int64
	for _, e := range history {
		require.Greater(t, e.Seq, lastSeq)
		lastSeq = e.Seq
		if e.EventType == domain.EventStatusChanged {
			changes = append(changes, e)
		}
	}
	require.Len(t, changes, len(path))
	prev := domain.TaskTodo
	for i, e := range changes {
		require.Equal(t, string(prev), *e.PreviousState, "event %d", i)
		require.Equal(t, string(path[i]), *e.NewState, "event %d", i)
		prev = path[i]
	}

	replayed, ok := events.ReplayTaskStatus(history)
	require.True(t, ok)
	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, stored.Status, replayed)
}

func TestStatusChangeEventFields(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t, "fields")
	_, err := env.Engine.UpdateTaskStatus(env.Ctx, env.AsWorker, task.ID, domain.TaskInProgress, "picking up")
	require.NoError(t, err)

	history, err := env.Engine.TaskHistory(env.Ctx, env.AsWorker, task.ID)
	require.NoError(t, err)
	e := history[len(history)-1]
	_, session, _ := auth.AgentIdentity(env.AsWorker)
	require.Equal(t, env.Project.ID, e.ProjectID)
	require.Equal(t, domain.EntityTask, e.EntityType)
	require.Equal(t, string(task.ID), e.EntityID)
	require.Equal(t, domain.EventStatusChanged, e.EventType)
	require.Equal(t, "todo", *e.PreviousState)
	require.Equal(t, "in_progress", *e.NewState)
	require.Equal(t, "picking up", *e.Reason)
	require.Equal(t, env.Worker.ID, *e.AgentID)
	require.Equal(t, session.ID, *e.SessionID)
}

func TestFailedEventRollsBackMutation(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t, "rollback")
	before, err := env.Engine.Events().CountByEntity(env.Ctx, domain.EntityTask, string(task.ID))
	require.NoError(t, err)

	_, err = env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_status BEFORE INSERT ON events
WHEN NEW.event_type = 'status_changed' AND NEW.entity_type = 'task'
BEGIN SELECT RAISE(ABORT, 'event store unavailable'); END`)
	require.NoError(t, err)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, env.AsWorker, task.ID, domain.TaskInProgress, "")
	require.ErrorContains(t, err, "event store unavailable")

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskTodo, stored.Status)
	after, err := env.Engine.Events().CountByEntity(env.Ctx, domain.EntityTask, string(task.ID))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestTerminalStatusIsFinal(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t, "terminal")
	task, err := env.Engine.ReportCompleted(env.Ctx, env.AsWorker, task.ID, "shipped")
	require.NoError(t, err)
	require.Equal(t, domain.TaskDone, task.Status)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, env.AsWorker, task.ID, domain.TaskInProgress, "")
	require.ErrorIs(t, err, engine.ErrTerminalStatus)

	history, err := env.Engine.TaskHistory(env.Ctx, env.AsWorker, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EventCompleted, history[len(history)-1].EventType)
}

func TestReportRequiresOwnTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t, "mine")
	other := env.createAgent(t, "other", domain.AgentTypeAI, domain.HierarchyWorker, &env.Manager.ID)
	asOther := env.login(t, other)

	_, err := env.Engine.ReportCompleted(env.Ctx, asOther, task.ID, "")
	require.ErrorIs(t, err, engine.ErrNotAssignee)
	_, err = env.Engine.ReportBlocked(env.Ctx, asOther, task.ID, "stuck")
	require.ErrorIs(t, err, engine.ErrNotAssignee)

	task, err = env.Engine.ReportBlocked(env.Ctx, env.AsWorker, task.ID, "waiting on API keys")
	require.NoError(t, err)
	require.Equal(t, domain.TaskBlocked, task.Status)
}

func TestAssignRequiresSubordinate(t *testing.T) {
	env := newTestEnv(t)
	peer := env.createAgent(t, "peer-lead", domain.AgentTypeAI, domain.HierarchyManager, &env.Owner.ID)
	asPeer := env.login(t, peer)
	task, err := env.Engine.CreateTask(env.Ctx, asPeer, engine.TaskCreateOptions{Title: "x"})
	require.NoError(t, err)

	_, err = env.Engine.AssignTask(env.Ctx, asPeer, task.ID, env.Worker.ID, "")
	var denial auth.AuthorizationError
	require.ErrorAs(t, err, &denial)
	require.Equal(t, auth.NotSubordinate, denial.Kind)
	require.Equal(t, peer.ID, denial.ManagerID)
	require.Equal(t, env.Worker.ID, denial.TargetID)

	task, err = env.Engine.AssignTask(env.Ctx, env.AsManager, task.ID, env.Worker.ID, "")
	require.NoError(t, err)
	require.Equal(t, env.Worker.ID, *task.AssigneeID)

	task, err = env.Engine.UnassignTask(env.Ctx, env.AsManager, task.ID, "rebalancing")
	require.NoError(t, err)
	require.Nil(t, task.AssigneeID)
	history, err := env.Engine.TaskHistory(env.Ctx, env.AsManager, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EventUnassigned, history[len(history)-1].EventType)
}

func TestAssignRespectsCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.assignedTask(t, "first")
	_, err := env.Engine.CreateTask(env.Ctx, env.AsManager, engine.TaskCreateOptions{Title: "second", AssigneeID: &env.Worker.ID})
	require.ErrorIs(t, err, engine.ErrCapacityReached)

	tasks, err := env.Engine.MyTasks(env.Ctx, env.AsWorker, "")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestHandoffReassignsTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t, "handoff")
	next := env.createAgent(t, "next", domain.AgentTypeAI, domain.HierarchyWorker, &env.Manager.ID)
	asNext := env.login(t, next)

	h, err := env.Engine.CreateHandoff(env.Ctx, env.AsWorker, engine.HandoffCreateOptions{TaskID: task.ID, ToAgentID: &next.ID, Summary: "half done"})
	require.NoError(t, err)
	require.Equal(t, domain.HandoffPending, h.Status)

	_, _, err = env.Engine.AcceptHandoff(env.Ctx, env.AsManager, h.ID)
	var input engine.InputError
	require.ErrorAs(t, err, &input)

	h, task, err = env.Engine.AcceptHandoff(env.Ctx, asNext, h.ID)
	require.NoError(t, err)
	require.Equal(t, domain.HandoffAccepted, h.Status)
	require.Equal(t, next.ID, *task.AssigneeID)

	_, _, err = env.Engine.AcceptHandoff(env.Ctx, asNext, h.ID)
	require.ErrorIs(t, err, engine.ErrHandoffNotPending)

	hist, err := env.Engine.Events().ListByEntity(env.Ctx, domain.EntityHandoff, string(h.ID))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, domain.EventCreated, hist[0].EventType)
	require.Equal(t, domain.EventCompleted, hist[1].EventType)
}

func TestSaveAndGetContext(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t, "context")
	_, err := env.Engine.SaveContext(env.Ctx, env.AsWorker, engine.ContextSaveOptions{TaskID: task.ID, Progress: "step 1"})
	require.NoError(t, err)
	saved, err := env.Engine.SaveContext(env.Ctx, env.AsWorker, engine.ContextSaveOptions{TaskID: task.ID, Progress: "step 2", NextSteps: "step 3"})
	require.NoError(t, err)

	got, err := env.Engine.GetContext(env.Ctx, env.AsManager, task.ID)
	require.NoError(t, err)
	require.Equal(t, saved.ID, got.ID)
	require.Equal(t, "step 3", got.NextSteps)
}

func TestAuthenticateFailures(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.Authenticate(env.Ctx, engine.AuthenticateOptions{AgentID: env.Worker.ID, Passkey: "nope", ProjectID: env.Project.ID})
	require.ErrorIs(t, err, engine.ErrInvalidCredentials)
	_, _, err = env.Engine.Authenticate(env.Ctx, engine.AuthenticateOptions{AgentID: "agt_missing", Passkey: passkey, ProjectID: env.Project.ID})
	require.ErrorIs(t, err, engine.ErrInvalidCredentials)

	_, err = env.Engine.UpdateAgentStatus(env.Ctx, coordinator, env.Worker.ID, domain.AgentSuspended, "")
	require.NoError(t, err)
	_, _, err = env.Engine.Authenticate(env.Ctx, engine.AuthenticateOptions{AgentID: env.Worker.ID, Passkey: passkey, ProjectID: env.Project.ID})
	require.ErrorIs(t, err, engine.ErrAgentInactive)

	_, err = env.Engine.PauseProject(env.Ctx, coordinator, env.Project.ID)
	require.NoError(t, err)
	_, _, err = env.Engine.Authenticate(env.Ctx, engine.AuthenticateOptions{AgentID: env.Manager.ID, Passkey: passkey, ProjectID: env.Project.ID})
	require.ErrorIs(t, err, engine.ErrProjectNotActive)
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t)
	_, s, _ := auth.AgentIdentity(env.AsWorker)
	require.NoError(t, env.Engine.Logout(env.Ctx, env.AsWorker))

	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC) }
	_, err := env.Engine.Sessions().Resolve(env.Ctx, s.Token)
	require.Error(t, err)
}

func TestReparentRejectsCycle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ReparentAgent(env.Ctx, coordinator, env.Manager.ID, &env.Worker.ID)
	var cyc hierarchy.CyclicHierarchyError
	require.ErrorAs(t, err, &cyc)

	moved, err := env.Engine.ReparentAgent(env.Ctx, coordinator, env.Worker.ID, &env.Owner.ID)
	require.NoError(t, err)
	require.Equal(t, env.Owner.ID, *moved.ParentAgentID)

	tree, err := env.Engine.AgentTree(env.Ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 2)
}

func TestSubordinatesByManagerType(t *testing.T) {
	env := newTestEnv(t)
	subs, err := env.Engine.ListSubordinates(env.Ctx, env.AsManager)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, env.Worker.ID, subs[0].ID)

	managed, err := env.Engine.ManagedAgents(env.Ctx, coordinator, env.Owner.ID)
	require.NoError(t, err)
	require.Len(t, managed, 2)
}

type fakeKicker struct {
	calls []domain.AgentID
}

func (f *fakeKicker) Kick(_ context.Context, agent domain.Agent, _ domain.Task, _ domain.Project) (kick.Result, error) {
	f.calls = append(f.calls, agent.ID)
	pid := 4242
	return kick.Result{Success: true, AgentID: agent.ID, AgentName: agent.Name, ProcessID: &pid}, nil
}

func TestKickAgent(t *testing.T) {
	env := newTestEnv(t)
	fk := &fakeKicker{}
	env.Engine.Kicker = fk

	unassigned, err := env.Engine.CreateTask(env.Ctx, env.AsManager, engine.TaskCreateOptions{Title: "floating"})
	require.NoError(t, err)
	_, err = env.Engine.KickAgent(env.Ctx, env.AsManager, unassigned.ID)
	var kerr *kick.Error
	require.True(t, errors.As(err, &kerr))
	require.Equal(t, kick.TaskNotAssigned, kerr.Kind)

	task := env.assignedTask(t, "kick me")
	res, err := env.Engine.KickAgent(env.Ctx, env.AsManager, task.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []domain.AgentID{env.Worker.ID}, fk.calls)

	history, err := env.Engine.TaskHistory(env.Ctx, env.AsManager, task.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, domain.EventStarted, last.EventType)
	require.Equal(t, "4242", last.Metadata["process_id"])

	_, err = env.Engine.PauseProject(env.Ctx, coordinator, env.Project.ID)
	require.NoError(t, err)
	_, err = env.Engine.KickAgent(env.Ctx, env.AsManager, task.ID)
	require.ErrorIs(t, err, engine.ErrProjectNotActive)
	require.Len(t, fk.calls, 1)
}

func TestKickReportsProcessWhenEventFails(t *testing.T) {
	env := newTestEnv(t)
	fk := &fakeKicker{}
	env.Engine.Kicker = fk
	task := env.assignedTask(t, "orphan")

	_, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_started BEFORE INSERT ON events
WHEN NEW.event_type = 'started' AND NEW.entity_type = 'task'
BEGIN SELECT RAISE(ABORT, 'event store unavailable'); END`)
	require.NoError(t, err)

	res, err := env.Engine.KickAgent(env.Ctx, env.AsManager, task.ID)
	require.ErrorContains(t, err, "event store unavailable")
	require.ErrorContains(t, err, string(env.Worker.ID))
	require.ErrorContains(t, err, "pid 4242")
	require.NotNil(t, res.ProcessID)
	require.Equal(t, 4242, *res.ProcessID)
	require.Len(t, fk.calls, 1)
}
