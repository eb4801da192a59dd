package events_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/events"
	"agentline/internal/migrate"
	"agentline/internal/repo"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	DB      *sql.DB
	Ctx     context.Context
	Rec     events.Recorder
	Project domain.Project
	Agent   domain.Agent
	Task    domain.Task
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	r := repo.Repo{DB: conn}
	f := fixture{DB: conn, Ctx: ctx, Rec: events.Recorder{Writer: events.Writer{Now: func() time.Time { return fixedNow }}}}
	f.Project = domain.Project{ID: domain.NewProjectID(), Name: "alpha", Status: domain.ProjectActive, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	require.NoError(t, r.InsertProject(ctx, f.Project))
	f.Agent = domain.Agent{
		ID: domain.NewAgentID(), Name: "coder", Type: domain.AgentTypeAI, HierarchyType: domain.HierarchyWorker,
		MaxParallelTasks: 1, Status: domain.AgentActive, KickMethod: domain.KickMethodNone, CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	require.NoError(t, r.InsertAgent(ctx, f.Agent))
	f.Task = domain.Task{ID: domain.NewTaskID(), ProjectID: f.Project.ID, Title: "write", Status: domain.TaskTodo, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	require.NoError(t, r.InsertTask(ctx, f.Task))
	return f
}

func (f fixture) inTx(t *testing.T, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := f.DB.BeginTx(f.Ctx, nil)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestAppendRequiresTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.Rec.RecordEvent(f.Ctx, nil, domain.StateChangeEvent{
		ProjectID: f.Project.ID, EntityType: domain.EntityTask, EntityID: string(f.Task.ID), EventType: domain.EventUpdated,
	})
	require.Error(t, err)
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t)
	cases := map[string]domain.StateChangeEvent{
		"missing project": {EntityType: domain.EntityTask, EntityID: string(f.Task.ID), EventType: domain.EventUpdated},
		"bad entity type": {ProjectID: f.Project.ID, EntityType: "iteration", EntityID: "x", EventType: domain.EventUpdated},
		"bad event type":  {ProjectID: f.Project.ID, EntityType: domain.EntityTask, EntityID: string(f.Task.ID), EventType: "renamed"},
		"missing entity":  {ProjectID: f.Project.ID, EntityType: domain.EntityTask, EventType: domain.EventUpdated},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			err := f.inTx(t, func(tx *sql.Tx) error {
				_, err := f.Rec.RecordEvent(f.Ctx, tx, e)
				return err
			})
			require.Error(t, err)
		})
	}
}

func TestAppendRejectsUnknownEntity(t *testing.T) {
	f := newFixture(t)
	err := f.inTx(t, func(tx *sql.Tx) error {
		_, err := f.Rec.RecordStatusChange(f.Ctx, tx, f.Project.ID, domain.EntityTask, "tsk_missing", "todo", "done", events.Actor{}, "")
		return err
	})
	require.True(t, errors.Is(err, events.ErrUnknownEntity))
}

func TestAgentEventsNeedNoProject(t *testing.T) {
	f := newFixture(t)
	var got domain.StateChangeEvent
	err := f.inTx(t, func(tx *sql.Tx) error {
		var err error
		got, err = f.Rec.RecordCreation(f.Ctx, tx, "", domain.EntityAgent, string(f.Agent.ID), string(domain.AgentActive), events.Actor{}, nil)
		return err
	})
	require.NoError(t, err)
	require.Empty(t, got.ProjectID)

	list, err := events.Reader{Q: f.DB}.ListByEntity(f.Ctx, domain.EntityAgent, string(f.Agent.ID))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.EventCreated, list[0].EventType)
	require.Equal(t, fixedNow, list[0].CreatedAt)
}

func TestRollbackDiscardsEvent(t *testing.T) {
	f := newFixture(t)
	tx, err := f.DB.BeginTx(f.Ctx, nil)
	require.NoError(t, err)
	_, err = f.Rec.RecordStatusChange(f.Ctx, tx, f.Project.ID, domain.EntityTask, string(f.Task.ID), "todo", "in_progress", events.Actor{}, "")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	n, err := events.Reader{Q: f.DB}.CountByEntity(f.Ctx, domain.EntityTask, string(f.Task.ID))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProjectPagingAndReplay(t *testing.T) {
	f := newFixture(t)
	actor := events.AgentActor(f.Agent.ID, "")
	steps := [][2]string{{"todo", "in_progress"}, {"in_progress", "blocked"}, {"blocked", "in_progress"}, {"in_progress", "done"}}
	for _, s := range steps {
		err := f.inTx(t, func(tx *sql.Tx) error {
			_, err := f.Rec.RecordStatusChange(f.Ctx, tx, f.Project.ID, domain.EntityTask, string(f.Task.ID), s[0], s[1], actor, "")
			return err
		})
		require.NoError(t, err)
	}
	reader := events.Reader{Q: f.DB}

	first, err := reader.ListByProject(f.Ctx, f.Project.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := reader.ListByProject(f.Ctx, f.Project.ID, first[1].Seq, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Greater(t, rest[0].Seq, first[1].Seq)

	latest, err := reader.LatestSeq(f.Ctx, f.Project.ID)
	require.NoError(t, err)
	require.Equal(t, rest[1].Seq, latest)
	none, err := reader.LatestSeq(f.Ctx, "prj_other")
	require.NoError(t, err)
	require.Zero(t, none)

	history, err := reader.ListByEntity(f.Ctx, domain.EntityTask, string(f.Task.ID))
	require.NoError(t, err)
	status, ok := events.ReplayTaskStatus(history)
	require.True(t, ok)
	require.Equal(t, domain.TaskDone, status)
	require.Equal(t, f.Agent.ID, *history[0].AgentID)
}
