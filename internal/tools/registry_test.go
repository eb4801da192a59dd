package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/kick"
	"agentline/internal/metrics"
	"agentline/internal/migrate"
	"agentline/internal/repo"
	"agentline/internal/session"
	"agentline/internal/tools"
)

func newRegistry(t *testing.T) (*tools.Registry, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	m := metrics.New()
	eng := engine.New(conn, config.Default(), m)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return tools.NewRegistry(eng, auth.NewAuthorizer(nil), m), ctx
}

func as(ctx context.Context, c auth.Caller) context.Context {
	return auth.WithCaller(ctx, c)
}

func TestRegistryMatchesPermissionTable(t *testing.T) {
	r, _ := newRegistry(t)
	require.Equal(t, auth.DefaultPermissions().Tools(), r.Names())
}

func TestCallIsGatedBeforeHandler(t *testing.T) {
	r, ctx := newRegistry(t)
	_, err := r.Call(ctx, "create_project", map[string]any{"name": "x"})
	var denial auth.AuthorizationError
	require.ErrorAs(t, err, &denial)
	require.Equal(t, auth.CoordinatorRequired, denial.Kind)

	projects, err := r.Call(as(ctx, auth.Coordinator{}), "list_projects", nil)
	require.NoError(t, err)
	require.Empty(t, projects)

	_, err = r.Call(ctx, "no_such_tool", nil)
	require.ErrorAs(t, err, &denial)
	require.Equal(t, auth.ToolNotRegistered, denial.Kind)
}

func TestListToolsForUnauthenticated(t *testing.T) {
	r, ctx := newRegistry(t)
	res, err := r.Call(ctx, "list_tools", nil)
	require.NoError(t, err)
	out := res.(map[string]any)
	require.Equal(t, "unauthenticated", out["caller"])
	names := []string{}
	for _, item := range out["tools"].([]map[string]string) {
		names = append(names, item["name"])
	}
	require.Equal(t, []string{"authenticate", "list_tools"}, names)
}

func TestAgentFlowThroughTools(t *testing.T) {
	r, ctx := newRegistry(t)
	coord := as(ctx, auth.Coordinator{})

	res, err := r.Call(coord, "create_project", map[string]any{"name": "alpha"})
	require.NoError(t, err)
	project := res.(domain.Project)

	res, err = r.Call(coord, "create_agent", map[string]any{"name": "lead", "hierarchy_type": "manager", "passkey": "pw"})
	require.NoError(t, err)
	lead := res.(domain.Agent)
	res, err = r.Call(coord, "create_agent", map[string]any{
		"name": "coder", "parent_agent_id": string(lead.ID), "passkey": "pw", "max_parallel_tasks": float64(2),
	})
	require.NoError(t, err)
	coder := res.(domain.Agent)
	require.Equal(t, 2, coder.MaxParallelTasks)

	login := func(a domain.Agent) context.Context {
		res, err := r.Call(ctx, "authenticate", map[string]any{"agent_id": string(a.ID), "passkey": "pw", "project_id": string(project.ID)})
		require.NoError(t, err)
		token := res.(map[string]any)["token"].(string)
		s, err := r.Engine.Sessions().Resolve(ctx, token)
		require.NoError(t, err)
		return as(ctx, auth.CallerForAgent(a, s))
	}
	asLead, asCoder := login(lead), login(coder)

	_, err = r.Call(asCoder, "create_task", map[string]any{"title": "nope"})
	var denial auth.AuthorizationError
	require.ErrorAs(t, err, &denial)
	require.Equal(t, auth.ManagerRequired, denial.Kind)

	res, err = r.Call(asLead, "create_task", map[string]any{"title": "build", "assignee_id": string(coder.ID)})
	require.NoError(t, err)
	task := res.(domain.Task)

	_, err = r.Call(asLead, "report_completed", map[string]any{"task_id": string(task.ID)})
	require.ErrorAs(t, err, &denial)
	require.Equal(t, auth.WorkerRequired, denial.Kind)

	res, err = r.Call(asCoder, "report_completed", map[string]any{"task_id": string(task.ID), "summary": "done"})
	require.NoError(t, err)
	require.Equal(t, domain.TaskDone, res.(domain.Task).Status)

	res, err = r.Call(asLead, "get_task_history", map[string]any{"task_id": string(task.ID)})
	require.NoError(t, err)
	history := res.([]domain.StateChangeEvent)
	require.Equal(t, []domain.EventType{domain.EventCreated, domain.EventAssigned, domain.EventCompleted},
		[]domain.EventType{history[0].EventType, history[1].EventType, history[2].EventType})

	_, err = r.Call(asCoder, "logout", nil)
	require.NoError(t, err)
}

func TestMissingArgumentIsBadRequest(t *testing.T) {
	r, ctx := newRegistry(t)
	_, err := r.Call(as(ctx, auth.Coordinator{}), "create_project", map[string]any{})
	require.Error(t, err)
	f := tools.Classify(err)
	require.Equal(t, http.StatusBadRequest, f.Status)
	require.Equal(t, "name", f.Details["field"])
}

func TestMCPHandlerRendersResults(t *testing.T) {
	r, ctx := newRegistry(t)
	s := r.MCPServer("test")
	require.NotNil(t, s)

	tool, ok := r.Lookup("list_tools")
	require.True(t, ok)
	res, err := tool.Handle(ctx, auth.Unauthenticated{}, nil)
	require.NoError(t, err)
	data, err := json.Marshal(res)
	require.NoError(t, err)
	require.Contains(t, string(data), `"authenticate"`)

	out := r.MCPCall(ctx, "create_agent", map[string]any{"name": "x"})
	require.True(t, out.IsError)
	text := out.Content[0].(mcp.TextContent).Text
	require.Contains(t, text, `"code":"forbidden"`)
	require.Contains(t, text, `"coordinator_required"`)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{auth.NotSubordinateError("agt_m", "agt_w"), http.StatusForbidden, "forbidden"},
		{auth.AuthorizationError{Kind: auth.AuthenticationRequired, Tool: "logout"}, http.StatusUnauthorized, "unauthorized"},
		{repo.ErrNotFound, http.StatusNotFound, "not_found"},
		{session.InvalidStatusError{ProjectID: "prj_1", Status: "archived", Operation: "pause"}, http.StatusConflict, "conflict"},
		{session.ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
		{&kick.Error{Kind: kick.CLINotFound, Path: "claude"}, http.StatusUnprocessableEntity, "kick_failed"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, c := range cases {
		f := tools.Classify(c.err)
		require.Equal(t, c.status, f.Status, c.err.Error())
		require.Equal(t, c.code, f.Code, c.err.Error())
	}
	f := tools.Classify(auth.NotSubordinateError("agt_m", "agt_w"))
	require.Equal(t, "agt_w", f.Details["target_id"])
}
