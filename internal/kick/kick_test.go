package kick

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentline/internal/domain"
)

func fixtures(t *testing.T) (domain.Agent, domain.Task, domain.Project) {
	t.Helper()
	agent := domain.Agent{ID: "agt_1", Name: "worker", KickMethod: domain.KickMethodScript, KickCommand: "true"}
	task := domain.Task{ID: "tsk_1", Title: "build"}
	project := domain.Project{ID: "prj_1", WorkingDir: t.TempDir()}
	return agent, task, project
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var kerr *Error
	require.True(t, errors.As(err, &kerr), "expected *kick.Error, got %v", err)
	require.Equal(t, kind, kerr.Kind)
	return kerr
}

func TestKickScriptStartsProcess(t *testing.T) {
	agent, task, project := fixtures(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k := CommandKicker{Now: func() time.Time { return now }}

	res, err := k.Kick(context.Background(), agent, task, project)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, agent.ID, res.AgentID)
	require.Equal(t, "worker", res.AgentName)
	require.NotNil(t, res.ProcessID)
	require.Equal(t, now, res.Timestamp)
}

func TestKickWorkingDirectoryErrors(t *testing.T) {
	agent, task, project := fixtures(t)
	k := CommandKicker{}

	project.WorkingDir = ""
	_, err := k.Kick(context.Background(), agent, task, project)
	requireKind(t, err, NoWorkingDirectory)

	project.WorkingDir = filepath.Join(t.TempDir(), "missing")
	_, err = k.Kick(context.Background(), agent, task, project)
	kerr := requireKind(t, err, WorkingDirectoryNotFound)
	require.Contains(t, kerr.Error(), project.WorkingDir)
}

func TestKickMethodErrors(t *testing.T) {
	agent, task, project := fixtures(t)
	k := CommandKicker{}

	agent.KickCommand = ""
	_, err := k.Kick(context.Background(), agent, task, project)
	requireKind(t, err, NoKickCommand)

	agent.KickMethod = domain.KickMethodNone
	_, err = k.Kick(context.Background(), agent, task, project)
	kerr := requireKind(t, err, UnsupportedMethod)
	require.Equal(t, "none", kerr.Method)
	require.Equal(t, "unsupported_method", kerr.KindLabel())
}

func TestKickCLINotFound(t *testing.T) {
	agent, task, project := fixtures(t)
	agent.KickMethod = domain.KickMethodCLI
	k := CommandKicker{
		CLIPath:  "agent-cli",
		lookPath: func(string) (string, error) { return "", errors.New("not found") },
	}
	_, err := k.Kick(context.Background(), agent, task, project)
	kerr := requireKind(t, err, CLINotFound)
	require.Equal(t, "agent-cli", kerr.Path)
	require.Equal(t, "agent CLI not found: agent-cli", kerr.Error())
}

func TestErrorMessagesCarryContext(t *testing.T) {
	require.Equal(t, "task tsk_9 is not assigned to any agent", (&Error{Kind: TaskNotAssigned, TaskID: "tsk_9"}).Error())
	require.Equal(t, "kick of agent agt_1 failed: boom", (&Error{Kind: ExecutionFailed, AgentID: "agt_1", Reason: "boom"}).Error())
	require.Equal(t, "agent not found: agt_2", (&Error{Kind: AgentNotFound, AgentID: "agt_2"}).Error())
}
