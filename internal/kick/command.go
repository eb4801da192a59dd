package kick

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"agentline/internal/domain"
	"agentline/internal/observability"
)

const DefaultCLI = "claude"

// CommandKicker starts the agent as a detached OS process in the project's
// working directory. It does not wait for the process to exit.
type CommandKicker struct {
	CLIPath string
	CLIArgs []string
	Now     func() time.Time

	lookPath func(string) (string, error)
}

func (k CommandKicker) now() time.Time {
	if k.Now != nil {
		return k.Now().UTC()
	}
	return time.Now().UTC()
}

func (k CommandKicker) look(file string) (string, error) {
	if k.lookPath != nil {
		return k.lookPath(file)
	}
	return exec.LookPath(file)
}

func (k CommandKicker) Kick(ctx context.Context, agent domain.Agent, task domain.Task, project domain.Project) (Result, error) {
	if project.WorkingDir == "" {
		return Result{}, &Error{Kind: NoWorkingDirectory, ProjectID: project.ID, AgentID: agent.ID}
	}
	if info, err := os.Stat(project.WorkingDir); err != nil || !info.IsDir() {
		return Result{}, &Error{Kind: WorkingDirectoryNotFound, ProjectID: project.ID, AgentID: agent.ID, Path: project.WorkingDir}
	}

	var cmd *exec.Cmd
	switch agent.KickMethod {
	case domain.KickMethodCLI:
		cli := k.CLIPath
		if cli == "" {
			cli = DefaultCLI
		}
		path, err := k.look(cli)
		if err != nil {
			return Result{}, &Error{Kind: CLINotFound, AgentID: agent.ID, Path: cli}
		}
		args := append([]string{}, k.CLIArgs...)
		args = append(args, prompt(agent, task))
		cmd = exec.Command(path, args...)
	case domain.KickMethodScript:
		if agent.KickCommand == "" {
			return Result{}, &Error{Kind: NoKickCommand, AgentID: agent.ID, Method: string(agent.KickMethod)}
		}
		cmd = exec.Command("sh", "-c", agent.KickCommand)
	default:
		return Result{}, &Error{Kind: UnsupportedMethod, AgentID: agent.ID, Method: string(agent.KickMethod)}
	}

	cmd.Dir = project.WorkingDir
	cmd.Env = append(os.Environ(),
		"AGENTLINE_AGENT_ID="+string(agent.ID),
		"AGENTLINE_PROJECT_ID="+string(project.ID),
		"AGENTLINE_TASK_ID="+string(task.ID),
	)
	if err := cmd.Start(); err != nil {
		return Result{}, &Error{Kind: ExecutionFailed, AgentID: agent.ID, ProjectID: project.ID, TaskID: task.ID, Method: string(agent.KickMethod), Reason: err.Error()}
	}
	pid := cmd.Process.Pid
	// Reap in the background so the child does not linger as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				observability.Logger().Warn("kicked process wait failed", "agent_id", agent.ID, "pid", pid, "error", err)
				return
			}
			observability.Logger().Info("kicked process exited", "agent_id", agent.ID, "pid", pid, "code", exitErr.ExitCode())
		}
	}()
	observability.LoggerFromContext(ctx).Info("agent kicked", "agent_id", agent.ID, "task_id", task.ID, "pid", pid, "method", agent.KickMethod)
	return Result{
		Success:   true,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Message:   fmt.Sprintf("started %s for task %s", agent.KickMethod, task.ID),
		ProcessID: &pid,
		Timestamp: k.now(),
	}, nil
}

func prompt(agent domain.Agent, task domain.Task) string {
	return fmt.Sprintf("You are agent %s (%s). Work on task %s: %s", agent.Name, agent.ID, task.ID, task.Title)
}
