package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"

	"agentline/internal/app"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/observability"
	"agentline/internal/repo"
	"agentline/internal/server"
)

// version is set at build time.
var version = "dev"

// The CLI operates the local workspace directly and acts as the coordinator.
var coordinator = auth.Coordinator{}

var rootCmd = &cobra.Command{
	Use:   "agentline",
	Short: "Agentline coordination server",
	Long: `Agentline coordinates a hierarchy of AI and human agents working on projects.
- Agents: owners and managers assign work; workers report on it. Managers only reach their own subordinates.
- Projects: pausing a project shortens live sessions to a short grace period; archiving is final.
- Tasks: backlog -> todo -> in_progress -> blocked -> done/cancelled, each change recorded as an event.
- Tools: agents call tools over MCP at /mcp; coordinators use a JWT from 'agentline coordinator token'.
- Event log: every state change, view with 'agentline events tail'.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(coordinatorCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default agentline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitWorkspace(viper.GetString("workspace"), force)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				fmt.Println("Schema up to date")
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and MCP tool endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if addr == "" {
					addr = rt.Config.Server.Addr
				}
				if basePath == "" {
					basePath = rt.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{CoordinatorSecret: viper.GetString("coordinator_secret")}
				if authCfg.CoordinatorSecret == "" {
					observability.Logger().Warn("AGENTLINE_COORDINATOR_SECRET not set; coordinator tools are unreachable")
				}
				handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Version: version})
				if err != nil {
					return err
				}
				go server.NewWebhookDispatcher(rt.Engine, rt.Config.Webhooks).Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				observability.Logger().Info("serving", "addr", addr, "base_path", basePath, "mcp", "/mcp", "metrics", "/metrics", "version", version)
				fmt.Printf("Serving Agentline API on http://%s%s (tools at /mcp, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectLifecycleCmd("pause", "Pause a project and shorten its live sessions"))
	prj.AddCommand(projectLifecycleCmd("resume", "Resume a paused project"))
	prj.AddCommand(projectLifecycleCmd("archive", "Archive a project permanently"))
	prj.AddCommand(projectSetDirCmd())
	prj.AddCommand(projectSessionsCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.CreateProject(ctx, coordinator, opts)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.WorkingDir, "working-dir", "", "directory agents are kicked in")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
}

func projectLifecycleCmd(verb, short string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   verb + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.ProjectID(args[0])
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var (
					p   domain.Project
					err error
				)
				switch verb {
				case "pause":
					p, err = rt.Engine.PauseProject(ctx, coordinator, id)
				case "resume":
					p, err = rt.Engine.ResumeProject(ctx, coordinator, id)
				default:
					p, err = rt.Engine.ArchiveProject(ctx, coordinator, id, reason)
				}
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	if verb == "archive" {
		cmd.Flags().StringVar(&reason, "reason", "", "why the project is archived")
	}
	return cmd
}

func projectSetDirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-dir <project-id> <dir>",
		Short: "Set the working directory agents are kicked in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.SetWorkingDir(ctx, coordinator, domain.ProjectID(args[0]), args[1])
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
}

func projectSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <project-id>",
		Short: "List live agent sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListActiveSessions(ctx, domain.ProjectID(args[0]))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Agent", "Expires")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.AgentID, s.ExpiresAt.Format(time.RFC3339)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func agentCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agent", Short: "Manage agents"}
	ag.AddCommand(agentCreateCmd())
	ag.AddCommand(agentListCmd())
	ag.AddCommand(agentTreeCmd())
	ag.AddCommand(agentReparentCmd())
	ag.AddCommand(agentStatusCmd())
	return ag
}

func agentCreateCmd() *cobra.Command {
	var (
		opts                 engine.AgentCreateOptions
		typ, hierarchy, kick string
		parent               string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an agent",
		Long:  "Register an agent. The passkey is read from --passkey or AGENTLINE_AGENT_PASSKEY.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Name == "" {
				return fmt.Errorf("--name required")
			}
			if opts.Passkey == "" {
				opts.Passkey = viper.GetString("agent_passkey")
			}
			opts.Type = domain.AgentType(typ)
			opts.HierarchyType = domain.HierarchyType(hierarchy)
			opts.KickMethod = domain.KickMethod(kick)
			if parent != "" {
				id := domain.AgentID(parent)
				opts.ParentAgentID = &id
			}
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.CreateAgent(ctx, coordinator, opts)
				if err != nil {
					return err
				}
				return printAgents([]domain.Agent{a})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "agent name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "free-form role label")
	cmd.Flags().StringVar(&typ, "type", "ai", "ai or human")
	cmd.Flags().StringVar(&hierarchy, "hierarchy", "worker", "owner, manager or worker")
	cmd.Flags().StringVar(&parent, "parent", "", "parent agent id")
	cmd.Flags().IntVar(&opts.MaxParallelTasks, "max-parallel", 1, "open task limit")
	cmd.Flags().StringSliceVar(&opts.Capabilities, "capability", nil, "capability tag (repeatable)")
	cmd.Flags().IntVar(&opts.AuthLevel, "auth-level", 0, "authorization level")
	cmd.Flags().StringVar(&opts.Passkey, "passkey", "", "passkey the agent authenticates with")
	cmd.Flags().StringVar(&kick, "kick-method", "none", "cli, script or none")
	cmd.Flags().StringVar(&opts.KickCommand, "kick-command", "", "shell command for the script kick method")
	return cmd
}

func agentListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListAgents(ctx, domain.AgentStatus(status))
				if err != nil {
					return err
				}
				return printAgents(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func agentTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the agent hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				roots, err := rt.Engine.AgentTree(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roots)
				}
				for i, n := range roots {
					printAgentTree(n, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
}

func agentReparentCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "reparent <agent-id>",
		Short: "Move an agent under a new parent (omit --parent to make it a root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *domain.AgentID
			if parent != "" {
				id := domain.AgentID(parent)
				p = &id
			}
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.ReparentAgent(ctx, coordinator, domain.AgentID(args[0]), p)
				if err != nil {
					return err
				}
				return printAgents([]domain.Agent{a})
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent agent id")
	return cmd
}

func agentStatusCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "status <agent-id> <active|inactive|suspended|archived>",
		Short: "Change an agent's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.UpdateAgentStatus(ctx, coordinator, domain.AgentID(args[0]), domain.AgentStatus(args[1]), reason)
				if err != nil {
					return err
				}
				return printAgents([]domain.Agent{a})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the event")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var (
		opts                      engine.TaskCreateOptions
		project, assignee, parent string
		status                    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Title == "" {
				return fmt.Errorf("--title required")
			}
			opts.ProjectID = domain.ProjectID(project)
			opts.Status = domain.TaskStatus(status)
			opts.AssigneeID = optionalAgent(assignee)
			if parent != "" {
				id := domain.TaskID(parent)
				opts.ParentTaskID = &id
			}
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				task, err := rt.Engine.CreateTask(ctx, coordinator, opts)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{task})
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (backlog or todo)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "agent to assign")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	return cmd
}

func taskListCmd() *cobra.Command {
	var project, assignee, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListTasks(ctx, repo.TaskFilter{
					ProjectID:  domain.ProjectID(project),
					AssigneeID: domain.AgentID(assignee),
					Status:     domain.TaskStatus(status),
				})
				if err != nil {
					return err
				}
				return printTasks(items)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Read the event log"}
	ev.AddCommand(eventsTailCmd())
	return ev
}

func eventsTailCmd() *cobra.Command {
	var (
		n      int
		after  int64
		follow bool
		every  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tail <project-id>",
		Short: "Print a project's events in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.ProjectID(args[0])
			return withEngine(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cursor := after
				for {
					items, err := rt.Engine.ProjectEvents(ctx, coordinator, id, cursor, n)
					if err != nil {
						return err
					}
					if len(items) > 0 {
						cursor = items[len(items)-1].Seq
						if err := printEvents(items); err != nil {
							return err
						}
					}
					if !follow {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(every):
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "maximum events per read")
	cmd.Flags().Int64Var(&after, "after", 0, "start after this sequence number")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	cmd.Flags().DurationVar(&every, "interval", 2*time.Second, "poll interval with --follow")
	return cmd
}

func coordinatorCmd() *cobra.Command {
	co := &cobra.Command{Use: "coordinator", Short: "Coordinator credentials"}
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint a coordinator JWT signed with AGENTLINE_COORDINATOR_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := server.SignCoordinatorToken(viper.GetString("coordinator_secret"), ttl, time.Now())
			if err != nil {
				return fmt.Errorf("%w: set AGENTLINE_COORDINATOR_SECRET", err)
			}
			fmt.Println(tok)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for no expiry)")
	co.AddCommand(token)
	return co
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Name", "Status", "Working Dir")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.WorkingDir})
	}
	fmt.Println(tw.Render())
	return nil
}

func printAgents(items []domain.Agent) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Name", "Type", "Hierarchy", "Parent", "Status", "Kick")
	for _, a := range items {
		parent := ""
		if a.ParentAgentID != nil {
			parent = string(*a.ParentAgentID)
		}
		tw.AppendRow(table.Row{a.ID, a.Name, a.Type, a.HierarchyType, parent, a.Status, a.KickMethod})
	}
	fmt.Println(tw.Render())
	return nil
}

func printTasks(items []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Title", "Status", "Assignee", "Project")
	for _, t := range items {
		assignee := ""
		if t.AssigneeID != nil {
			assignee = string(*t.AssigneeID)
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, assignee, t.ProjectID})
	}
	fmt.Println(tw.Render())
	return nil
}

func printEvents(items []domain.StateChangeEvent) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("Seq", "Time", "Entity", "Event", "From", "To", "Agent")
	for _, e := range items {
		agent := ""
		if e.AgentID != nil {
			agent = string(*e.AgentID)
		}
		tw.AppendRow(table.Row{
			e.Seq, e.CreatedAt.Format(time.RFC3339), string(e.EntityType) + ":" + e.EntityID,
			e.EventType, deref(e.PreviousState), deref(e.NewState), agent,
		})
	}
	fmt.Println(tw.Render())
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAgentTree(n engine.TreeNode, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s (%s, %s) [%s]\n", prefix, connector, n.Agent.Name, n.Agent.ID, n.Agent.HierarchyType, n.Agent.Status)
	for i, c := range n.Children {
		printAgentTree(c, newPrefix, i == len(n.Children)-1)
	}
}

func optionalAgent(s string) *domain.AgentID {
	if s == "" {
		return nil
	}
	id := domain.AgentID(s)
	return &id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
