// Package engine holds the coordination use cases. Each mutating use case runs
// in one transaction together with the events that describe it.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentline/internal/config"
	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/events"
	"agentline/internal/hierarchy"
	"agentline/internal/kick"
	"agentline/internal/metrics"
	"agentline/internal/repo"
	"agentline/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid agent credentials")
	ErrAgentInactive      = errors.New("agent is not active")
	ErrProjectNotActive   = errors.New("project is not active")
	ErrTerminalStatus     = errors.New("task is in a terminal status")
	ErrCapacityReached    = errors.New("agent is at max parallel tasks")
	ErrNotAssignee        = errors.New("task is not assigned to the caller")
	ErrWrongProject       = errors.New("entity belongs to another project")
	ErrHandoffNotPending  = errors.New("handoff is not pending")
)

// InputError rejects a malformed request field.
type InputError struct {
	Field   string
	Message string
}

func (e InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Config  *config.Config
	Metrics *metrics.Metrics
	Kicker  kick.Kicker
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, m *metrics.Metrics) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Metrics: m,
		Kicker:  kick.CommandKicker{CLIPath: cfg.Kick.CLIPath, CLIArgs: cfg.Kick.CLIArgs},
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) recorder() events.Recorder {
	return events.Recorder{Writer: events.Writer{Now: e.now, Metrics: e.Metrics}}
}

// Sessions returns the session manager sharing the engine's clock and store.
func (e Engine) Sessions() session.Manager {
	ttl := session.DefaultTTL
	if e.Config != nil && e.Config.Sessions.TTL > 0 {
		ttl = e.Config.Sessions.TTL.Std()
	}
	return session.Manager{
		DB:       e.DB,
		Repo:     e.Repo,
		Recorder: e.recorder(),
		Metrics:  e.Metrics,
		TTL:      ttl,
		Now:      e.now,
	}
}

// Events returns a reader over the event log.
func (e Engine) Events() events.Reader {
	return events.Reader{Q: e.DB}
}

func actorOf(c auth.Caller) events.Actor {
	id, s, ok := auth.AgentIdentity(c)
	if !ok {
		return events.Actor{}
	}
	return events.AgentActor(id, s.ID)
}

// identity returns the agent and session behind c or an authentication denial.
func identity(c auth.Caller, tool string) (domain.AgentID, domain.AgentSession, error) {
	id, s, ok := auth.AgentIdentity(c)
	if !ok {
		return "", s, auth.AuthorizationError{Kind: auth.AuthenticationRequired, Tool: tool}
	}
	return id, s, nil
}

func loadHierarchy(ctx context.Context, r repo.Repo) (hierarchy.Agents, error) {
	list, err := r.ListAgents(ctx, "")
	if err != nil {
		return nil, err
	}
	return hierarchy.FromSlice(list), nil
}

// requireSubordinate allows the coordinator and managers whose reporting
// surface contains target.
func requireSubordinate(ctx context.Context, r repo.Repo, caller auth.Caller, tool string, target domain.AgentID) error {
	switch c := caller.(type) {
	case auth.Coordinator:
		return nil
	case auth.Manager:
		agents, err := loadHierarchy(ctx, r)
		if err != nil {
			return err
		}
		ok, err := hierarchy.Manages(c.AgentID, target, agents)
		if err != nil {
			return err
		}
		if !ok {
			return auth.NotSubordinateError(c.AgentID, target)
		}
		return nil
	default:
		return auth.AuthorizationError{Kind: auth.ManagerRequired, Tool: tool}
	}
}

// requireSameProject keeps session-bound callers inside their project.
func requireSameProject(caller auth.Caller, projectID domain.ProjectID) error {
	_, s, ok := auth.AgentIdentity(caller)
	if ok && s.ProjectID != projectID {
		return fmt.Errorf("%w: %s", ErrWrongProject, projectID)
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return InputError{Field: field, Message: "is required"}
	}
	return nil
}
