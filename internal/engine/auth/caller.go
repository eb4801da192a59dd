package auth

import (
	"context"

	"agentline/internal/domain"
)

// Caller is the closed set of identities a tool call can run as:
// Coordinator, Manager, Worker or Unauthenticated. The unexported method
// keeps other packages from adding variants.
type Caller interface {
	callerKind() string
}

// Coordinator is the system-level administrative identity.
type Coordinator struct{}

// Manager is an authenticated agent whose hierarchy role is owner or manager.
type Manager struct {
	AgentID domain.AgentID
	Session domain.AgentSession
}

// Worker is an authenticated agent whose hierarchy role is worker.
type Worker struct {
	AgentID domain.AgentID
	Session domain.AgentSession
}

// Unauthenticated carries no credential.
type Unauthenticated struct{}

func (Coordinator) callerKind() string     { return "coordinator" }
func (Manager) callerKind() string         { return "manager" }
func (Worker) callerKind() string          { return "worker" }
func (Unauthenticated) callerKind() string { return "unauthenticated" }

// KindOf returns a stable label for logs and metrics.
func KindOf(c Caller) string {
	if c == nil {
		return Unauthenticated{}.callerKind()
	}
	return c.callerKind()
}

// CallerForAgent classifies an authenticated agent by its hierarchy role.
func CallerForAgent(a domain.Agent, s domain.AgentSession) Caller {
	if a.IsManagerRole() {
		return Manager{AgentID: a.ID, Session: s}
	}
	return Worker{AgentID: a.ID, Session: s}
}

// AgentIdentity returns the agent and session behind an authenticated caller.
func AgentIdentity(c Caller) (domain.AgentID, domain.AgentSession, bool) {
	switch v := c.(type) {
	case Manager:
		return v.AgentID, v.Session, true
	case Worker:
		return v.AgentID, v.Session, true
	default:
		return "", domain.AgentSession{}, false
	}
}

type callerKey struct{}

// WithCaller stores the resolved caller on the context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller or Unauthenticated when none was resolved.
func CallerFromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok && c != nil {
		return c
	}
	return Unauthenticated{}
}
