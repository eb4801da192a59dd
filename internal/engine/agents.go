package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/hierarchy"
	"agentline/internal/observability"
	"agentline/internal/repo"
)

// AgentCreateOptions are parameters for registering an agent.
type AgentCreateOptions struct {
	Name             string
	Role             string
	Type             domain.AgentType
	HierarchyType    domain.HierarchyType
	ParentAgentID    *domain.AgentID
	MaxParallelTasks int
	Capabilities     []string
	AuthLevel        int
	Passkey          string
	KickMethod       domain.KickMethod
	KickCommand      string
}

func (o *AgentCreateOptions) normalize() error {
	if err := required("name", o.Name); err != nil {
		return err
	}
	if o.Type == "" {
		o.Type = domain.AgentTypeAI
	}
	switch o.Type {
	case domain.AgentTypeAI, domain.AgentTypeHuman:
	default:
		return InputError{Field: "type", Message: fmt.Sprintf("unknown agent type %q", o.Type)}
	}
	if o.HierarchyType == "" {
		o.HierarchyType = domain.HierarchyWorker
	}
	switch o.HierarchyType {
	case domain.HierarchyOwner, domain.HierarchyManager, domain.HierarchyWorker:
	default:
		return InputError{Field: "hierarchy_type", Message: fmt.Sprintf("unknown hierarchy type %q", o.HierarchyType)}
	}
	if o.MaxParallelTasks <= 0 {
		o.MaxParallelTasks = 1
	}
	if o.KickMethod == "" {
		o.KickMethod = domain.KickMethodNone
	}
	switch o.KickMethod {
	case domain.KickMethodCLI, domain.KickMethodNone:
	case domain.KickMethodScript:
		if o.KickCommand == "" {
			return InputError{Field: "kick_command", Message: "is required for the script kick method"}
		}
	default:
		return InputError{Field: "kick_method", Message: fmt.Sprintf("unknown kick method %q", o.KickMethod)}
	}
	return nil
}

func (e Engine) CreateAgent(ctx context.Context, caller auth.Caller, opts AgentCreateOptions) (domain.Agent, error) {
	if err := opts.normalize(); err != nil {
		return domain.Agent{}, err
	}
	var hash string
	if opts.Passkey != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(opts.Passkey), bcrypt.DefaultCost)
		if err != nil {
			return domain.Agent{}, fmt.Errorf("hash passkey: %w", err)
		}
		hash = string(b)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	if opts.ParentAgentID != nil {
		if _, err := r.GetAgent(ctx, *opts.ParentAgentID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Agent{}, InputError{Field: "parent_agent_id", Message: fmt.Sprintf("agent %s not found", *opts.ParentAgentID)}
			}
			return domain.Agent{}, err
		}
	}
	now := e.now()
	a := domain.Agent{
		ID:               domain.NewAgentID(),
		Name:             opts.Name,
		Role:             opts.Role,
		Type:             opts.Type,
		HierarchyType:    opts.HierarchyType,
		ParentAgentID:    opts.ParentAgentID,
		MaxParallelTasks: opts.MaxParallelTasks,
		Capabilities:     opts.Capabilities,
		Status:           domain.AgentActive,
		AuthLevel:        opts.AuthLevel,
		PasskeyHash:      hash,
		KickMethod:       opts.KickMethod,
		KickCommand:      opts.KickCommand,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.InsertAgent(ctx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	meta := map[string]string{
		"type":           string(a.Type),
		"hierarchy_type": string(a.HierarchyType),
	}
	if a.ParentAgentID != nil {
		meta["parent_agent_id"] = string(*a.ParentAgentID)
	}
	if _, err := e.recorder().RecordCreation(ctx, tx, "", domain.EntityAgent, string(a.ID), string(a.Status), actorOf(caller), meta); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) UpdateAgentStatus(ctx context.Context, caller auth.Caller, id domain.AgentID, status domain.AgentStatus, reason string) (domain.Agent, error) {
	switch status {
	case domain.AgentActive, domain.AgentInactive, domain.AgentSuspended, domain.AgentArchived:
	default:
		return domain.Agent{}, InputError{Field: "status", Message: fmt.Sprintf("unknown agent status %q", status)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	a, err := r.GetAgent(ctx, id)
	if err != nil {
		return a, err
	}
	if a.Status == status {
		return a, nil
	}
	prev := a.Status
	a.Status = status
	a.UpdatedAt = e.now()
	if err := r.UpdateAgentStatus(ctx, a.ID, status, a.UpdatedAt); err != nil {
		return a, err
	}
	if _, err := e.recorder().RecordStatusChange(ctx, tx, "", domain.EntityAgent, string(a.ID), string(prev), string(status), actorOf(caller), reason); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

// ReparentAgent moves an agent under a new parent, or to the top when parent
// is nil. Moves that would close a loop fail with CyclicHierarchyError.
func (e Engine) ReparentAgent(ctx context.Context, caller auth.Caller, id domain.AgentID, parent *domain.AgentID) (domain.Agent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	agents, err := loadHierarchy(ctx, r)
	if err != nil {
		return domain.Agent{}, err
	}
	a, ok := agents[id]
	if !ok {
		return a, repo.ErrNotFound
	}
	if parent != nil {
		if _, ok := agents[*parent]; !ok {
			return a, InputError{Field: "parent_agent_id", Message: fmt.Sprintf("agent %s not found", *parent)}
		}
		if *parent == id {
			return a, hierarchy.CyclicHierarchyError{AgentID: id}
		}
		under, err := hierarchy.IsAncestorOf(id, *parent, agents)
		if err != nil {
			return a, err
		}
		if under {
			return a, hierarchy.CyclicHierarchyError{AgentID: id}
		}
	}
	var prev string
	if a.ParentAgentID != nil {
		prev = string(*a.ParentAgentID)
	}
	a.ParentAgentID = parent
	a.UpdatedAt = e.now()
	if err := r.UpdateAgentParent(ctx, a.ID, parent, a.UpdatedAt); err != nil {
		return a, err
	}
	var next string
	if parent != nil {
		next = string(*parent)
	}
	ev := domain.StateChangeEvent{
		EntityType: domain.EntityAgent,
		EntityID:   string(a.ID),
		EventType:  domain.EventUpdated,
		Metadata:   map[string]string{"field": "parent_agent_id", "previous": prev, "new": next},
	}
	actor := actorOf(caller)
	ev.AgentID, ev.SessionID = actor.AgentID, actor.SessionID
	if _, err := e.recorder().RecordEvent(ctx, tx, ev); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

func (e Engine) ListAgents(ctx context.Context, status domain.AgentStatus) ([]domain.Agent, error) {
	return e.Repo.ListAgents(ctx, status)
}

func (e Engine) GetAgent(ctx context.Context, id domain.AgentID) (domain.Agent, error) {
	return e.Repo.GetAgent(ctx, id)
}

// AuthenticateOptions identify an agent and the project it works in.
type AuthenticateOptions struct {
	AgentID   domain.AgentID
	Passkey   string
	ProjectID domain.ProjectID
}

// Authenticate verifies the agent's passkey and issues a session bound to the project.
func (e Engine) Authenticate(ctx context.Context, opts AuthenticateOptions) (domain.AgentSession, domain.Agent, error) {
	s, a, err := e.authenticate(ctx, opts)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			reason = "invalid_credentials"
		case errors.Is(err, ErrAgentInactive):
			reason = "agent_inactive"
		case errors.Is(err, ErrProjectNotActive):
			reason = "project_not_active"
		}
		e.Metrics.AuthenticationFailed(reason)
		observability.LoggerFromContext(ctx).Info("authentication failed", "agent_id", opts.AgentID, "project_id", opts.ProjectID, "reason", reason)
	}
	return s, a, err
}

func (e Engine) authenticate(ctx context.Context, opts AuthenticateOptions) (domain.AgentSession, domain.Agent, error) {
	if err := required("agent_id", string(opts.AgentID)); err != nil {
		return domain.AgentSession{}, domain.Agent{}, err
	}
	if err := required("project_id", string(opts.ProjectID)); err != nil {
		return domain.AgentSession{}, domain.Agent{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentSession{}, domain.Agent{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	a, err := r.GetAgent(ctx, opts.AgentID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.AgentSession{}, domain.Agent{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.AgentSession{}, domain.Agent{}, err
	}
	if a.PasskeyHash == "" || bcrypt.CompareHashAndPassword([]byte(a.PasskeyHash), []byte(opts.Passkey)) != nil {
		return domain.AgentSession{}, domain.Agent{}, ErrInvalidCredentials
	}
	if a.Status != domain.AgentActive {
		return domain.AgentSession{}, a, ErrAgentInactive
	}
	p, err := r.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.AgentSession{}, a, err
	}
	if p.Status != domain.ProjectActive {
		return domain.AgentSession{}, a, fmt.Errorf("%w: %s is %s", ErrProjectNotActive, p.ID, p.Status)
	}
	s, err := e.Sessions().IssueTx(ctx, tx, a.ID, p.ID)
	if err != nil {
		return s, a, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentSession{}, a, err
	}
	return s, a, nil
}

// Logout ends the caller's session.
func (e Engine) Logout(ctx context.Context, caller auth.Caller) error {
	_, s, err := identity(caller, "logout")
	if err != nil {
		return err
	}
	_, err = e.Sessions().End(ctx, s.ID, "logout")
	return err
}

// Profile is the caller's own view of itself.
type Profile struct {
	Agent           domain.Agent        `json:"agent"`
	Session         domain.AgentSession `json:"session"`
	OpenTasks       int                 `json:"open_tasks"`
	PendingHandoffs []domain.Handoff    `json:"pending_handoffs"`
	Subordinates    []domain.Agent      `json:"subordinates,omitempty"`
}

func (e Engine) GetProfile(ctx context.Context, caller auth.Caller) (Profile, error) {
	id, s, err := identity(caller, "get_my_profile")
	if err != nil {
		return Profile{}, err
	}
	a, err := e.Repo.GetAgent(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	open, err := e.Repo.CountOpenTasks(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	handoffs, err := e.Repo.ListPendingHandoffs(ctx, s.ProjectID, id)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{Agent: a, Session: s, OpenTasks: open, PendingHandoffs: handoffs}
	if _, ok := caller.(auth.Manager); ok {
		if p.Subordinates, err = e.ListSubordinates(ctx, caller); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

// ListSubordinates returns the manager's reporting surface: the managed set
// for a human, every descendant for an AI.
func (e Engine) ListSubordinates(ctx context.Context, caller auth.Caller) ([]domain.Agent, error) {
	id, _, err := identity(caller, "list_subordinates")
	if err != nil {
		return nil, err
	}
	return e.subordinatesOf(ctx, id)
}

func (e Engine) subordinatesOf(ctx context.Context, id domain.AgentID) ([]domain.Agent, error) {
	agents, err := loadHierarchy(ctx, e.Repo)
	if err != nil {
		return nil, err
	}
	a, ok := agents[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if a.Type == domain.AgentTypeHuman {
		return hierarchy.ManagedAgents(id, agents)
	}
	return hierarchy.Descendants(id, agents)
}

// ManagedAgents lists the AI agents a human manages. A manager caller may only
// look at itself or agents it manages.
func (e Engine) ManagedAgents(ctx context.Context, caller auth.Caller, id domain.AgentID) ([]domain.Agent, error) {
	if m, ok := caller.(auth.Manager); ok && m.AgentID != id {
		if err := requireSubordinate(ctx, e.Repo, caller, "list_subordinates", id); err != nil {
			return nil, err
		}
	}
	agents, err := loadHierarchy(ctx, e.Repo)
	if err != nil {
		return nil, err
	}
	if _, ok := agents[id]; !ok {
		return nil, repo.ErrNotFound
	}
	return hierarchy.ManagedAgents(id, agents)
}

// TreeNode is one agent with its direct reports, for display.
type TreeNode struct {
	Agent    domain.Agent
	Depth    int
	Children []TreeNode
}

// AgentTree returns the hierarchy as a forest rooted at agents without a parent.
func (e Engine) AgentTree(ctx context.Context) ([]TreeNode, error) {
	list, err := e.Repo.ListAgents(ctx, "")
	if err != nil {
		return nil, err
	}
	children := map[domain.AgentID][]domain.Agent{}
	var roots []domain.Agent
	byID := hierarchy.FromSlice(list)
	for _, a := range list {
		if a.ParentAgentID == nil {
			roots = append(roots, a)
			continue
		}
		if _, ok := byID[*a.ParentAgentID]; !ok {
			roots = append(roots, a)
			continue
		}
		children[*a.ParentAgentID] = append(children[*a.ParentAgentID], a)
	}
	seen := map[domain.AgentID]bool{}
	var build func(a domain.Agent, depth int) (TreeNode, error)
	build = func(a domain.Agent, depth int) (TreeNode, error) {
		if seen[a.ID] {
			return TreeNode{}, hierarchy.CyclicHierarchyError{AgentID: a.ID}
		}
		seen[a.ID] = true
		n := TreeNode{Agent: a, Depth: depth}
		for _, c := range children[a.ID] {
			child, err := build(c, depth+1)
			if err != nil {
				return TreeNode{}, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil
	}
	var out []TreeNode
	for _, root := range roots {
		n, err := build(root, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
