// Package session issues and validates agent bearer sessions and ties their
// lifetime to the owning project's lifecycle.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"agentline/internal/domain"
	"agentline/internal/events"
	"agentline/internal/metrics"
	"agentline/internal/observability"
	"agentline/internal/repo"
)

const (
	// GracePeriod is how long live sessions survive a project pause.
	GracePeriod = 5 * time.Minute
	// DefaultTTL is the lifetime of a freshly issued session.
	DefaultTTL = 8 * time.Hour

	TokenPrefix = "alt_"
)

var (
	ErrInvalidSession = errors.New("invalid session token")
	ErrSessionExpired = errors.New("session expired")
	ErrInvalidStatus  = errors.New("invalid project status")
)

// InvalidStatusError reports a lifecycle operation the project's status forbids.
type InvalidStatusError struct {
	ProjectID domain.ProjectID
	Status    domain.ProjectStatus
	Operation string
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("cannot %s project %s: status is %s", e.Operation, e.ProjectID, e.Status)
}

func (e InvalidStatusError) Is(target error) bool {
	return target == ErrInvalidStatus
}

// Manager owns session issue, lookup and the pause/resume lifecycle.
type Manager struct {
	DB       *sql.DB
	Repo     repo.Repo
	Recorder events.Recorder
	Metrics  *metrics.Metrics
	TTL      time.Duration
	Now      func() time.Time
}

// New wires a Manager over db with the default TTL.
func New(db *sql.DB, m *metrics.Metrics) Manager {
	return Manager{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Recorder: events.Recorder{Writer: events.Writer{Metrics: m}},
		Metrics:  m,
		TTL:      DefaultTTL,
		Now:      time.Now,
	}
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m Manager) recorder() events.Recorder {
	r := m.Recorder
	if r.Writer.Now == nil {
		r.Writer.Now = m.now
	}
	return r
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueTx creates a session inside tx and records its start. The returned
// session carries the raw token; it is not retrievable afterwards.
func (m Manager) IssueTx(ctx context.Context, tx *sql.Tx, agentID domain.AgentID, projectID domain.ProjectID) (domain.AgentSession, error) {
	token, err := newToken()
	if err != nil {
		return domain.AgentSession{}, fmt.Errorf("generate token: %w", err)
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	s := domain.AgentSession{
		ID:        domain.NewSessionID(),
		AgentID:   agentID,
		ProjectID: projectID,
		Token:     token,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := m.Repo.WithTx(tx).InsertSession(ctx, s); err != nil {
		return domain.AgentSession{}, fmt.Errorf("insert session: %w", err)
	}
	if _, err := m.recorder().RecordSessionStarted(ctx, tx, s); err != nil {
		return domain.AgentSession{}, err
	}
	return s, nil
}

// Issue creates a session in its own transaction.
func (m Manager) Issue(ctx context.Context, agentID domain.AgentID, projectID domain.ProjectID) (domain.AgentSession, error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentSession{}, err
	}
	defer tx.Rollback()
	s, err := m.IssueTx(ctx, tx, agentID, projectID)
	if err != nil {
		return s, err
	}
	return s, tx.Commit()
}

// FindByToken returns the session for a raw bearer token without checking
// expiry. Only the digest is stored, so the raw token is carried back on the
// returned session.
func (m Manager) FindByToken(ctx context.Context, token string) (domain.AgentSession, error) {
	s, err := m.Repo.GetSessionByToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.AgentSession{}, ErrInvalidSession
	}
	if err != nil {
		return s, err
	}
	s.Token = token
	return s, nil
}

// Validate reports ErrSessionExpired once expiresAt is in the past.
func (m Manager) Validate(s domain.AgentSession) error {
	if s.Expired(m.now()) {
		return ErrSessionExpired
	}
	return nil
}

// Resolve looks a token up and validates it.
func (m Manager) Resolve(ctx context.Context, token string) (domain.AgentSession, error) {
	s, err := m.FindByToken(ctx, token)
	if err != nil {
		return s, err
	}
	return s, m.Validate(s)
}

// End expires a session immediately and records it.
func (m Manager) End(ctx context.Context, id domain.SessionID, reason string) (domain.AgentSession, error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentSession{}, err
	}
	defer tx.Rollback()
	r := m.Repo.WithTx(tx)
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return s, err
	}
	now := m.now()
	if s.ExpiresAt.After(now) {
		s.ExpiresAt = now
		if err := r.UpdateSessionExpiry(ctx, s.ID, now); err != nil {
			return s, err
		}
	}
	if _, err := m.recorder().RecordSessionEnded(ctx, tx, s, reason); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

// ListActive returns the project's sessions that have not expired.
func (m Manager) ListActive(ctx context.Context, projectID domain.ProjectID) ([]domain.AgentSession, error) {
	all, err := m.Repo.ListSessionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []domain.AgentSession
	for _, s := range all {
		if !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// PauseProject moves an active project to paused and cuts every live session
// that outlives now+GracePeriod down to that instant. Sessions expiring sooner
// are untouched. Pausing a paused project returns it unchanged.
func (m Manager) PauseProject(ctx context.Context, projectID domain.ProjectID, actor events.Actor) (domain.Project, error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	r := m.Repo.WithTx(tx)
	p, err := r.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	switch p.Status {
	case domain.ProjectPaused:
		return p, nil
	case domain.ProjectArchived:
		return p, InvalidStatusError{ProjectID: p.ID, Status: p.Status, Operation: "pause"}
	}

	now := m.now()
	cutoff := now.Add(GracePeriod)
	sessions, err := r.ListSessionsByProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	shortened := 0
	for _, s := range sessions {
		if s.Expired(now) || !s.ExpiresAt.After(cutoff) {
			continue
		}
		if err := r.UpdateSessionExpiry(ctx, s.ID, cutoff); err != nil {
			return p, fmt.Errorf("shorten session %s: %w", s.ID, err)
		}
		shortened++
	}

	prev := p.Status
	p.Status = domain.ProjectPaused
	p.UpdatedAt = now
	if err := r.SaveProjectStatus(ctx, p); err != nil {
		return p, err
	}
	e := domain.StateChangeEvent{
		ProjectID:     p.ID,
		EntityType:    domain.EntityProject,
		EntityID:      string(p.ID),
		EventType:     domain.EventStatusChanged,
		AgentID:       actor.AgentID,
		SessionID:     actor.SessionID,
		PreviousState: ptr(string(prev)),
		NewState:      ptr(string(p.Status)),
		Metadata: map[string]string{
			"sessions_shortened": strconv.Itoa(shortened),
			"grace_period":       GracePeriod.String(),
		},
	}
	if _, err := m.recorder().RecordEvent(ctx, tx, e); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	m.Metrics.SessionsShortened(shortened)
	observability.LoggerFromContext(ctx).Info("project paused", "project_id", p.ID, "sessions_shortened", shortened)
	return p, nil
}

// ResumeProject moves a paused project back to active and stamps resumedAt.
// Session expiries are left as they are. Resuming an active project is a no-op.
func (m Manager) ResumeProject(ctx context.Context, projectID domain.ProjectID, actor events.Actor) (domain.Project, error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	r := m.Repo.WithTx(tx)
	p, err := r.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	switch p.Status {
	case domain.ProjectActive:
		return p, nil
	case domain.ProjectArchived:
		return p, InvalidStatusError{ProjectID: p.ID, Status: p.Status, Operation: "resume"}
	}
	now := m.now()
	prev := p.Status
	p.Status = domain.ProjectActive
	p.ResumedAt = &now
	p.UpdatedAt = now
	if err := r.SaveProjectStatus(ctx, p); err != nil {
		return p, err
	}
	if _, err := m.recorder().RecordStatusChange(ctx, tx, p.ID, domain.EntityProject, string(p.ID), string(prev), string(p.Status), actor, ""); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	observability.LoggerFromContext(ctx).Info("project resumed", "project_id", p.ID)
	return p, nil
}

// ArchiveProject is terminal; archived projects accept no further transitions.
func (m Manager) ArchiveProject(ctx context.Context, projectID domain.ProjectID, actor events.Actor, reason string) (domain.Project, error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	r := m.Repo.WithTx(tx)
	p, err := r.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	if p.Status == domain.ProjectArchived {
		return p, InvalidStatusError{ProjectID: p.ID, Status: p.Status, Operation: "archive"}
	}
	prev := p.Status
	p.Status = domain.ProjectArchived
	p.UpdatedAt = m.now()
	if err := r.SaveProjectStatus(ctx, p); err != nil {
		return p, err
	}
	if _, err := m.recorder().RecordStatusChange(ctx, tx, p.ID, domain.EntityProject, string(p.ID), string(prev), string(p.Status), actor, reason); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func ptr(s string) *string { return &s }
