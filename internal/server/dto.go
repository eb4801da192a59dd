package server

import (
	"time"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
)

// Request payloads

type CreateSessionRequest struct {
	AgentID   string `json:"agent_id" minLength:"1"`
	Passkey   string `json:"passkey"`
	ProjectID string `json:"project_id" minLength:"1"`
}

// Response payloads

type SessionResponse struct {
	SessionID domain.SessionID `json:"session_id"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at" format:"date-time"`
	Agent     domain.Agent     `json:"agent"`
	Caller    string           `json:"caller" enum:"manager,worker"`
}

type MeResponse struct {
	Caller  string          `json:"caller" enum:"coordinator,manager,worker"`
	Profile *engine.Profile `json:"profile,omitempty"`
}

type ProjectResponse struct {
	Project domain.Project `json:"project"`
}

type AgentList struct {
	Items []domain.Agent `json:"items"`
}

type paginatedEvents struct {
	Items      []domain.StateChangeEvent `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

// Conversion helpers

func sessionResponse(s domain.AgentSession, a domain.Agent) SessionResponse {
	return SessionResponse{
		SessionID: s.ID,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		Agent:     a,
		Caller:    authKind(a, s),
	}
}

func authKind(a domain.Agent, s domain.AgentSession) string {
	return auth.KindOf(auth.CallerForAgent(a, s))
}

func nonNilAgents(in []domain.Agent) []domain.Agent {
	if in == nil {
		return []domain.Agent{}
	}
	return in
}
