package tools

import (
	"errors"
	"net/http"

	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/hierarchy"
	"agentline/internal/kick"
	"agentline/internal/repo"
	"agentline/internal/session"
)

// Failure is the rendered form of an error, shared by the tool endpoint and REST.
type Failure struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Classify maps a use-case error to a status, a stable code and details.
func Classify(err error) Failure {
	var (
		denial   auth.AuthorizationError
		input    engine.InputError
		kerr     *kick.Error
		validate hierarchy.ValidationError
		cyclic   hierarchy.CyclicHierarchyError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &denial):
		d := map[string]any{"kind": string(denial.Kind)}
		if denial.Tool != "" {
			d["tool"] = denial.Tool
		}
		if denial.Kind == auth.NotSubordinate {
			d["manager_id"] = string(denial.ManagerID)
			d["target_id"] = string(denial.TargetID)
		}
		if denial.Kind == auth.AuthenticationRequired {
			return Failure{Status: http.StatusUnauthorized, Code: "unauthorized", Message: msg, Details: d}
		}
		return Failure{Status: http.StatusForbidden, Code: "forbidden", Message: msg, Details: d}
	case errors.As(err, &kerr):
		d := map[string]any{"kind": string(kerr.Kind)}
		for k, v := range map[string]string{
			"agent_id": string(kerr.AgentID), "project_id": string(kerr.ProjectID), "task_id": string(kerr.TaskID),
			"path": kerr.Path, "method": kerr.Method, "reason": kerr.Reason,
		} {
			if v != "" {
				d[k] = v
			}
		}
		status := http.StatusUnprocessableEntity
		if kerr.Kind == kick.ExecutionFailed {
			status = http.StatusBadGateway
		}
		return Failure{Status: status, Code: "kick_failed", Message: msg, Details: d}
	case errors.As(err, &input):
		return Failure{Status: http.StatusBadRequest, Code: "bad_request", Message: msg, Details: map[string]any{"field": input.Field}}
	case errors.As(err, &validate):
		return Failure{Status: http.StatusBadRequest, Code: "invalid_hierarchy", Message: msg}
	case errors.As(err, &cyclic):
		return Failure{Status: http.StatusConflict, Code: "cyclic_hierarchy", Message: msg, Details: map[string]any{"agent_id": string(cyclic.AgentID)}}
	case errors.Is(err, repo.ErrNotFound):
		return Failure{Status: http.StatusNotFound, Code: "not_found", Message: msg}
	case errors.Is(err, engine.ErrInvalidCredentials), errors.Is(err, session.ErrInvalidSession):
		return Failure{Status: http.StatusUnauthorized, Code: "unauthorized", Message: msg}
	case errors.Is(err, session.ErrSessionExpired):
		return Failure{Status: http.StatusUnauthorized, Code: "session_expired", Message: msg}
	case errors.Is(err, engine.ErrNotAssignee), errors.Is(err, engine.ErrWrongProject):
		return Failure{Status: http.StatusForbidden, Code: "forbidden", Message: msg}
	case errors.Is(err, session.ErrInvalidStatus), errors.Is(err, engine.ErrProjectNotActive),
		errors.Is(err, engine.ErrAgentInactive), errors.Is(err, engine.ErrTerminalStatus),
		errors.Is(err, engine.ErrCapacityReached), errors.Is(err, engine.ErrHandoffNotPending):
		return Failure{Status: http.StatusConflict, Code: "conflict", Message: msg}
	default:
		return Failure{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error", Details: map[string]any{"error": msg}}
	}
}
