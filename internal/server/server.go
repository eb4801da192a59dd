package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/observability"
	"agentline/internal/tools"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Registry serves the tool endpoint; one is built from Engine when nil.
	Registry *tools.Registry
	Version  string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_subordinate"`
	Message string         `json:"message" example:"agent a is not a subordinate of manager b"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"not_subordinate\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// routes carries what every REST operation needs.
type routes struct {
	engine engine.Engine
	authz  auth.Authorizer
}

// New returns an HTTP handler exposing the REST API, the tool endpoint and metrics.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}
	registry := cfg.Registry
	if registry == nil {
		registry = tools.NewRegistry(cfg.Engine, auth.NewAuthorizer(nil), cfg.Engine.Metrics)
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "route not found", map[string]any{"path": r.URL.Path}))
	})
	hcfg := huma.DefaultConfig("Agentline API", version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	rt := routes{engine: cfg.Engine, authz: registry.Authorizer}
	registerDocs(router, basePath)
	registerHealth(group)
	registerSessions(group, rt)
	registerMe(group, rt)
	registerProjects(group, rt)
	registerEvents(group, rt)
	registerAgents(group, rt)
	registerOpenAPI(router, api, basePath)

	router.Handle("/mcp", registry.HTTPHandler(version))
	if cfg.Engine.Metrics != nil {
		router.Handle("/metrics", cfg.Engine.Metrics.Handler())
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	f := tools.Classify(err)
	if f.Status >= http.StatusInternalServerError {
		observability.LoggerFromContext(ctx).Error("request failed", "error", err)
	}
	return newAPIError(f.Status, f.Code, f.Message, f.Details)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// authorize passes when the caller may invoke any of the named tools. Every
// REST operation goes through it before touching the engine.
func (rt routes) authorize(ctx context.Context, names ...string) (auth.Caller, huma.StatusError) {
	caller := auth.CallerFromContext(ctx)
	kind := auth.KindOf(caller)
	var denied error
	for _, name := range names {
		err := rt.authz.Authorize(name, caller)
		if err == nil {
			rt.engine.Metrics.ObserveAuthorization(name, kind, nil)
			return caller, nil
		}
		if denied == nil {
			denied = err
		}
	}
	rt.engine.Metrics.ObserveAuthorization(names[0], kind, denied)
	observability.LoggerFromContext(ctx).Info("request denied", "tool", names[0], "caller", kind, "error", denied)
	return nil, handleError(ctx, denied)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			documentAuth(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

// boundaryErrorSchema is the bare body written by the authentication
// middleware, which answers before any operation runs.
var boundaryErrorSchema = &huma.Schema{
	Type:     huma.TypeObject,
	Required: []string{"error"},
	Properties: map[string]*huma.Schema{
		"error": {
			Type: huma.TypeString,
			Enum: []any{"Missing Authorization header", "Invalid session token", "Session expired"},
		},
	},
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

// documentAuth declares bearer security on every operation except the public
// ones. Secured operations document the boundary 401 body; every operation
// documents the error envelope as its default response.
func documentAuth(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:        "http",
		Scheme:      "bearer",
		Description: "Agent session token (alt_...) or a coordinator JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	health := path.Join("/", basePath, "health")
	session := path.Join("/", basePath, "auth/session")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error envelope",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
			if route == health || (route == session && op == item.Post) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
			op.Responses[strconv.Itoa(http.StatusUnauthorized)] = &huma.Response{
				Description: "Rejected at the authentication boundary",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: boundaryErrorSchema},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Agentline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;session token or coordinator JWT&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSessions(api huma.API, rt routes) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/auth/session",
		Summary:       "Authenticate an agent and open a session",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, err := rt.authorize(ctx, "authenticate"); err != nil {
			return nil, err
		}
		s, a, err := rt.engine.Authenticate(ctx, engine.AuthenticateOptions{
			AgentID:   domain.AgentID(strings.TrimSpace(input.Body.AgentID)),
			Passkey:   input.Body.Passkey,
			ProjectID: domain.ProjectID(strings.TrimSpace(input.Body.ProjectID)),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s, a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/auth/session",
		Summary:       "End the current session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		caller, authErr := rt.authorize(ctx, "logout")
		if authErr != nil {
			return nil, authErr
		}
		if err := rt.engine.Logout(ctx, caller); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}

func registerMe(api huma.API, rt routes) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current caller",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		caller, authErr := rt.authorize(ctx, "get_my_profile", "health_check")
		if authErr != nil {
			return nil, authErr
		}
		resp := MeResponse{Caller: auth.KindOf(caller)}
		if _, ok := caller.(auth.Coordinator); !ok {
			profile, err := rt.engine.GetProfile(ctx, caller)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			resp.Profile = &profile
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type lifecycleFunc func(ctx context.Context, caller auth.Caller, id domain.ProjectID, reason string) (domain.Project, error)

func registerProjects(api huma.API, rt routes) {
	lifecycle := []struct {
		verb string
		tool string
		run  lifecycleFunc
	}{
		{"pause", "pause_project", func(ctx context.Context, c auth.Caller, id domain.ProjectID, _ string) (domain.Project, error) {
			return rt.engine.PauseProject(ctx, c, id)
		}},
		{"resume", "resume_project", func(ctx context.Context, c auth.Caller, id domain.ProjectID, _ string) (domain.Project, error) {
			return rt.engine.ResumeProject(ctx, c, id)
		}},
		{"archive", "archive_project", rt.engine.ArchiveProject},
	}
	for _, op := range lifecycle {
		op := op
		huma.Register(api, huma.Operation{
			OperationID: op.verb + "-project",
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/" + op.verb,
			Summary:     strings.ToUpper(op.verb[:1]) + op.verb[1:] + " project",
			Errors: []int{
				http.StatusUnauthorized,
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Reason    string `query:"reason"`
		}) (*struct {
			Body ProjectResponse `json:"body"`
		}, error) {
			caller, authErr := rt.authorize(ctx, op.tool)
			if authErr != nil {
				return nil, authErr
			}
			p, err := op.run(ctx, caller, domain.ProjectID(input.ProjectID), input.Reason)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			return &struct {
				Body ProjectResponse `json:"body"`
			}{Body: ProjectResponse{Project: p}}, nil
		})
	}
}

func registerEvents(api huma.API, rt routes) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Page through a project's event log",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		AfterSeq  string `query:"after_seq"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		caller, authErr := rt.authorize(ctx, "get_task_history", "list_projects")
		if authErr != nil {
			return nil, authErr
		}
		var after int64
		if input.AfterSeq != "" {
			parsed, err := strconv.ParseInt(input.AfterSeq, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid after_seq", map[string]any{"after_seq": input.AfterSeq})
			}
			after = parsed
		}
		limit := normalizeLimit(input.Limit)
		items, err := rt.engine.ProjectEvents(ctx, caller, domain.ProjectID(input.ProjectID), after, limit+1)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []domain.StateChangeEvent{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].Seq, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAgents(api huma.API, rt routes) {
	huma.Register(api, huma.Operation{
		OperationID: "managed-agents",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/managed",
		Summary:     "List the AI agents a human manages",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body AgentList `json:"body"`
	}, error) {
		caller, authErr := rt.authorize(ctx, "list_subordinates", "list_agents")
		if authErr != nil {
			return nil, authErr
		}
		agents, err := rt.engine.ManagedAgents(ctx, caller, domain.AgentID(input.AgentID))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body AgentList `json:"body"`
		}{Body: AgentList{Items: nonNilAgents(agents)}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
