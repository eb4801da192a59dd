package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/observability"
	"agentline/internal/session"
)

// CoordinatorSubject is the subject claim a coordinator token must carry.
const CoordinatorSubject = "coordinator"

type AuthConfig struct {
	// CoordinatorSecret signs coordinator JWTs. Empty disables the coordinator.
	CoordinatorSecret string
}

var errCoordinatorDisabled = errors.New("coordinator secret not configured")

// SignCoordinatorToken mints an HS256 coordinator token valid for ttl.
func SignCoordinatorToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errCoordinatorDisabled
	}
	claims := jwt.RegisteredClaims{
		Subject:  CoordinatorSubject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateCoordinator(token, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errCoordinatorDisabled
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	if claims.Subject != CoordinatorSubject {
		return errors.New("subject is not the coordinator")
	}
	return nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

var errMissingAuthorization = errors.New("missing authorization header")

// resolveCaller turns an Authorization header into a caller. An empty header
// is the unauthenticated caller only where anonymous is true.
func resolveCaller(ctx context.Context, e engine.Engine, cfg AuthConfig, authz string, anonymous bool) (auth.Caller, error) {
	if authz == "" {
		if anonymous {
			return auth.Unauthenticated{}, nil
		}
		return nil, errMissingAuthorization
	}
	token, ok := bearerToken(authz)
	if !ok {
		return nil, session.ErrInvalidSession
	}
	if !strings.HasPrefix(token, session.TokenPrefix) {
		if err := authenticateCoordinator(token, cfg.CoordinatorSecret); err != nil {
			return nil, session.ErrInvalidSession
		}
		return auth.Coordinator{}, nil
	}
	s, err := e.Sessions().Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	a, err := e.Repo.GetAgent(ctx, s.AgentID)
	if err != nil {
		return nil, session.ErrInvalidSession
	}
	return auth.CallerForAgent(a, s), nil
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
		"/docs":                             true,
		"/metrics":                          true,
	}
	sessionPath := path.Join(basePath, "auth/session")
	// anonymous reports whether a request may proceed without credentials as
	// the unauthenticated caller: the tool endpoint and opening a session.
	anonymous := func(req *http.Request) bool {
		return req.URL.Path == "/mcp" || (req.Method == http.MethodPost && req.URL.Path == sessionPath)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			caller, err := resolveCaller(req.Context(), e, cfg, strings.TrimSpace(req.Header.Get("Authorization")), anonymous(req))
			if err != nil {
				reason, msg := "invalid_session", "Invalid session token"
				if errors.Is(err, errMissingAuthorization) {
					reason, msg = "missing_credentials", "Missing Authorization header"
				} else if errors.Is(err, session.ErrSessionExpired) {
					reason, msg = "session_expired", "Session expired"
				} else if !errors.Is(err, session.ErrInvalidSession) {
					observability.LoggerFromContext(req.Context()).Error("resolve caller failed", "error", err)
				}
				e.Metrics.AuthenticationFailed(reason)
				respondAuthFailure(w, msg)
				return
			}
			ctx := auth.WithCaller(req.Context(), caller)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// respondAuthFailure writes the boundary rejection, which is a bare message
// rather than the structured envelope.
func respondAuthFailure(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
