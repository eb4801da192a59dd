package agentlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Agentline HTTP API client.
type Client struct {
	BaseURL   string
	ProjectID string
	// Token is an agent session token or a coordinator JWT.
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Agent represents the API agent model (partial).
type Agent struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	HierarchyType string  `json:"hierarchy_type"`
	ParentAgentID *string `json:"parent_agent_id,omitempty"`
	Status        string  `json:"status"`
}

// Project represents the API project model (partial).
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// Session is returned by Login.
type Session struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Agent     Agent     `json:"agent"`
	Caller    string    `json:"caller"`
}

// Event represents a log entry.
type Event struct {
	ID            string            `json:"id"`
	Seq           int64             `json:"seq"`
	ProjectID     string            `json:"project_id"`
	EntityType    string            `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	EventType     string            `json:"event_type"`
	AgentID       *string           `json:"agent_id,omitempty"`
	PreviousState *string           `json:"previous_state,omitempty"`
	NewState      *string           `json:"new_state,omitempty"`
	Reason        *string           `json:"reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Me describes the caller behind the client's token.
type Me struct {
	Caller  string         `json:"caller"`
	Profile map[string]any `json:"profile,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ToolError is a tool call that ran and failed.
type ToolError struct {
	Tool    string
	Code    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s: %s", e.Tool, e.Code, e.Message)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Login authenticates an agent against the client's project and keeps the token.
func (c *Client) Login(ctx context.Context, agentID, passkey string) (Session, error) {
	body := map[string]string{
		"agent_id":   agentID,
		"passkey":    passkey,
		"project_id": c.ProjectID,
	}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "v0/auth/session", body, &resp); err != nil {
		return resp, err
	}
	c.Token = resp.Token
	return resp, nil
}

// Logout ends the current session and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "v0/auth/session", nil, nil); err != nil {
		return err
	}
	c.Token = ""
	return nil
}

// Me returns the caller behind the token.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// PauseProject pauses the client's project. Coordinator only.
func (c *Client) PauseProject(ctx context.Context) (Project, error) {
	return c.projectLifecycle(ctx, "pause", "")
}

// ResumeProject resumes the client's project. Coordinator only.
func (c *Client) ResumeProject(ctx context.Context) (Project, error) {
	return c.projectLifecycle(ctx, "resume", "")
}

// ArchiveProject archives the client's project. Coordinator only.
func (c *Client) ArchiveProject(ctx context.Context, reason string) (Project, error) {
	return c.projectLifecycle(ctx, "archive", reason)
}

func (c *Client) projectLifecycle(ctx context.Context, verb, reason string) (Project, error) {
	endpoint := c.projectPath(verb)
	if reason != "" {
		endpoint += "?reason=" + url.QueryEscape(reason)
	}
	var resp struct {
		Project Project `json:"project"`
	}
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Project, err
}

// Events returns the first page of the project's events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns events after the cursor, which is a sequence number.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("after_seq", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ManagedAgents lists the AI agents a human manages.
func (c *Client) ManagedAgents(ctx context.Context, agentID string) ([]Agent, error) {
	var resp struct {
		Items []Agent `json:"items"`
	}
	endpoint := fmt.Sprintf("v0/agents/%s/managed", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CallTool invokes a tool on the /mcp endpoint and decodes its JSON result into out.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  map[string]any{"name": name, "arguments": args},
	}
	var resp rpcResponse
	if err := c.do(ctx, http.MethodPost, "mcp", req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("tool %s: rpc error %d: %s", name, resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil || len(resp.Result.Content) == 0 {
		return fmt.Errorf("tool %s: empty result", name)
	}
	text := resp.Result.Content[0].Text
	if resp.Result.IsError {
		var failure struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(text), &failure); err != nil || failure.Error.Code == "" {
			return &ToolError{Tool: name, Message: text}
		}
		return &ToolError{Tool: name, Code: failure.Error.Code, Message: failure.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(text), out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}

// decodeAPIError understands both the structured envelope and the bare
// message the authentication boundary answers with.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var structured struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &structured) == nil && structured.Error.Code != "" {
		apiErr.Code = structured.Error.Code
		apiErr.Message = structured.Error.Message
		return apiErr
	}
	var bare struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &bare) == nil && bare.Error != "" {
		apiErr.Code = "unauthorized"
		apiErr.Message = bare.Error
	}
	return apiErr
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
