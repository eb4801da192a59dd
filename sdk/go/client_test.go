package agentlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoginKeepsTokenAndLogoutDropsIt(t *testing.T) {
	var seenAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = append(seenAuth, r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v0/auth/session":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "prj_1", body["project_id"])
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"session_id":"ses_1","token":"alt_abc","caller":"worker","agent":{"id":"agt_1"}}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/v0/auth/session":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "prj_1")
	s, err := c.Login(context.Background(), "agt_1", "pw")
	require.NoError(t, err)
	require.Equal(t, "alt_abc", s.Token)
	require.Equal(t, "alt_abc", c.Token)

	require.NoError(t, c.Logout(context.Background()))
	require.Empty(t, c.Token)
	require.Equal(t, []string{"", "Bearer alt_abc"}, seenAuth)
}

func TestErrorsDecodeBothShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v0/me" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"Session expired"}`)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":"forbidden","message":"tool \"pause_project\" requires the coordinator"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "prj_1")
	_, err := c.Me(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "Session expired", apiErr.Message)

	_, err = c.PauseProject(context.Background())
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "forbidden", apiErr.Code)
}

func TestEventsPageSendsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/projects/prj_1/events", r.URL.Path)
		require.Equal(t, "7", r.URL.Query().Get("after_seq"))
		require.Equal(t, "2", r.URL.Query().Get("limit"))
		io.WriteString(w, `{"items":[{"seq":8,"event_type":"created"}],"next_cursor":"8"}`)
	}))
	defer srv.Close()

	page, err := New(srv.URL, "prj_1").EventsPage(context.Background(), 2, "7")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, int64(8), page.Items[0].Seq)
	require.Equal(t, "8", page.NextCursor)
}

func TestCallTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mcp", r.URL.Path)
		var req struct {
			Method string `json:"method"`
			Params struct {
				Name string `json:"name"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tools/call", req.Method)
		w.Header().Set("Content-Type", "application/json")
		if req.Params.Name == "kick_agent" {
			io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"{\"error\":{\"code\":\"kick_failed\",\"message\":\"agent CLI not found: claude\"}}"}]}}`)
			return
		}
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{\"caller\":\"worker\"}"}]}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "prj_1")
	var out struct {
		Caller string `json:"caller"`
	}
	require.NoError(t, c.CallTool(context.Background(), "list_tools", nil, &out))
	require.Equal(t, "worker", out.Caller)

	err := c.CallTool(context.Background(), "kick_agent", map[string]any{"task_id": "tsk_1"}, nil)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	require.Equal(t, "kick_failed", toolErr.Code)
}
