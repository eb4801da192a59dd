package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func callers() map[string]Caller {
	return map[string]Caller{
		"coordinator":     Coordinator{},
		"manager":         Manager{AgentID: "agt_m"},
		"worker":          Worker{AgentID: "agt_w"},
		"unauthenticated": Unauthenticated{},
	}
}

func requireDenial(t *testing.T, err error, kind DenialKind) {
	t.Helper()
	var ae AuthorizationError
	require.True(t, errors.As(err, &ae), "expected AuthorizationError, got %v", err)
	require.Equal(t, kind, ae.Kind)
}

func TestAuthorizeMatrix(t *testing.T) {
	table := NewPermissionTable(map[string]Permission{
		"coord":  CoordinatorOnly,
		"mgr":    ManagerOnly,
		"wrk":    WorkerOnly,
		"authed": Authenticated,
		"open":   Public,
	})
	a := NewAuthorizer(table)
	cases := []struct {
		tool   string
		caller string
		want   DenialKind // empty means allowed
	}{
		{"open", "coordinator", ""},
		{"open", "manager", ""},
		{"open", "worker", ""},
		{"open", "unauthenticated", ""},

		{"coord", "coordinator", ""},
		{"coord", "manager", CoordinatorRequired},
		{"coord", "worker", CoordinatorRequired},
		{"coord", "unauthenticated", CoordinatorRequired},

		{"mgr", "manager", ""},
		{"mgr", "coordinator", ManagerRequired},
		{"mgr", "worker", ManagerRequired},
		{"mgr", "unauthenticated", AuthenticationRequired},

		{"wrk", "worker", ""},
		{"wrk", "coordinator", WorkerRequired},
		{"wrk", "manager", WorkerRequired},
		{"wrk", "unauthenticated", AuthenticationRequired},

		{"authed", "manager", ""},
		{"authed", "worker", ""},
		{"authed", "coordinator", AuthenticationRequired},
		{"authed", "unauthenticated", AuthenticationRequired},
	}
	all := callers()
	for _, tc := range cases {
		err := a.Authorize(tc.tool, all[tc.caller])
		if tc.want == "" {
			require.NoError(t, err, "%s as %s", tc.tool, tc.caller)
			continue
		}
		requireDenial(t, err, tc.want)
	}
}

func TestUnknownToolFailsClosed(t *testing.T) {
	a := NewAuthorizer(nil)
	for name, c := range callers() {
		err := a.Authorize("delete_everything", c)
		requireDenial(t, err, ToolNotRegistered)
		require.Contains(t, err.Error(), "delete_everything", name)
	}
}

func TestDefaultTableExamples(t *testing.T) {
	a := NewAuthorizer(DefaultPermissions())
	requireDenial(t, a.Authorize("health_check", Manager{AgentID: "agt_m"}), CoordinatorRequired)
	requireDenial(t, a.Authorize("assign_task", Worker{AgentID: "agt_w"}), ManagerRequired)
	require.NoError(t, a.Authorize("report_completed", Worker{AgentID: "agt_w"}))
	require.NoError(t, a.Authorize("authenticate", nil))
}

func TestAuthorizeIsDeterministic(t *testing.T) {
	a := NewAuthorizer(DefaultPermissions())
	for _, tool := range DefaultPermissions().Tools() {
		for name, c := range callers() {
			first := a.Authorize(tool, c)
			for i := 0; i < 5; i++ {
				require.Equal(t, first, a.Authorize(tool, c), "%s as %s", tool, name)
			}
		}
	}
}

func TestPermissionTableIsCopied(t *testing.T) {
	src := map[string]Permission{"x": Public}
	table := NewPermissionTable(src)
	src["x"] = CoordinatorOnly
	src["y"] = Public
	p, ok := table.Lookup("x")
	require.True(t, ok)
	require.Equal(t, Public, p)
	_, ok = table.Lookup("y")
	require.False(t, ok)
}

func TestNotSubordinateMessage(t *testing.T) {
	err := NotSubordinateError("agt_m", "agt_t")
	require.Equal(t, NotSubordinate, err.Kind)
	require.Contains(t, err.Error(), "agt_t")
	require.Contains(t, err.Error(), "agt_m")
}

func TestCallerClassification(t *testing.T) {
	require.Equal(t, "unauthenticated", KindOf(nil))
	_, _, ok := AgentIdentity(Coordinator{})
	require.False(t, ok)
	id, _, ok := AgentIdentity(Worker{AgentID: "agt_w"})
	require.True(t, ok)
	require.Equal(t, "agt_w", id.String())
}
