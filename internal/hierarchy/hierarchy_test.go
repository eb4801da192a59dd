package hierarchy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"agentline/internal/domain"
)

func agent(id string, typ domain.AgentType, parent string) domain.Agent {
	a := domain.Agent{ID: domain.AgentID(id), Name: id, Type: typ, HierarchyType: domain.HierarchyWorker}
	if parent != "" {
		p := domain.AgentID(parent)
		a.ParentAgentID = &p
	}
	return a
}

// chain builds human H -> ai X -> ai Y -> human H2 -> ai Z.
func chain() Agents {
	return FromSlice([]domain.Agent{
		agent("H", domain.AgentTypeHuman, ""),
		agent("X", domain.AgentTypeAI, "H"),
		agent("Y", domain.AgentTypeAI, "X"),
		agent("H2", domain.AgentTypeHuman, "Y"),
		agent("Z", domain.AgentTypeAI, "H2"),
	})
}

func ids(list []domain.Agent) []domain.AgentID {
	out := make([]domain.AgentID, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

func TestIsAncestorOfChain(t *testing.T) {
	agents := chain()
	cases := []struct {
		ancestor, descendant string
		want                 bool
	}{
		{"H", "X", true},
		{"H", "Z", true},
		{"Y", "Z", true},
		{"X", "H", false},
		{"Z", "H2", false},
		{"H", "unknown", false},
	}
	for _, tc := range cases {
		got, err := IsAncestorOf(domain.AgentID(tc.ancestor), domain.AgentID(tc.descendant), agents)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%s ancestor of %s", tc.ancestor, tc.descendant)
	}
}

func TestAgentIsNeverItsOwnAncestor(t *testing.T) {
	agents := chain()
	for id := range agents {
		got, err := IsAncestorOf(id, id, agents)
		require.NoError(t, err)
		require.False(t, got)
	}
	// even when the chain loops back to itself
	looped := FromSlice([]domain.Agent{agent("A", domain.AgentTypeAI, "B"), agent("B", domain.AgentTypeAI, "A")})
	got, err := IsAncestorOf("A", "A", looped)
	require.NoError(t, err)
	require.False(t, got)
}

func TestIsAncestorOfBrokenChain(t *testing.T) {
	agents := FromSlice([]domain.Agent{agent("A", domain.AgentTypeAI, "missing")})
	got, err := IsAncestorOf("root", "A", agents)
	require.NoError(t, err)
	require.False(t, got)
}

func TestIsAncestorOfDetectsCycle(t *testing.T) {
	agents := FromSlice([]domain.Agent{
		agent("A", domain.AgentTypeAI, "B"),
		agent("B", domain.AgentTypeAI, "C"),
		agent("C", domain.AgentTypeAI, "A"),
	})
	_, err := IsAncestorOf("outsider", "A", agents)
	var cyc CyclicHierarchyError
	require.True(t, errors.As(err, &cyc))
}

func TestManagedAgentsStopsAtNextHuman(t *testing.T) {
	agents := chain()
	managed, err := ManagedAgents("H", agents)
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.AgentID{"X", "Y"}, ids(managed))

	managed, err = ManagedAgents("H2", agents)
	require.NoError(t, err)
	require.Equal(t, []domain.AgentID{"Z"}, ids(managed))
}

func TestManagedAgentsRequiresHumanRoot(t *testing.T) {
	_, err := ManagedAgents("X", chain())
	var ve ValidationError
	require.True(t, errors.As(err, &ve))

	_, err = ManagedAgents("nobody", chain())
	require.True(t, errors.As(err, &ve))
}

func TestManagedAgentsBranches(t *testing.T) {
	agents := FromSlice([]domain.Agent{
		agent("H", domain.AgentTypeHuman, ""),
		agent("A", domain.AgentTypeAI, "H"),
		agent("B", domain.AgentTypeAI, "H"),
		agent("A1", domain.AgentTypeAI, "A"),
		agent("HB", domain.AgentTypeHuman, "B"),
		agent("HB1", domain.AgentTypeAI, "HB"),
	})
	managed, err := ManagedAgents("H", agents)
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.AgentID{"A", "B", "A1"}, ids(managed))
}

func TestDescendantsIncludesHumans(t *testing.T) {
	all, err := Descendants("X", chain())
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.AgentID{"Y", "H2", "Z"}, ids(all))
}

func TestManages(t *testing.T) {
	agents := chain()
	ok, err := Manages("H", "Y", agents)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Manages("H", "Z", agents)
	require.NoError(t, err)
	require.False(t, ok, "Z sits below another human")

	ok, err = Manages("X", "Z", agents)
	require.NoError(t, err)
	require.True(t, ok, "AI managers reach their whole subtree")

	ok, err = Manages("X", "X", agents)
	require.NoError(t, err)
	require.False(t, ok)
}
