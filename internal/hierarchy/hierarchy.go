// Package hierarchy answers reporting-line questions over the agent parent chain.
package hierarchy

import (
	"fmt"
	"sort"

	"agentline/internal/domain"
)

// Agents is the arena of agent records the resolver walks, keyed by id.
type Agents map[domain.AgentID]domain.Agent

// FromSlice indexes agents by id.
func FromSlice(list []domain.Agent) Agents {
	out := make(Agents, len(list))
	for _, a := range list {
		out[a.ID] = a
	}
	return out
}

// ValidationError indicates a query precondition was not met.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// CyclicHierarchyError is returned when a parent chain revisits an agent.
type CyclicHierarchyError struct {
	AgentID domain.AgentID
}

func (e CyclicHierarchyError) Error() string {
	return fmt.Sprintf("agent hierarchy cycle detected at %s", e.AgentID)
}

// IsAncestorOf reports whether ancestor appears on descendant's parent chain.
// A missing link ends the chain. An agent is never its own ancestor.
func IsAncestorOf(ancestor, descendant domain.AgentID, agents Agents) (bool, error) {
	if ancestor == descendant {
		return false, nil
	}
	cur, ok := agents[descendant]
	if !ok {
		return false, nil
	}
	visited := map[domain.AgentID]struct{}{descendant: {}}
	for cur.ParentAgentID != nil {
		parentID := *cur.ParentAgentID
		if parentID == ancestor {
			return true, nil
		}
		if _, seen := visited[parentID]; seen {
			return false, CyclicHierarchyError{AgentID: parentID}
		}
		visited[parentID] = struct{}{}
		parent, ok := agents[parentID]
		if !ok {
			return false, nil
		}
		cur = parent
	}
	return false, nil
}

// ManagedAgents returns the AI agents a human manages: every AI descendant
// reachable without passing through another human.
func ManagedAgents(root domain.AgentID, agents Agents) ([]domain.Agent, error) {
	rootAgent, ok := agents[root]
	if !ok {
		return nil, ValidationError{Message: fmt.Sprintf("agent %s not found", root)}
	}
	if rootAgent.Type != domain.AgentTypeHuman {
		return nil, ValidationError{Message: fmt.Sprintf("agent %s is not a human agent", root)}
	}
	children := childIndex(agents)
	visited := map[domain.AgentID]struct{}{root: {}}
	var out []domain.Agent
	stack := append([]domain.AgentID(nil), children[root]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[id]; seen {
			return nil, CyclicHierarchyError{AgentID: id}
		}
		visited[id] = struct{}{}
		a := agents[id]
		if a.Type == domain.AgentTypeHuman {
			continue
		}
		out = append(out, a)
		stack = append(stack, children[id]...)
	}
	sortByID(out)
	return out, nil
}

// Descendants returns every agent below root regardless of type.
func Descendants(root domain.AgentID, agents Agents) ([]domain.Agent, error) {
	children := childIndex(agents)
	visited := map[domain.AgentID]struct{}{root: {}}
	var out []domain.Agent
	queue := append([]domain.AgentID(nil), children[root]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := visited[id]; seen {
			return nil, CyclicHierarchyError{AgentID: id}
		}
		visited[id] = struct{}{}
		out = append(out, agents[id])
		queue = append(queue, children[id]...)
	}
	sortByID(out)
	return out, nil
}

// Manages reports whether manager's reporting surface contains target.
// Humans manage their ManagedAgents set; AI managers manage their descendants.
func Manages(manager, target domain.AgentID, agents Agents) (bool, error) {
	if manager == target {
		return false, nil
	}
	m, ok := agents[manager]
	if !ok {
		return false, nil
	}
	if m.Type == domain.AgentTypeHuman {
		managed, err := ManagedAgents(manager, agents)
		if err != nil {
			return false, err
		}
		for _, a := range managed {
			if a.ID == target {
				return true, nil
			}
		}
		return false, nil
	}
	return IsAncestorOf(manager, target, agents)
}

func childIndex(agents Agents) map[domain.AgentID][]domain.AgentID {
	children := make(map[domain.AgentID][]domain.AgentID)
	for id, a := range agents {
		if a.ParentAgentID == nil {
			continue
		}
		children[*a.ParentAgentID] = append(children[*a.ParentAgentID], id)
	}
	for k := range children {
		ids := children[k]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return children
}

func sortByID(list []domain.Agent) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
