package memory

import "fmt"

// CanAccess is the read-side access-control predicate. It is pure and must
// stay in lockstep with accessClause below: the SQL filter is the same
// predicate pushed into the search WHERE so filtering composes with the
// vector index traversal instead of running over an oversized candidate
// set.
func CanAccess(m *Memory, requestingAgentID string) bool {
	if m.Scope == ScopeGlobal {
		return true
	}
	if requestingAgentID == "" {
		return false
	}
	switch m.Scope {
	case ScopeAgentPrivate:
		return m.AgentID == requestingAgentID
	case ScopeAgentShared:
		if m.AgentID == requestingAgentID {
			return true
		}
		for _, a := range m.SharedWithAgents {
			if a == requestingAgentID {
				return true
			}
		}
	}
	return false
}

// accessClause renders CanAccess as a SQL predicate over alias m, appending
// bind args. The shared-with membership check goes through the normalized
// memory_shared_agents join table, not the jsonb column.
func accessClause(requestingAgentID string, args []any) (string, []any) {
	if requestingAgentID == "" {
		return fmt.Sprintf("m.scope = $%d", len(args)+1), append(args, string(ScopeGlobal))
	}
	agentArg := len(args) + 1
	clause := fmt.Sprintf(`(m.scope = '%s'
		OR (m.scope = '%s' AND m.agent_id = $%d)
		OR (m.scope = '%s' AND (m.agent_id = $%d OR EXISTS (
			SELECT 1 FROM memory_shared_agents s
			WHERE s.memory_id = m.id AND s.agent_id = $%d))))`,
		ScopeGlobal, ScopeAgentPrivate, agentArg, ScopeAgentShared, agentArg, agentArg)
	return clause, append(args, requestingAgentID)
}
