package memory

import (
	"encoding/json"
	"strings"
)

// Keyword tables for the scope heuristic. Matching is case-insensitive
// substring counting; the tables are fixed so inference stays deterministic
// and explainable.
var globalKeywords = []string{
	"everyone",
	"all agents",
	"team",
	"global",
	"shared",
	"public",
	"organization",
	"policy",
	"convention",
	"best practice",
	"standard practice",
}

var privateKeywords = []string{
	"my ",
	"private",
	"personal",
	"internal",
	"confidential",
	"do not share",
	"only for me",
	"draft",
}

// Tag hints take precedence over content analysis.
var globalTags = map[string]bool{"global": true, "team": true, "shared": true, "public": true}
var privateTags = map[string]bool{"private": true, "internal": true, "personal": true}

// minGlobalKeywordHits is the floor for classifying global from content
// alone: the global count must reach it AND strictly exceed the private
// count.
const minGlobalKeywordHits = 2

// InferScope assigns a visibility scope when the caller did not supply one.
//
// Precedence: explicit scope > metadata tag hints > keyword counts >
// shared_with_agents presence > agent-private default. A privacy signal is
// never widened: if inference lands on an agent scope the caller must have
// supplied an agent id, and the write is rejected upstream otherwise. Only
// the no-signal default depends on ownership, since an anonymous principal
// can read nothing but global.
func InferScope(content string, explicit Scope, agentID string, sharedWith []string, meta json.RawMessage) Scope {
	if explicit != "" {
		return explicit
	}

	if tag := tagHint(meta); tag != "" {
		return tag
	}

	lower := strings.ToLower(content)
	globalCount := countMatches(lower, globalKeywords)
	privateCount := countMatches(lower, privateKeywords)
	switch {
	case globalCount >= minGlobalKeywordHits && globalCount > privateCount:
		return ScopeGlobal
	case privateCount > globalCount:
		return ScopeAgentPrivate
	}

	if len(sharedWith) > 0 {
		return ScopeAgentShared
	}

	if agentID == "" {
		return ScopeGlobal
	}
	return ScopeAgentPrivate
}

func tagHint(meta json.RawMessage) Scope {
	if len(meta) == 0 {
		return ""
	}
	var payload struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(meta, &payload); err != nil {
		return ""
	}
	for _, t := range payload.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if globalTags[t] {
			return ScopeGlobal
		}
		if privateTags[t] {
			return ScopeAgentPrivate
		}
	}
	return ""
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(text, kw)
	}
	return n
}
