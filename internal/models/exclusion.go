package models

import "time"

// Exclusion rule types. The type constrains how Pattern is interpreted.
const (
	// RuleFile matches a path by case-insensitive string equality.
	RuleFile = "file"
	// RuleDirectory matches a path equal to the pattern or anywhere
	// under it.
	RuleDirectory = "directory"
	// RulePattern matches a path against a glob compiled to a regexp.
	RulePattern = "pattern"
)

// ScopeGlobal marks a rule that applies to every scan root.
const ScopeGlobal = "global"

// ExclusionRule is a user-defined filter removing paths from scan results.
type ExclusionRule struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	Type      string    `json:"type"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidRuleType reports whether t is one of the three rule types.
func ValidRuleType(t string) bool {
	return t == RuleFile || t == RuleDirectory || t == RulePattern
}
