// Package exclusion evaluates scan paths against user-defined and
// built-in exclusion rules and manages the persisted rule set.
package exclusion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
)

// DefaultExcludedDirs are directory names skipped on every scan unless a
// caller overrides the list.
var DefaultExcludedDirs = []string{
	"node_modules", ".git", ".svn", ".hg", "__pycache__",
	".venv", "venv", "dist", "build", "target", "vendor",
	"$RECYCLE.BIN", "System Volume Information",
}

// recoveryDirPattern matches Windows chkdsk recovery directories
// (found.000, found.001, ...).
var recoveryDirPattern = regexp.MustCompile(`(?i)^found\.\d+$`)

// Match describes why a path was excluded.
type Match struct {
	Rule   string
	Reason string
}

// CustomMatcher lets a call site veto or exclude paths ahead of the
// default and user rules. Returning a non-nil Match excludes the path.
type CustomMatcher func(path string, isDir bool) *Match

// Matcher evaluates paths against a rule chain: a custom callback first,
// then built-in defaults, then user rules in insertion order. First
// match wins.
type Matcher struct {
	rules  []models.ExclusionRule
	custom CustomMatcher
	log    logger.Logger
}

// NewMatcher builds a matcher over the given user rules.
func NewMatcher(rules []models.ExclusionRule, custom CustomMatcher, log logger.Logger) *Matcher {
	return &Matcher{rules: rules, custom: custom, log: log}
}

// MatchDir evaluates a directory path plus its base name against the
// chain. name is checked against the built-in directory list and the
// recovery-dir pattern; path (and its root-relative form rel, when
// non-empty) is checked against user rules.
func (m *Matcher) MatchDir(path, rel, name string, excludeDirs []string) *Match {
	if m.custom != nil {
		if hit := m.custom(path, true); hit != nil {
			return hit
		}
	}

	dirs := excludeDirs
	if dirs == nil {
		dirs = DefaultExcludedDirs
	}
	for _, d := range dirs {
		if strings.EqualFold(name, d) {
			return &Match{Rule: d, Reason: fmt.Sprintf("directory %q is in the default exclusion list", name)}
		}
	}

	if recoveryDirPattern.MatchString(name) {
		return &Match{Rule: "found.*", Reason: fmt.Sprintf("directory %q looks like a disk recovery directory", name)}
	}

	return m.matchRules(path, rel)
}

// MatchFile evaluates a file path (and its root-relative form rel, when
// non-empty) against the chain.
func (m *Matcher) MatchFile(path, rel string) *Match {
	if m.custom != nil {
		if hit := m.custom(path, false); hit != nil {
			return hit
		}
	}
	return m.matchRules(path, rel)
}

// matchRules walks user rules in insertion order and returns the first
// hit. Every rule kind is tried against both the full path and the
// root-relative path, so a rule may be spelled either way: a directory
// rule "drafts" excludes <root>/drafts just as "/abs/root/drafts" does,
// and globs like "*.tmp" apply within a scan. A malformed glob never
// aborts matching; it is logged and skipped.
func (m *Matcher) matchRules(path, rel string) *Match {
	normalized := normalizePath(path)
	relative := normalizePath(rel)

	for _, rule := range m.rules {
		switch rule.Type {
		case models.RuleFile:
			target := normalizePath(rule.Pattern)
			if strings.EqualFold(normalized, target) ||
				(relative != "" && strings.EqualFold(relative, target)) {
				return &Match{Rule: rule.Pattern, Reason: fmt.Sprintf("matches excluded file %q", rule.Pattern)}
			}

		case models.RuleDirectory:
			prefix := normalizePath(rule.Pattern)
			if underDirectory(normalized, prefix) ||
				(relative != "" && underDirectory(relative, prefix)) {
				return &Match{Rule: rule.Pattern, Reason: fmt.Sprintf("inside excluded directory %q", rule.Pattern)}
			}

		case models.RulePattern:
			re, err := CompileGlob(rule.Pattern)
			if err != nil {
				logger.Warnf(m.log, "skipping malformed exclusion pattern %q: %v", rule.Pattern, err)
				continue
			}
			if re.MatchString(normalized) || (relative != "" && re.MatchString(relative)) {
				return &Match{Rule: rule.Pattern, Reason: fmt.Sprintf("matches pattern %q", rule.Pattern)}
			}
		}
	}

	return nil
}

// underDirectory reports whether path is prefix itself or sits anywhere
// beneath it, comparing case-insensitively on segment boundaries.
func underDirectory(path, prefix string) bool {
	return strings.EqualFold(path, prefix) ||
		strings.HasPrefix(strings.ToLower(path), strings.ToLower(prefix)+"/")
}

// normalizePath converts path separators to forward slashes and trims
// any trailing slash so rule comparisons behave identically on every
// platform.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimSuffix(p, "/")
}

// CompileGlob translates an exclusion glob to an anchored,
// case-insensitive regular expression. "*" matches any run of
// characters within one path segment, "**/" matches zero or more
// leading segments, a trailing "**" matches the remainder of the
// path, and "?" matches exactly one non-separator character.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	p := normalizePath(pattern)

	var sb strings.Builder
	sb.WriteString("(?i)^")

	for i := 0; i < len(p); {
		switch {
		case strings.HasPrefix(p[i:], "**/"):
			// Zero or more whole segments.
			sb.WriteString(`([^/]+/)*`)
			i += 3
		case strings.HasPrefix(p[i:], "**"):
			if i+2 != len(p) {
				return nil, fmt.Errorf("invalid pattern %q: ** must be a trailing component or followed by /", pattern)
			}
			sb.WriteString(`.*`)
			i += 2
		case p[i] == '*':
			sb.WriteString(`[^/]*`)
			i++
		case p[i] == '?':
			sb.WriteString(`[^/]`)
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(p[i])))
			i++
		}
	}

	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
