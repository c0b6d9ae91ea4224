package exclusion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/umd/internal/filelock"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
)

// RulesFileName is the JSON file the rule set is mirrored to.
const RulesFileName = "exclusions.json"

// ErrRuleNotFound is returned when a rule ID does not exist.
var ErrRuleNotFound = errors.New("exclusion rule not found")

// Service owns the exclusion rule set, in memory and on disk. Rules are
// read on every scan but mutated only by explicit user actions, so a
// RWMutex over a plain slice is enough.
type Service struct {
	path  string
	log   logger.Logger
	mu    sync.RWMutex
	rules []models.ExclusionRule
}

// NewService loads exclusions.json from dataDir. A missing file yields an
// empty rule set; a corrupt file is logged and ignored rather than
// failing startup.
func NewService(dataDir string, log logger.Logger) *Service {
	s := &Service{
		path: filepath.Join(dataDir, RulesFileName),
		log:  log,
	}
	s.load()
	return s
}

func (s *Service) load() {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warnf(s.log, "failed to read %s, starting with no exclusion rules: %v", s.path, err)
		return
	}

	var rules []models.ExclusionRule
	if err := json.Unmarshal(data, &rules); err != nil {
		logger.Warnf(s.log, "failed to parse %s, starting with no exclusion rules: %v", s.path, err)
		return
	}
	s.rules = rules
}

// persist mirrors the rule set to disk. The caller must hold the lock.
func (s *Service) persist() {
	data, err := json.MarshalIndent(s.rules, "", "  ")
	if err != nil {
		logger.Errorf(s.log, "failed to marshal exclusion rules: %v", err)
		return
	}
	if err := filelock.WriteLocked(s.path, data); err != nil {
		logger.Errorf(s.log, "failed to persist exclusion rules: %v", err)
	}
}

// Add creates a new rule and persists the set. The pattern is validated
// eagerly for pattern rules so a bad glob is rejected at creation time.
func (s *Service) Add(pattern, ruleType, scope string) (models.ExclusionRule, error) {
	if pattern == "" {
		return models.ExclusionRule{}, fmt.Errorf("pattern is required")
	}
	if !models.ValidRuleType(ruleType) {
		return models.ExclusionRule{}, fmt.Errorf("invalid rule type %q", ruleType)
	}
	if ruleType == models.RulePattern {
		if _, err := CompileGlob(pattern); err != nil {
			return models.ExclusionRule{}, err
		}
	}
	if scope == "" {
		scope = models.ScopeGlobal
	}

	rule := models.ExclusionRule{
		ID:        uuid.NewString(),
		Pattern:   pattern,
		Type:      ruleType,
		Scope:     scope,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	s.persist()
	return rule, nil
}

// Update modifies an existing rule in place and persists the set.
func (s *Service) Update(id, pattern, ruleType, scope string) (models.ExclusionRule, error) {
	if pattern == "" {
		return models.ExclusionRule{}, fmt.Errorf("pattern is required")
	}
	if !models.ValidRuleType(ruleType) {
		return models.ExclusionRule{}, fmt.Errorf("invalid rule type %q", ruleType)
	}
	if ruleType == models.RulePattern {
		if _, err := CompileGlob(pattern); err != nil {
			return models.ExclusionRule{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].Pattern = pattern
			s.rules[i].Type = ruleType
			if scope != "" {
				s.rules[i].Scope = scope
			}
			s.persist()
			return s.rules[i], nil
		}
	}
	return models.ExclusionRule{}, ErrRuleNotFound
}

// Remove deletes a rule by ID and persists the set.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			s.persist()
			return nil
		}
	}
	return ErrRuleNotFound
}

// List returns a copy of every rule in insertion order.
func (s *Service) List() []models.ExclusionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExclusionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// RulesForRoot returns the scope chain for a scan root: global rules plus
// rules scoped to that root, in insertion order.
func (s *Service) RulesForRoot(root string) []models.ExclusionRule {
	normalized := normalizePath(root)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ExclusionRule
	for _, r := range s.rules {
		if r.Scope == models.ScopeGlobal || strings.EqualFold(normalizePath(r.Scope), normalized) {
			out = append(out, r)
		}
	}
	return out
}

// MatcherForRoot builds a Matcher over the scope chain for root.
func (s *Service) MatcherForRoot(root string, custom CustomMatcher) *Matcher {
	return NewMatcher(s.RulesForRoot(root), custom, s.log)
}
