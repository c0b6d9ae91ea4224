// Package scanner implements directory discovery: it walks a tree,
// applies extension and exclusion filtering, and classifies each
// convertible file as pending or already converted.
package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/umd/internal/exclusion"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
)

// ErrNotDirectory is returned when the scan root exists but is a file.
var ErrNotDirectory = errors.New("path is not a directory")

// Options configures a scan. The zero value of Recursive is overridden
// by DefaultOptions; use that as a starting point.
type Options struct {
	// Recursive enables descent into subdirectories.
	Recursive bool
	// Extensions restricts the scan to these types (lowercase, no dot).
	// Empty means every supported extension.
	Extensions []string
	// MaxDepth limits descent (0 = unbounded; 1 = root plus one level).
	MaxDepth int
	// ExcludeDirs overrides the built-in noise-directory list. Nil keeps
	// the defaults.
	ExcludeDirs []string
	// Custom is consulted before any other exclusion rule.
	Custom exclusion.CustomMatcher
}

// DefaultOptions returns the options used when a request leaves fields
// unset: recursive, unbounded depth, full supported extension set.
func DefaultOptions() Options {
	return Options{Recursive: true}
}

// Scanner walks directory trees. It holds no per-scan state and is safe
// for concurrent use.
type Scanner struct {
	rules RuleSource
	log   logger.Logger
}

// RuleSource supplies the exclusion scope chain for a scan root.
type RuleSource interface {
	MatcherForRoot(root string, custom exclusion.CustomMatcher) *exclusion.Matcher
}

// NewScanner creates a Scanner consulting the given rule source.
func NewScanner(rules RuleSource, log logger.Logger) *Scanner {
	return &Scanner{rules: rules, log: log}
}

// dirFrame is one pending directory on the explicit work stack. Walking
// iteratively keeps pathological tree depths from exhausting the call
// stack.
type dirFrame struct {
	path  string
	depth int
}

// Scan walks rootPath and returns the discovered files partitioned into
// pending and converted. Only two failures are fatal: a missing root and
// a root that is not a directory. Everything else accumulates into
// result.Errors.
func (s *Scanner) Scan(rootPath string, opts Options) (*models.ScanResult, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("scan root %s: %w", rootPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %s: %w", rootPath, ErrNotDirectory)
	}

	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root %s: %w", rootPath, err)
	}

	allowed := extensionSet(opts.Extensions)
	matcher := s.rules.MatcherForRoot(root, opts.Custom)

	result := &models.ScanResult{
		RootPath: root,
		Files:    []models.DiscoveredFile{},
	}

	stack := []dirFrame{{path: root, depth: 0}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		result.TotalDirs++

		entries, err := os.ReadDir(frame.path)
		if err != nil {
			// A subtree we cannot list is skipped, not fatal.
			result.Errors = append(result.Errors, fmt.Sprintf("read %s: %v", frame.path, err))
			continue
		}

		var subdirs []dirFrame
		for _, entry := range entries {
			path := filepath.Join(frame.path, entry.Name())
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = ""
			}

			if entry.IsDir() {
				if hit := matcher.MatchDir(path, rel, entry.Name(), opts.ExcludeDirs); hit != nil {
					result.Excluded = append(result.Excluded, models.ExcludedItem{
						Path: path, Rule: hit.Rule, Reason: hit.Reason,
					})
					continue
				}
				if opts.Recursive && (opts.MaxDepth == 0 || frame.depth+1 <= opts.MaxDepth) {
					subdirs = append(subdirs, dirFrame{path: path, depth: frame.depth + 1})
				}
				continue
			}

			result.TotalFiles++
			file, excluded := s.inspectFile(path, rel, entry.Name(), allowed, matcher, result)
			if excluded != nil {
				result.Excluded = append(result.Excluded, *excluded)
			}
			if file != nil {
				result.Files = append(result.Files, *file)
			}
		}

		// Push in reverse so the stack pops subdirectories in ReadDir's
		// lexicographic order, keeping enumeration stable between scans.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	partition(result)

	logger.Debugf(s.log, "scanned %s: %d files (%d pending), %d dirs, %d excluded, %d errors",
		root, len(result.Files), len(result.Pending), result.TotalDirs,
		len(result.Excluded), len(result.Errors))

	return result, nil
}

// inspectFile applies the file-level filters and builds a DiscoveredFile.
// It returns (nil, nil) for silently skipped entries.
func (s *Scanner) inspectFile(path, rel, name string, allowed map[string]bool,
	matcher *exclusion.Matcher, result *models.ScanResult) (*models.DiscoveredFile, *models.ExcludedItem) {

	// Office lock files are transient editor artifacts.
	if strings.HasPrefix(name, "~$") {
		return nil, nil
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	// Markdown files are outputs, never scan targets.
	if ext == "md" {
		return nil, nil
	}
	if !models.IsSupportedExtension(ext) {
		return nil, nil
	}
	if len(allowed) > 0 && !allowed[ext] {
		return nil, nil
	}

	if hit := matcher.MatchFile(path, rel); hit != nil {
		return nil, &models.ExcludedItem{Path: path, Rule: hit.Rule, Reason: hit.Reason}
	}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("stat %s: %v", path, err))
		return nil, nil
	}

	markdownPath := path + models.MarkdownExt
	_, mdErr := os.Stat(markdownPath)

	return &models.DiscoveredFile{
		Path:         path,
		Extension:    ext,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		HasMarkdown:  mdErr == nil,
		MarkdownPath: markdownPath,
	}, nil
}

// partition splits Files into Pending and Converted by HasMarkdown.
func partition(result *models.ScanResult) {
	result.Pending = make([]models.DiscoveredFile, 0, len(result.Files))
	result.Converted = make([]models.DiscoveredFile, 0)
	for _, f := range result.Files {
		if f.HasMarkdown {
			result.Converted = append(result.Converted, f)
		} else {
			result.Pending = append(result.Pending, f)
		}
	}
}

// extensionSet normalizes an extension allow-list to a lookup map.
func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return set
}
