// Package models defines the core data types shared across the umd
// orchestration components: discovered files, scan results, exclusion
// rules, and per-file conversion state.
package models

import "time"

// MarkdownExt is the sidecar suffix appended to a source file to form
// its markdown output path.
const MarkdownExt = ".md"

// SupportedExtensions lists every file type umd can hand to a converter,
// lowercase and without the leading dot.
var SupportedExtensions = []string{
	"png", "jpg", "jpeg", "gif", "bmp", "webp", "tif", "tiff",
	"pdf", "docx", "pptx",
}

// IsSupportedExtension reports whether ext (lowercase, no dot) is a
// convertible file type.
func IsSupportedExtension(ext string) bool {
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// DiscoveredFile represents one convertible file found during a scan.
// Instances are created fresh on every scan and never mutated.
type DiscoveredFile struct {
	// Path is the absolute path to the source file.
	Path string `json:"path"`
	// Extension is the lowercase file extension without the dot.
	Extension string `json:"extension"`
	// Size is the file size in bytes.
	Size int64 `json:"size"`
	// ModTime is the file's last-modified timestamp.
	ModTime time.Time `json:"modTime"`
	// HasMarkdown reports whether the sidecar markdown file existed at
	// scan time. It is computed during the scan, never cached beyond it.
	HasMarkdown bool `json:"hasMarkdown"`
	// MarkdownPath is always Path + ".md".
	MarkdownPath string `json:"markdownPath"`
}

// ExcludedItem records a path skipped during a scan together with the
// rule that excluded it.
type ExcludedItem struct {
	Path   string `json:"path"`
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// ScanResult aggregates a single directory walk.
// Invariant: Files is partitioned exactly into Pending and Converted by
// each file's HasMarkdown flag.
type ScanResult struct {
	RootPath  string           `json:"rootPath"`
	Files     []DiscoveredFile `json:"files"`
	Pending   []DiscoveredFile `json:"pending"`
	Converted []DiscoveredFile `json:"converted"`
	// TotalFiles counts file entries visited during the walk, including
	// ones filtered out afterwards by extension or exclusion rules.
	TotalFiles int `json:"totalFiles"`
	// TotalDirs counts directories visited, including the root.
	TotalDirs int `json:"totalDirs"`
	// Errors holds non-fatal problems encountered during the walk.
	Errors []string `json:"errors,omitempty"`
	// Excluded lists paths removed by exclusion rules.
	Excluded []ExcludedItem `json:"excluded,omitempty"`
}

// CachedScan wraps a ScanResult for storage in the scan cache.
type CachedScan struct {
	Result    *ScanResult `json:"result"`
	ScannedAt time.Time   `json:"scannedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Expired reports whether the entry's expiry time has passed.
func (c *CachedScan) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
