// Package scancache provides a TTL-bounded cache of scan results keyed by
// normalized root path, mirrored to a JSON file so a restart can reuse
// still-fresh scans.
package scancache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harrison/umd/internal/filelock"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
)

// CacheFileName is the JSON mirror inside the data directory.
const CacheFileName = "scan-cache.json"

// DefaultTTL bounds entry lifetime when a Set caller does not specify one.
const DefaultTTL = 5 * time.Minute

// Cache is a mutex-guarded map of root path to cached scan. Reads
// dominate writes (scans are user actions), so RWMutex is sufficient.
type Cache struct {
	path string
	ttl  time.Duration
	log  logger.Logger

	mu      sync.RWMutex
	entries map[string]*models.CachedScan

	// now is swappable for expiry tests.
	now func() time.Time
}

// New loads the persisted cache from dataDir, silently dropping entries
// that expired while the process was down. A corrupt mirror is logged
// and replaced by an empty cache.
func New(dataDir string, ttl time.Duration, log logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		path:    filepath.Join(dataDir, CacheFileName),
		ttl:     ttl,
		log:     log,
		entries: make(map[string]*models.CachedScan),
		now:     time.Now,
	}
	c.load()
	return c
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warnf(c.log, "failed to read %s, starting with an empty scan cache: %v", c.path, err)
		return
	}

	var persisted []*models.CachedScan
	if err := json.Unmarshal(data, &persisted); err != nil {
		logger.Warnf(c.log, "failed to parse %s, starting with an empty scan cache: %v", c.path, err)
		return
	}

	now := c.now()
	for _, entry := range persisted {
		if entry == nil || entry.Result == nil || entry.Expired(now) {
			continue
		}
		c.entries[normalizeKey(entry.Result.RootPath)] = entry
	}
}

// persist mirrors the cache to disk as an array of entries, ordered by
// root path so the file is stable between writes. The caller must hold
// the write lock.
func (c *Cache) persist() {
	entries := make([]*models.CachedScan, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Result.RootPath < entries[j].Result.RootPath
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		logger.Errorf(c.log, "failed to marshal scan cache: %v", err)
		return
	}
	if err := filelock.WriteLocked(c.path, data); err != nil {
		logger.Errorf(c.log, "failed to persist scan cache: %v", err)
	}
}

// normalizeKey cleans the path and unifies separators so equivalent
// spellings of the same root collide.
func normalizeKey(rootPath string) string {
	cleaned := filepath.Clean(rootPath)
	return strings.TrimSuffix(strings.ReplaceAll(cleaned, "\\", "/"), "/")
}

// Get returns the cached scan for rootPath, lazily evicting it when
// expired. A miss returns nil.
func (c *Cache) Get(rootPath string) *models.CachedScan {
	key := normalizeKey(rootPath)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	if entry.Expired(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have replaced it.
		if cur, still := c.entries[key]; still && cur.Expired(c.now()) {
			delete(c.entries, key)
			c.persist()
		}
		c.mu.Unlock()
		return nil
	}

	return entry
}

// Set stores a scan result. ttl <= 0 uses the cache's configured TTL.
func (c *Cache) Set(rootPath string, result *models.ScanResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	entry := &models.CachedScan{
		Result:    result,
		ScannedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalizeKey(rootPath)] = entry
	c.persist()
}

// Invalidate removes the entry for rootPath and reports whether one
// existed.
func (c *Cache) Invalidate(rootPath string) bool {
	key := normalizeKey(rootPath)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.persist()
	return true
}

// InvalidateForFile removes every entry whose root contains filePath and
// returns the number removed. A scan that found a just-converted file is
// stale the moment the sidecar appears.
func (c *Cache) InvalidateForFile(filePath string) int {
	normalized := normalizeKey(filePath)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if normalized == key || strings.HasPrefix(normalized, key+"/") {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.persist()
	}
	return removed
}

// ClearAll drops every entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*models.CachedScan)
	c.persist()
}

// Summaries lists every live entry's root, scan time, expiry and file
// count, for the cache listing endpoint.
func (c *Cache) Summaries() []Summary {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.entries))
	for key, entry := range c.entries {
		if entry.Expired(now) {
			continue
		}
		out = append(out, Summary{
			RootPath:  key,
			ScannedAt: entry.ScannedAt,
			ExpiresAt: entry.ExpiresAt,
			FileCount: len(entry.Result.Files),
		})
	}
	return out
}

// Summary describes one cache entry without its full file list.
type Summary struct {
	RootPath  string    `json:"rootPath"`
	ScannedAt time.Time `json:"scannedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	FileCount int       `json:"fileCount"`
}
