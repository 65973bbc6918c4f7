// Package cache stores compiled .wire artifacts in a build directory
// together with the content hashes that decide whether they are still
// fresh. The index is the build manifest.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/recera/wirepage/pkg/template"
)

// ManifestVersion is the format version written to manifest.json
const ManifestVersion = 1

// ManifestName is the file name of the index inside the build directory
const ManifestName = "manifest.json"

// Kind is the role a compiled file plays
type Kind string

const (
	KindPage      Kind = "page"
	KindLayout    Kind = "layout"
	KindComponent Kind = "component"
)

// Cache represents a build directory of compiled artifacts
type Cache struct {
	mu       sync.RWMutex
	dir      string
	manifest *Manifest
	stats    *Stats
}

// Manifest tracks all compiled entries by absolute source path
type Manifest struct {
	Version  int               `json:"version"`
	PagesDir string            `json:"pages_dir"`
	Entries  map[string]*Entry `json:"entries"`
}

// Dep is one dependency of an entry with the hash it had when the entry
// was compiled
type Dep struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Entry represents a single compiled artifact
type Entry struct {
	// Artifact is relative to the build directory
	Artifact string           `json:"artifact"`
	Hash     string           `json:"hash"`
	Deps     []Dep            `json:"deps"`
	Kind     Kind             `json:"kind"`
	Routes   []template.Route `json:"routes"`
	// ImplicitLayout is the directory layout applied to the file, if any
	ImplicitLayout *string `json:"implicit_layout"`
}

// Stats tracks cache performance metrics
type Stats struct {
	mu            sync.RWMutex
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
	EntryCount    int   `json:"entry_count"`
}

// Config holds cache configuration
type Config struct {
	Dir      string // Build directory (default: .wirepage/build)
	PagesDir string // Recorded in the manifest
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		Dir: filepath.Join(".wirepage", "build"),
	}
}

// New opens the build directory at config.Dir, loading its manifest when
// one exists
func New(config Config) (*Cache, error) {
	if config.Dir == "" {
		config.Dir = DefaultConfig().Dir
	}
	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	cache := &Cache{
		dir:      dir,
		stats:    &Stats{},
		manifest: newManifest(config.PagesDir),
	}

	// Load existing manifest
	if err := cache.loadManifest(); err != nil {
		// Manifest doesn't exist or is corrupted, start fresh
		cache.manifest = newManifest(config.PagesDir)
	}
	if config.PagesDir != "" {
		cache.manifest.PagesDir = config.PagesDir
	}
	return cache, nil
}

func newManifest(pagesDir string) *Manifest {
	return &Manifest{
		Version:  ManifestVersion,
		PagesDir: pagesDir,
		Entries:  make(map[string]*Entry),
	}
}

// Dir returns the absolute build directory
func (c *Cache) Dir() string {
	return c.dir
}

// Get returns the entry for path and its artifact when the entry is
// fresh: the source and every dependency still hash to the recorded
// values.
func (c *Cache) Get(path string) (*Entry, []byte, bool) {
	c.mu.RLock()
	entry, exists := c.manifest.Entries[path]
	c.mu.RUnlock()

	if !exists || !IsFresh(path, entry) {
		c.recordMiss()
		return nil, nil, false
	}

	data, err := os.ReadFile(filepath.Join(c.dir, entry.Artifact))
	if err != nil {
		c.recordMiss()
		return nil, nil, false
	}

	c.recordHit()
	return entry, data, true
}

// Lookup returns the recorded entry for path without checking freshness
func (c *Cache) Lookup(path string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.manifest.Entries[path]
	return entry, ok
}

// Put writes the artifact of path and records its entry. entry.Artifact
// is filled in when empty.
func (c *Cache) Put(path string, entry Entry, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.Artifact == "" {
		entry.Artifact = ArtifactPath(c.manifest.PagesDir, path)
	}
	target := filepath.Join(c.dir, entry.Artifact)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	if old, ok := c.manifest.Entries[path]; ok && old.Artifact != entry.Artifact {
		c.removeFile(filepath.Join(c.dir, old.Artifact))
	}
	c.manifest.Entries[path] = &entry
	c.setCount()
	return nil
}

// Delete removes an entry and its artifact
func (c *Cache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteNoLock(path)
	c.setCount()
}

func (c *Cache) deleteNoLock(path string) bool {
	entry, ok := c.manifest.Entries[path]
	if !ok {
		return false
	}
	c.removeFile(filepath.Join(c.dir, entry.Artifact))
	delete(c.manifest.Entries, path)
	return true
}

// InvalidateByDependency removes the entry of dep and every entry that
// depends on it, directly or through other entries. It returns the
// removed paths in sorted order.
func (c *Cache) InvalidateByDependency(dep string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make(map[string]bool)
	queue := []string{dep}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if c.deleteNoLock(next) {
			removed[next] = true
		}
		for key, entry := range c.manifest.Entries {
			if removed[key] {
				continue
			}
			for _, d := range entry.Deps {
				if d.Path == next {
					queue = append(queue, key)
					break
				}
			}
		}
	}
	c.setCount()

	paths := make([]string, 0, len(removed))
	for p := range removed {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	c.stats.mu.Lock()
	c.stats.Invalidations += int64(len(paths))
	c.stats.mu.Unlock()
	return paths
}

// Clear removes every artifact and entry
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range []string{"pages", "components"} {
		if err := os.RemoveAll(filepath.Join(c.dir, sub)); err != nil {
			return fmt.Errorf("failed to clear artifacts: %w", err)
		}
	}
	c.manifest = newManifest(c.manifest.PagesDir)
	c.setCount()
	return nil
}

// Paths returns the source paths of all entries in sorted order
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.manifest.Entries))
	for p := range c.manifest.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Manifest returns the manifest path inside the build directory
func (c *Cache) Manifest() string {
	return filepath.Join(c.dir, ManifestName)
}

// Save writes the manifest
func (c *Cache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveManifestNoLock()
}

// GetStats returns cache statistics
func (c *Cache) GetStats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return Stats{
		Hits:          c.stats.Hits,
		Misses:        c.stats.Misses,
		Invalidations: c.stats.Invalidations,
		EntryCount:    c.stats.EntryCount,
	}
}

// IsFresh reports whether path and every dependency of entry still hash
// to the recorded values
func IsFresh(path string, entry *Entry) bool {
	hash, err := HashFile(path)
	if err != nil || hash != entry.Hash {
		return false
	}
	for _, dep := range entry.Deps {
		h, err := HashFile(dep.Path)
		if err != nil || h != dep.Hash {
			return false
		}
	}
	return true
}

// HashFile returns the hex sha256 of a file's contents
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Hash(data), nil
}

// Hash returns the hex sha256 of data
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ArtifactPath returns where the artifact of source is stored inside the
// build directory. Files under pagesDir mirror their layout below pages/;
// anything else goes to components/ with a path hash to keep names
// unique.
func ArtifactPath(pagesDir, source string) string {
	if pagesDir != "" {
		if rel, err := filepath.Rel(pagesDir, source); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.Join("pages", strings.TrimSuffix(rel, filepath.Ext(rel))+".wirec")
		}
	}
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join("components", fmt.Sprintf("%s_%s.wirec", sanitizeKey(stem), Hash([]byte(source))[:10]))
}

// Private methods

func (c *Cache) loadManifest() error {
	data, err := os.ReadFile(c.Manifest())
	if err != nil {
		return err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return err
	}
	if manifest.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	if manifest.Entries == nil {
		manifest.Entries = make(map[string]*Entry)
	}

	c.manifest = &manifest
	c.setCount()
	return nil
}

// saveManifestNoLock writes the manifest without acquiring a lock.
// Caller must hold at least a read lock.
func (c *Cache) saveManifestNoLock() error {
	data, err := json.MarshalIndent(c.manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.Manifest(), data, 0644)
}

func (c *Cache) setCount() {
	c.stats.mu.Lock()
	c.stats.EntryCount = len(c.manifest.Entries)
	c.stats.mu.Unlock()
}

func (c *Cache) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Log error but don't fail
		fmt.Fprintf(os.Stderr, "Warning: failed to remove artifact %s: %v\n", path, err)
	}
}

func (c *Cache) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

func sanitizeKey(key string) string {
	// Replace problematic characters for filesystem
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	sanitized := replacer.Replace(key)

	// Limit length
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}

	return sanitized
}
