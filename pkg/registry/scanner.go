// Package registry discovers candidate packages on disk. A scan enumerates
// the immediate subdirectories of a configured root and records every
// directory that carries a manifest file; manifests themselves are
// materialized lazily and cached.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/emberforge/ember/pkg/manifest"
)

const (
	manifestCacheSize = 256
	manifestCacheTTL  = 30 * time.Second
)

// Scanner enumerates package directories beneath a root. The available set
// is replaced wholesale on each Scan; entries from a prior scan never
// survive a rescan, so callers observe filesystem changes by re-scanning.
type Scanner struct {
	root string
	log  *logrus.Logger

	mu        sync.Mutex
	available []string          // enumeration order, not stable across platforms
	dirs      map[string]string // package directory name -> absolute path
	stale     bool

	// cache holds parsed manifests keyed by path and mtime so repeated
	// materialization of the same on-disk file skips the read and parse.
	cache *lru.LRU[string, *manifest.Manifest]
}

// NewScanner creates a scanner rooted at dir.
func NewScanner(root string, log *logrus.Logger) *Scanner {
	if log == nil {
		log = logrus.New()
	}
	return &Scanner{
		root:  root,
		log:   log,
		dirs:  make(map[string]string),
		cache: lru.NewLRU[string, *manifest.Manifest](manifestCacheSize, nil, manifestCacheTTL),
	}
}

// Root returns the configured package root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan rebuilds the available-package set from disk. A subdirectory
// qualifies iff it contains a manifest file and its name does not start
// with a dot. An unreadable root is logged and yields an empty set rather
// than an error.
func (s *Scanner) Scan() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.WithError(err).Warnf("Failed to read package root %s", s.root)
		entries = nil
	}

	available := make([]string, 0, len(entries))
	dirs := make(map[string]string, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name[0] == '.' {
			continue
		}

		dir := filepath.Join(s.root, name)
		if !manifest.Exists(dir) {
			continue
		}

		available = append(available, name)
		dirs[name] = dir
	}

	s.mu.Lock()
	s.available = available
	s.dirs = dirs
	s.stale = false
	s.mu.Unlock()

	s.log.Debugf("Scanned %s: %d package(s) available", s.root, len(available))
}

// AvailablePackages returns the candidate names from the last scan, in
// filesystem enumeration order.
func (s *Scanner) AvailablePackages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.available))
	copy(out, s.available)
	return out
}

// PackageDir returns the directory recorded for name by the last scan.
func (s *Scanner) PackageDir(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.dirs[name]
	return dir, ok
}

// LoadManifest materializes the manifest of an available package. Parses
// are cached by path and modification time; an edited manifest is re-read
// on the next call.
func (s *Scanner) LoadManifest(name string) (*manifest.Manifest, error) {
	dir, ok := s.PackageDir(name)
	if !ok {
		return nil, fmt.Errorf("package %q is not in the scanned set", name)
	}

	path := filepath.Join(dir, manifest.FileName)
	key := path
	if info, err := os.Stat(path); err == nil {
		key = fmt.Sprintf("%s|%d", path, info.ModTime().UnixNano())
	}

	if m, ok := s.cache.Get(key); ok {
		return m, nil
	}

	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, m)
	return m, nil
}

// Stale reports whether the filesystem changed under the root since the
// last scan. Only meaningful while a watcher runs; callers still re-scan
// explicitly.
func (s *Scanner) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

func (s *Scanner) markStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}
