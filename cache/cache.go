package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/imgembed/core"
)

const (
	stagingDirName = ".staging"
	locksDirName   = ".locks"
	entryPrefix    = "models--"

	defaultLockTimeout = 2 * time.Minute
)

// Cache is a model cache rooted at a directory.
// A Cache is safe for concurrent use, including by several processes sharing the root.
type Cache struct {
	root        string
	logger      *slog.Logger
	lockTimeout time.Duration

	// mu serializes promotions and evictions within this process;
	// the file lock does the same across processes.
	mu sync.Mutex
}

// Option is a functional option for configuring a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithLockTimeout bounds how long Promote and Evict wait for the cross-process lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		c.lockTimeout = timeout
	}
}

// Entry is a complete, marker-verified model directory.
type Entry struct {
	ID       core.ModelID
	Dir      string
	Manifest *Manifest
}

// Path returns the absolute path of a model file inside the entry.
func (e *Entry) Path(name string) string {
	return filepath.Join(e.Dir, filepath.FromSlash(name))
}

// New opens the cache at root, creating the directory if needed.
func New(root string, opts ...Option) (*Cache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: empty cache root", core.ErrInvalidPath)
	}
	c := &Cache{
		root:        root,
		logger:      slog.Default(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cache")

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) entryDir(id core.ModelID) string {
	return filepath.Join(c.root, id.CacheDirName())
}

// Lookup returns the complete entry for id.
// It never touches the network. A missing directory, a directory without a
// marker, or a listed file with the wrong size all report core.ErrCacheMiss.
func (c *Cache) Lookup(id core.ModelID) (*Entry, error) {
	dir := c.entryDir(id)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrCacheMiss, id)
		}
		return nil, fmt.Errorf("stat cache entry: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", core.ErrCacheMiss, dir)
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCacheMiss, err)
	}
	if manifest.Model != id.String() {
		return nil, fmt.Errorf("%w: %w: marker names %q, want %q", core.ErrCacheMiss, ErrIncomplete, manifest.Model, id)
	}

	entry := &Entry{ID: id, Dir: dir, Manifest: manifest}
	for _, f := range manifest.Files {
		st, err := os.Stat(entry.Path(f.Name))
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %s missing", core.ErrCacheMiss, ErrIntegrity, f.Name)
		}
		if st.Size() != f.Size {
			return nil, fmt.Errorf("%w: %w: %s has %d bytes, marker records %d",
				core.ErrCacheMiss, ErrIntegrity, f.Name, st.Size(), f.Size)
		}
	}
	return entry, nil
}

// Verify re-hashes every file of the entry against its manifest.
func (c *Cache) Verify(id core.ModelID) error {
	entry, err := c.Lookup(id)
	if err != nil {
		return err
	}
	for _, f := range entry.Manifest.Files {
		sum, err := hashFile(entry.Path(f.Name))
		if err != nil {
			return fmt.Errorf("hash %s: %w", f.Name, err)
		}
		if f.SHA256 != "" && sum != f.SHA256 {
			return fmt.Errorf("%w: %s sha256 %s, marker records %s", ErrIntegrity, f.Name, sum, f.SHA256)
		}
	}
	return nil
}

// Evict removes the entry for id. The marker goes first so an interrupted
// eviction leaves an incomplete directory, never a corrupt entry.
func (c *Cache) Evict(ctx context.Context, id core.ModelID) error {
	unlock, err := c.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	dir := c.entryDir(id)
	if err := os.Remove(filepath.Join(dir, MarkerName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	c.logger.Info("evicted cache entry", "model", id.String())
	return nil
}

// List returns all complete entries under the root. Incomplete directories are skipped.
func (c *Cache) List() ([]*Entry, error) {
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	var entries []*Entry
	for _, d := range dirents {
		if !d.IsDir() || !strings.HasPrefix(d.Name(), entryPrefix) {
			continue
		}
		manifest, err := readManifest(filepath.Join(c.root, d.Name()))
		if err != nil {
			c.logger.Debug("skipping incomplete cache directory", "dir", d.Name(), "error", err)
			continue
		}
		id, err := core.ParseModelID(manifest.Model)
		if err != nil {
			c.logger.Debug("skipping cache directory with invalid marker", "dir", d.Name(), "error", err)
			continue
		}
		entry, err := c.Lookup(id)
		if err != nil {
			c.logger.Debug("skipping cache directory", "dir", d.Name(), "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CleanStaging removes staging directories older than maxAge, the leftovers of
// interrupted downloads. It returns how many were removed.
func (c *Cache) CleanStaging(maxAge time.Duration) (int, error) {
	stagingRoot := filepath.Join(c.root, stagingDirName)
	dirents, err := os.ReadDir(stagingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(stagingRoot, d.Name())); err != nil {
			c.logger.Warn("failed to remove staging leftover", "dir", d.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("cleaned staging leftovers", "removed", removed)
	}
	return removed, nil
}

// Promote atomically turns a filled staging area into the entry for its model.
//
// Exactly one promotion per model commits. When another writer already
// committed a complete entry, the staging area is discarded and the existing
// entry is returned. A leftover directory without a marker is replaced.
func (c *Cache) Promote(ctx context.Context, s *Staging, source string) (*Entry, error) {
	files, err := s.seal()
	if err != nil {
		return nil, err
	}

	unlock, err := c.lock(ctx, s.id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if existing, err := c.Lookup(s.id); err == nil {
		c.logger.Debug("entry already promoted, discarding staging", "model", s.id.String())
		s.remove()
		return existing, nil
	}

	final := c.entryDir(s.id)
	if err := os.RemoveAll(final); err != nil {
		s.remove()
		return nil, fmt.Errorf("remove incomplete entry: %w", err)
	}
	if err := os.Rename(s.dir, final); err != nil {
		s.remove()
		return nil, fmt.Errorf("promote staging: %w", err)
	}

	manifest := &Manifest{
		Model:       s.id.String(),
		Source:      source,
		CompletedAt: time.Now().UTC(),
		Files:       files,
	}
	if err := writeManifest(final, manifest); err != nil {
		os.RemoveAll(final)
		return nil, err
	}

	c.logger.Info("promoted cache entry", "model", s.id.String(), "source", source,
		"files", len(files), "bytes", manifest.TotalSize())
	return &Entry{ID: s.id, Dir: final, Manifest: manifest}, nil
}

// lock takes the in-process mutex and the cross-process file lock for id.
func (c *Cache) lock(ctx context.Context, id core.ModelID) (func(), error) {
	c.mu.Lock()

	locksDir := filepath.Join(c.root, locksDirName)
	if err := os.MkdirAll(locksDir, 0755); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	fl, err := newFileLock(filepath.Join(locksDir, id.CacheDirName()+".lock"))
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := fl.lock(ctx, c.lockTimeout); err != nil {
		fl.unlock()
		c.mu.Unlock()
		return nil, err
	}
	return func() {
		if err := fl.unlock(); err != nil {
			c.logger.Warn("failed to release cache lock", "model", id.String(), "error", err)
		}
		c.mu.Unlock()
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsMiss reports whether err means the model is not in the cache.
func IsMiss(err error) bool {
	return errors.Is(err, core.ErrCacheMiss)
}
