package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// retentionPeriod is how long cache files are kept before cleanup.
	retentionPeriod = 30 * 24 * time.Hour
	// dirPerms is the permission for cache directories.
	dirPerms = 0o700
	// filePerms is the permission for cache files.
	filePerms = 0o600
)

// Recommended TTLs. The tracking issue and its comments are exempt
// from caching entirely: stale reads there would defeat the limiter.
const (
	// TTLPullRequestFiles is for PR changed-file listings; the head
	// commit can move, so keep this in the hours range.
	TTLPullRequestFiles = 6 * time.Hour

	// TTLRepoMetadata is for repository metadata such as the default
	// branch (changes very rarely).
	TTLRepoMetadata = 12 * time.Hour

	// TTLRepoConfig is for the per-repository limits document fetched
	// over the contents API; kept short so edits take effect quickly.
	TTLRepoConfig = 5 * time.Minute

	// TTLRepoContext is for BUTLER.md / README.md context files.
	TTLRepoContext = 1 * time.Hour
)

// diskEntry represents a cache entry on disk with TTL.
type diskEntry struct {
	Value      json.RawMessage `json:"value"`
	Expiration time.Time       `json:"expiration"`
	CachedAt   time.Time       `json:"cached_at"`
}

// DiskCache provides two-tier caching: in-memory plus disk persistence.
type DiskCache struct {
	*Cache // embedded in-memory tier

	cacheDir string
	enabled  bool
}

// NewDiskCache creates a cache with disk persistence. An empty
// cacheDir yields a memory-only cache.
func NewDiskCache(ttl time.Duration, cacheDir string) (*DiskCache, error) {
	dc := &DiskCache{
		Cache:    New(ttl),
		cacheDir: cacheDir,
		enabled:  cacheDir != "",
	}

	if dc.enabled {
		cleanPath := filepath.Clean(cacheDir)
		if !filepath.IsAbs(cleanPath) {
			return nil, errors.New("cache directory must be absolute path")
		}

		if err := os.MkdirAll(cleanPath, dirPerms); err != nil {
			slog.Warn("Failed to create cache directory, falling back to memory-only", "error", err, "path", cleanPath)
			dc.enabled = false
		} else {
			dc.cacheDir = cleanPath
			go dc.cleanOldFiles()
		}
	}

	return dc, nil
}

// HitType indicates where a cache value was found.
type HitType string

// Hit locations.
const (
	HitMemory HitType = "memory"
	HitDisk   HitType = "disk"
	HitMiss   HitType = "miss"
)

// Get retrieves a value from cache, memory first, then disk.
func (c *DiskCache) Get(key string) (any, bool) {
	value, hit := c.Lookup(key)
	return value, hit != HitMiss
}

// Lookup retrieves a value from cache and reports where it was found.
func (c *DiskCache) Lookup(key string) (any, HitType) {
	if value, found := c.Cache.Get(key); found {
		return value, HitMemory
	}

	if !c.enabled {
		return nil, HitMiss
	}

	var e diskEntry
	if !c.loadFromDisk(key, &e) {
		return nil, HitMiss
	}

	if time.Now().After(e.Expiration) {
		c.removeFromDisk(key)
		return nil, HitMiss
	}

	var value any
	if err := json.Unmarshal(e.Value, &value); err != nil {
		slog.Warn("Failed to unmarshal disk cache entry", "key", key, "error", err)
		c.removeFromDisk(key)
		return nil, HitMiss
	}

	// Promote back into the memory tier for the remaining TTL.
	if ttl := time.Until(e.Expiration); ttl > 0 {
		c.Cache.SetWithTTL(key, value, ttl)
	}

	return value, HitDisk
}

// SetWithTTL stores a value in both the memory and disk tiers.
func (c *DiskCache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.Cache.SetWithTTL(key, value, ttl)

	if !c.enabled {
		return
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		slog.Debug("Failed to marshal value for disk cache", "key", key, "error", err)
		return
	}

	e := diskEntry{
		Value:      valueJSON,
		Expiration: time.Now().Add(ttl),
		CachedAt:   time.Now(),
	}

	if err := c.saveToDisk(key, e); err != nil {
		slog.Debug("Failed to save to disk cache", "key", key, "error", err)
	}
}

// fileKey generates a SHA256 hash of the key for the filename.
func (*DiskCache) fileKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (c *DiskCache) loadFromDisk(key string, v any) bool {
	path := filepath.Join(c.cacheDir, c.fileKey(key)+".json")

	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Failed to open disk cache file", "error", err, "path", path)
		}
		return false
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Debug("Failed to close disk cache file", "error", err, "path", path)
		}
	}()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		slog.Debug("Failed to decode disk cache file", "error", err, "path", path)
		return false
	}

	return true
}

// saveToDisk writes the entry atomically via a temp file and rename.
func (c *DiskCache) saveToDisk(key string, v any) error {
	path := filepath.Join(c.cacheDir, c.fileKey(key)+".json")
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}

	if err := json.NewEncoder(file).Encode(v); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encoding cache data: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file: %w", err)
	}

	return nil
}

func (c *DiskCache) removeFromDisk(key string) {
	path := filepath.Join(c.cacheDir, c.fileKey(key)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("Failed to remove disk cache file", "error", err, "path", path)
	}
}

// cleanOldFiles periodically removes cache files past the retention period.
func (c *DiskCache) cleanOldFiles() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		entries, err := os.ReadDir(c.cacheDir)
		if err != nil {
			slog.Error("Failed to read cache directory", "error", err)
			continue
		}

		cutoff := time.Now().Add(-retentionPeriod)
		removed := 0

		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
				continue
			}

			info, err := ent.Info()
			if err != nil {
				continue
			}

			if info.ModTime().Before(cutoff) {
				path := filepath.Join(c.cacheDir, ent.Name())
				if err := os.Remove(path); err != nil {
					slog.Debug("Failed to remove old cache file", "path", path, "error", err)
				} else {
					removed++
				}
			}
		}

		if removed > 0 {
			slog.Info("Cleaned old cache files", "removed", removed)
		}
	}
}
