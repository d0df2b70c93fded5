// hintline/helpers_cache.go
// Contains the suggestion cache: a ristretto memory tier with an optional
// bbolt disk tier underneath it.
package hintline

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.etcd.io/bbolt"
)

var cacheBucketName = []byte("SuggestionCache")

// cachedSuggestionEntry is the gob-encoded disk cache record.
type cachedSuggestionEntry struct {
	SchemaVersion int
	Suggestions   []Suggestion
	StoredAt      time.Time
}

// SuggestionCache is a bounded fingerprint -> []Suggestion store. Lookups
// hit the ristretto memory tier first, then the bbolt disk tier (when
// enabled); stores write through to both. Stores are last-write-wins per
// key and always replace the full list, never merging. All operations are
// safe under concurrent use; disk faults degrade the cache to memory-only
// and are never propagated to callers.
type SuggestionCache struct {
	mem    *ristretto.Cache
	db     *bbolt.DB
	ttl    time.Duration
	mu     sync.RWMutex // protects the db handle during Close
	logger *slog.Logger
}

// NewSuggestionCache builds the cache from config. With cfg.DiskCache set,
// the bbolt file lives under the user cache directory; pass dir != "" to
// override the location (used by tests).
func NewSuggestionCache(cfg Config, dir string, logger *slog.Logger) (*SuggestionCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("component", "SuggestionCache")

	mem, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     cfg.CacheMaxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory cache failed: %w", err)
	}

	var db *bbolt.DB
	if cfg.DiskCache {
		dbPath := ""
		if dir == "" {
			userCacheDir, cacheErr := os.UserCacheDir()
			if cacheErr == nil {
				dir = filepath.Join(userCacheDir, configDirName, fmt.Sprintf("v%d", cacheSchemaVersion))
			} else {
				cacheLogger.Warn("Could not determine user cache directory, disk caching disabled.", "error", cacheErr)
			}
		}
		if dir != "" {
			if mkErr := os.MkdirAll(dir, 0750); mkErr == nil {
				dbPath = filepath.Join(dir, "suggestions.db")
			} else {
				cacheLogger.Warn("Could not create disk cache directory, disk caching disabled.", "path", dir, "error", mkErr)
			}
		}
		if dbPath != "" {
			opts := &bbolt.Options{Timeout: 1 * time.Second}
			db, err = bbolt.Open(dbPath, 0600, opts)
			if err != nil {
				cacheLogger.Warn("Failed to open disk cache file, disk caching disabled.", "path", dbPath, "error", err)
				db = nil
			} else {
				err = db.Update(func(tx *bbolt.Tx) error {
					_, bErr := tx.CreateBucketIfNotExists(cacheBucketName)
					return bErr
				})
				if err != nil {
					cacheLogger.Warn("Failed to ensure disk cache bucket exists, disk caching disabled.", "error", err)
					db.Close()
					db = nil
				} else {
					cacheLogger.Info("Using disk suggestion cache", "path", dbPath, "schema_version", cacheSchemaVersion)
				}
			}
		}
	}

	return &SuggestionCache{
		mem:    mem,
		db:     db,
		ttl:    cfg.CacheTTL,
		logger: cacheLogger,
	}, nil
}

// Lookup returns the cached suggestions for the fingerprint, or false on a
// miss. Non-blocking; a disk-tier hit re-populates the memory tier.
func (c *SuggestionCache) Lookup(fp Fingerprint) ([]Suggestion, bool) {
	if val, found := c.mem.Get(string(fp)); found {
		if suggestions, ok := val.([]Suggestion); ok && len(suggestions) > 0 {
			c.logger.Debug("Suggestion cache hit (memory)", "fingerprint", fp)
			return suggestions, true
		}
	}

	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db == nil {
		return nil, false
	}

	var entry *cachedSuggestionEntry
	viewErr := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(cacheBucketName)
		if b == nil {
			return nil
		}
		valBytes := b.Get([]byte(fp))
		if valBytes == nil {
			return nil
		}
		var decoded cachedSuggestionEntry
		if err := gob.NewDecoder(bytes.NewReader(valBytes)).Decode(&decoded); err != nil {
			return fmt.Errorf("%w: %w", ErrCacheDecode, err)
		}
		if decoded.SchemaVersion != cacheSchemaVersion {
			c.logger.Warn("Disk cache entry has old schema version. Ignoring.", "fingerprint", fp, "cached_version", decoded.SchemaVersion)
			return nil
		}
		entry = &decoded
		return nil
	})
	if viewErr != nil {
		c.logger.Warn("Error reading disk cache entry.", "fingerprint", fp, "error", viewErr)
		if errors.Is(viewErr, ErrCacheDecode) {
			go c.deleteDiskEntry(fp, "decode_failure")
		}
		return nil, false
	}
	if entry == nil || len(entry.Suggestions) == 0 {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.StoredAt) > c.ttl {
		c.logger.Debug("Disk cache entry expired. Ignoring.", "fingerprint", fp, "stored_at", entry.StoredAt)
		go c.deleteDiskEntry(fp, "expired")
		return nil, false
	}

	c.logger.Debug("Suggestion cache hit (disk)", "fingerprint", fp)
	c.setMemory(fp, entry.Suggestions)
	return entry.Suggestions, true
}

// Store replaces any existing entry for the fingerprint with the given
// suggestion list. Empty lists are rejected; lists longer than the per-entry
// maximum are clamped.
func (c *SuggestionCache) Store(fp Fingerprint, suggestions []Suggestion) {
	if len(suggestions) == 0 {
		c.logger.Warn("Refusing to store empty suggestion list", "fingerprint", fp)
		return
	}
	if len(suggestions) > maxSuggestionsPerEntry {
		suggestions = suggestions[:maxSuggestionsPerEntry]
	}
	// Copy so a later mutation by the caller can never surface as a
	// partially updated entry.
	stored := make([]Suggestion, len(suggestions))
	copy(stored, suggestions)

	c.storeDisk(fp, stored)
	c.setMemory(fp, stored)
}

// setMemory writes to the ristretto tier, costing the entry by its total
// text size, and waits for the buffered set to land so a subsequent Lookup
// observes it.
func (c *SuggestionCache) setMemory(fp Fingerprint, suggestions []Suggestion) {
	cost := int64(0)
	for _, s := range suggestions {
		cost += int64(len(s.Text) + len(s.Label))
	}
	if cost <= 0 {
		cost = 1
	}
	if !c.mem.SetWithTTL(string(fp), suggestions, cost, c.ttl) {
		c.logger.Debug("Memory cache rejected entry", "fingerprint", fp, "cost", cost)
	}
	c.mem.Wait()
}

func (c *SuggestionCache) storeDisk(fp Fingerprint, suggestions []Suggestion) {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db == nil {
		return
	}

	entry := cachedSuggestionEntry{
		SchemaVersion: cacheSchemaVersion,
		Suggestions:   suggestions,
		StoredAt:      time.Now(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&entry); err != nil {
		c.logger.Warn("Failed to gob-encode cache entry", "fingerprint", fp, "error", fmt.Errorf("%w: %w", ErrCacheEncode, err))
		return
	}
	saveErr := db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(cacheBucketName)
		if b == nil {
			return fmt.Errorf("%w: cache bucket %s disappeared", ErrCacheWrite, string(cacheBucketName))
		}
		return b.Put([]byte(fp), buf.Bytes())
	})
	if saveErr != nil {
		c.logger.Warn("Failed to write disk cache entry", "fingerprint", fp, "error", saveErr)
	}
}

func (c *SuggestionCache) deleteDiskEntry(fp Fingerprint, reason string) {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db == nil {
		return
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(cacheBucketName)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(fp))
	})
	if err != nil {
		c.logger.Warn("Failed to delete disk cache entry", "fingerprint", fp, "reason", reason, "error", err)
	}
}

// Metrics returns the memory tier's performance metrics.
func (c *SuggestionCache) Metrics() *ristretto.Metrics {
	return c.mem.Metrics
}

// Close releases cache resources. Safe to call once.
func (c *SuggestionCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var closeErrors []error
	if c.db != nil {
		c.logger.Info("Closing disk suggestion cache.")
		if err := c.db.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("disk cache close failed: %w", err))
		}
		c.db = nil
	}
	if c.mem != nil {
		c.mem.Close()
	}
	if len(closeErrors) > 0 {
		return errors.Join(closeErrors...)
	}
	return nil
}
