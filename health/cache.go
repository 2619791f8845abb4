package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/billenewman4/itemcache/store"
)

// DefaultMaxAge is how old a snapshot may grow before the cache checker
// reports it degraded.
const DefaultMaxAge = 24 * time.Hour

// CacheCheckerConfig configures the cache snapshot checker.
type CacheCheckerConfig struct {
	// MaxAge is the staleness bound. A snapshot older than this degrades
	// the check; it still serves, but a refresh is overdue.
	// Default: 24 hours.
	MaxAge time.Duration
}

// CacheChecker probes the persisted cache snapshot.
//
// The verdict ladder: a file that cannot be read or decoded is unhealthy,
// a cache that is missing, empty, or older than MaxAge is degraded, and
// everything else is healthy. Details carry the cache statistics either
// way.
type CacheChecker struct {
	store  *store.Store
	config CacheCheckerConfig
	now    func() time.Time
}

var _ InfoChecker = (*CacheChecker)(nil)

// NewCacheChecker creates a checker for the snapshot st manages.
func NewCacheChecker(st *store.Store, config ...CacheCheckerConfig) *CacheChecker {
	cfg := CacheCheckerConfig{MaxAge: DefaultMaxAge}
	if len(config) > 0 {
		cfg = config[0]
		if cfg.MaxAge <= 0 {
			cfg.MaxAge = DefaultMaxAge
		}
	}
	return &CacheChecker{store: st, config: cfg, now: time.Now}
}

// Name implements Checker.
func (c *CacheChecker) Name() string { return "cache" }

// Check implements Checker.
func (c *CacheChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("check cancelled", ctx.Err())
	default:
	}

	exists, err := c.store.Exists()
	if err != nil {
		return Unhealthy("cache file unreadable", err)
	}
	if !exists {
		return Degraded("cache not built yet").WithDetails(map[string]any{
			"path": c.store.Path(),
		})
	}

	snap, err := c.store.Load()
	if err != nil {
		return Unhealthy("cache snapshot unreadable", err).WithDetails(map[string]any{
			"path": c.store.Path(),
		})
	}

	details := c.details(snap)
	if snap.Len() == 0 {
		return Degraded("cache is empty").WithDetails(details)
	}
	if age := c.now().Sub(snap.Metadata.LastUpdated); age > c.config.MaxAge {
		msg := fmt.Sprintf("snapshot is %s old, max age %s", age.Round(time.Minute), c.config.MaxAge)
		return Degraded(msg).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d items cached", snap.Len())).WithDetails(details)
}

// Info implements InfoChecker. It is the cache statistics surface: the
// same numbers the health details carry plus the keying and filtering
// configuration recorded in the snapshot.
func (c *CacheChecker) Info(ctx context.Context) (map[string]any, error) {
	snap, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	info := c.details(snap)
	info["cache_key_strategy"] = snap.Metadata.KeyStrategy
	info["approved_field_values"] = snap.Metadata.FilterCriteria.ApprovedValues
	return info, nil
}

func (c *CacheChecker) details(snap *store.Snapshot) map[string]any {
	age := c.now().Sub(snap.Metadata.LastUpdated)
	details := map[string]any{
		"path":              c.store.Path(),
		"total_items":       snap.Len(),
		"last_updated":      snap.Metadata.LastUpdated.UTC().Format(time.RFC3339),
		"age_hours":         age.Hours(),
		"source_collection": snap.Metadata.SourceCollection,
		"cache_version":     snap.Metadata.Version,
	}
	if fi, err := os.Stat(c.store.Path()); err == nil {
		details["file_size_bytes"] = fi.Size()
	}
	return details
}
