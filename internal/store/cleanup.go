package store

import (
	"encoding/json"
	"time"
)

// Cleanup cadence. The sweep runs opportunistically at the head of a
// scheduled tick once the interval has elapsed; entries are idempotent to
// delete so partial sweeps are fine.
const (
	CleanupInterval = 6 * time.Hour

	// Entries survive 2x their TTL before the sweep removes them, so a
	// stale-but-recent entry can still serve as a fallback value.
	cleanupTTLFactor = 2
)

// MaybeCleanup runs the expiry sweep when the last sweep is older than
// CleanupInterval. It returns the number of deleted entries (zero when the
// sweep was skipped).
func (s *Store) MaybeCleanup() int {
	now := s.now().Unix()

	var last int64
	if ok, _ := s.Get(KeyLastCleanup, &last); ok {
		if now-last < int64(CleanupInterval.Seconds()) {
			return 0
		}
	}

	deleted := s.sweep(now)
	_ = s.Set(KeyLastCleanup, now)

	if deleted > 0 {
		s.log.WithField("deleted", deleted).Info("Store cleanup complete")
	}
	return deleted
}

// sweep deletes entries whose TTL has lapsed twice over (cached_at) or
// whose absolute expiry has passed (expiresAt).
func (s *Store) sweep(now int64) int {
	deleted := 0
	for _, key := range s.Keys() {
		raw := s.doc[key]

		var env cacheEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		if env.ExpiresAt > 0 && env.ExpiresAt < now {
			s.Delete(key)
			deleted++
			continue
		}

		ttl := cacheTTL(key)
		if ttl == 0 || env.CachedAt == 0 {
			continue
		}
		if env.CachedAt+cleanupTTLFactor*int64(ttl.Seconds()) < now {
			s.Delete(key)
			deleted++
		}
	}
	return deleted
}
