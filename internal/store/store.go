// Package store provides the single-document state façade. All persistent
// state lives in one JSON object held in a ContentStore; a Store stages
// edits in memory and flushes them back under an optimistic-concurrency
// revision precondition.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
)

// Store stages edits to the persisted document for one invocation.
// Create one per tick or per API request; it is not safe for concurrent use.
type Store struct {
	backend ContentStore
	log     *logger.Logger

	doc    map[string]json.RawMessage
	sha    string
	loaded bool

	// dirty tracks locally written keys, deleted locally removed ones.
	// On a flush conflict the remote document is re-fetched and these
	// edits are replayed over it (local wins on the touched keys).
	dirty   map[string]struct{}
	deleted map[string]struct{}

	now func() time.Time
}

// New creates a store façade over the given backend.
func New(backend ContentStore, log *logger.Logger) *Store {
	return &Store{
		backend: backend,
		log:     log.WithModule("store"),
		doc:     make(map[string]json.RawMessage),
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]struct{}),
		now:     time.Now,
	}
}

// Load fetches the document and its revision SHA. It is idempotent within
// an invocation; repeat calls return the in-memory copy.
func (s *Store) Load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	data, sha, err := s.backend.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			// First run: start from an empty document with no precondition.
			s.doc = make(map[string]json.RawMessage)
			s.sha = ""
			s.loaded = true
			return nil
		}
		return fmt.Errorf("load store document: %w", err)
	}

	doc := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse store document: %w", err)
		}
	}

	s.doc = doc
	s.sha = sha
	s.loaded = true
	return nil
}

// Get unmarshals the value under key into out. It returns false when the
// key is absent.
func (s *Store) Get(key string, out any) (bool, error) {
	raw, ok := s.doc[key]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, ok := s.doc[key]
	return ok
}

// Set stages a value under key and marks the document dirty.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	s.doc[key] = raw
	s.dirty[key] = struct{}{}
	delete(s.deleted, key)
	return nil
}

// Delete removes key and marks the document dirty. Deleting an absent key
// is a no-op.
func (s *Store) Delete(key string) {
	if _, ok := s.doc[key]; !ok {
		return
	}
	delete(s.doc, key)
	s.deleted[key] = struct{}{}
	delete(s.dirty, key)
}

// Keys returns all present keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.doc))
	for k := range s.doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dirty reports whether any staged edit is pending.
func (s *Store) Dirty() bool {
	return len(s.dirty) > 0 || len(s.deleted) > 0
}

// SHA returns the last-observed document revision.
func (s *Store) SHA() string {
	return s.sha
}

// Flush writes the staged document back under the revision precondition.
// On a precondition failure it re-fetches the remote document, replays the
// local edits over it (local wins on touched keys), and retries once. A
// second conflict surfaces as ErrStoreConflict; any other write failure as
// ErrStoreFatal. A clean store is a no-op.
func (s *Store) Flush(ctx context.Context, message string) error {
	if !s.Dirty() {
		return nil
	}

	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("encode store document: %w", err)
	}

	newSHA, err := s.backend.Put(ctx, data, s.sha, message)
	if err == nil {
		s.commit(newSHA)
		return nil
	}
	if !errors.Is(err, ErrPreconditionFailed) {
		return fmt.Errorf("%w: %v", domerrors.ErrStoreFatal, err)
	}

	s.log.WithField("sha", s.sha).Warn("Flush hit revision conflict, merging remote")

	merged, remoteSHA, err := s.mergeRemote(ctx)
	if err != nil {
		return err
	}

	newSHA, err = s.backend.Put(ctx, merged, remoteSHA, message)
	if err != nil {
		if errors.Is(err, ErrPreconditionFailed) {
			return fmt.Errorf("%w: retry after merge", domerrors.ErrStoreConflict)
		}
		return fmt.Errorf("%w: %v", domerrors.ErrStoreFatal, err)
	}

	s.commit(newSHA)
	return nil
}

// mergeRemote fetches the remote document and overlays the local staged
// edits. Distinct invocations touch disjoint keys under normal operation,
// so a shallow per-key merge is sufficient.
func (s *Store) mergeRemote(ctx context.Context) ([]byte, string, error) {
	data, remoteSHA, err := s.backend.Get(ctx)
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return nil, "", fmt.Errorf("%w: refetch: %v", domerrors.ErrStoreFatal, err)
	}

	remote := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &remote); err != nil {
			return nil, "", fmt.Errorf("%w: parse remote: %v", domerrors.ErrStoreFatal, err)
		}
	}

	for key := range s.dirty {
		if rv, ok := remote[key]; ok {
			remote[key] = mergeValue(key, s.doc[key], rv)
		} else {
			remote[key] = s.doc[key]
		}
	}
	for key := range s.deleted {
		delete(remote, key)
	}

	merged, err := json.Marshal(remote)
	if err != nil {
		return nil, "", fmt.Errorf("encode merged document: %w", err)
	}

	// Adopt the merged view so the in-memory copy matches what we write.
	s.doc = remote
	return merged, remoteSHA, nil
}

// mergeValue resolves a same-key conflict. Most keys are owned by a
// single writer and take the local value, but the watchlist and the maps
// keyed by CID are written from both the tick and the API, so those merge
// at the value level: the list unions, the maps overlay local entries.
func mergeValue(key string, local, remote json.RawMessage) json.RawMessage {
	switch key {
	case KeyWatchlist:
		var a, b []string
		if json.Unmarshal(local, &a) != nil || json.Unmarshal(remote, &b) != nil {
			return local
		}
		seen := make(map[string]struct{}, len(a)+len(b))
		union := make([]string, 0, len(a)+len(b))
		for _, cid := range append(b, a...) {
			if _, ok := seen[cid]; ok {
				continue
			}
			seen[cid] = struct{}{}
			union = append(union, cid)
		}
		sort.Slice(union, func(i, j int) bool {
			x, _ := strconv.ParseInt(union[i], 10, 64)
			y, _ := strconv.ParseInt(union[j], 10, 64)
			return x < y
		})
		merged, err := json.Marshal(union)
		if err != nil {
			return local
		}
		return merged

	case KeyWatchlistMeta, KeyOnlineState:
		var a, b map[string]json.RawMessage
		if json.Unmarshal(local, &a) != nil || json.Unmarshal(remote, &b) != nil {
			return local
		}
		for k, v := range a {
			b[k] = v
		}
		merged, err := json.Marshal(b)
		if err != nil {
			return local
		}
		return merged
	}
	return local
}

func (s *Store) commit(sha string) {
	s.sha = sha
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
}

// cacheEnvelope is the TTL metadata carried by cache-bearing entries.
type cacheEnvelope struct {
	CachedAt  int64 `json:"cached_at,omitempty"`
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// CacheGet unmarshals the entry under key into out iff its cached_at is
// within maxAge. Stale or absent entries return false.
func (s *Store) CacheGet(key string, maxAge time.Duration, out any) bool {
	raw, ok := s.doc[key]
	if !ok {
		return false
	}

	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	if env.CachedAt == 0 {
		return false
	}
	if s.now().Unix()-env.CachedAt > int64(maxAge.Seconds()) {
		return false
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Cache entry failed to decode")
			return false
		}
	}
	return true
}

// CachePut stages v under key with cached_at set to now. v must marshal to
// a JSON object.
func (s *Store) CachePut(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("cache entry %q must be a JSON object: %w", key, err)
	}

	stamp, _ := json.Marshal(s.now().Unix())
	obj["cached_at"] = stamp

	out, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	s.doc[key] = out
	s.dirty[key] = struct{}{}
	delete(s.deleted, key)
	return nil
}
