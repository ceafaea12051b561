// Package store is a reference implementation of the association-store
// and nonce-replay collaborators openid.RP expects: Store/Find/Remove
// keyed by assoc_handle, plus a nonce-replay cache. Neither is required
// by the core engine — a production RP will usually back these with a
// real database — but every exchange needs something wired in to
// exercise association negotiation end to end, so this is a bounded,
// expiring in-process cache rather than a plain unbounded map.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	fields  map[string]string
	expires time.Time
}

// AssociationStore is an in-memory, bounded, TTL-aware implementation of
// openid.StoreFunc/FindFunc/RemoveFunc, backed by an LRU cache so a
// long-running RP can't accumulate associations without bound.
type AssociationStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
}

// New returns an AssociationStore holding at most capacity associations.
func New(capacity int) (*AssociationStore, error) {
	cache, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("store: new lru cache: %w", err)
	}
	return &AssociationStore{cache: cache}, nil
}

// Store persists fields under handle until the expires field (Unix
// seconds, as associationFields in rp.go writes it) elapses; without a
// parseable expires field the entry is kept for one hour.
func (s *AssociationStore) Store(_ context.Context, handle string, fields map[string]string) error {
	exp := time.Now().Add(time.Hour)
	if raw, ok := fields["expires"]; ok {
		if secs, err := parseUnix(raw); err == nil {
			exp = time.Unix(secs, 0)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(handle, entry{fields: fields, expires: exp})
	return nil
}

// Find returns the fields stored under handle, or ok=false if absent or
// expired (an expired entry is evicted on lookup rather than surfaced).
func (s *AssociationStore) Find(_ context.Context, handle string) (map[string]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Get(handle)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expires) {
		s.cache.Remove(handle)
		return nil, false, nil
	}
	return e.fields, true, nil
}

// Remove best-effort evicts handle.
func (s *AssociationStore) Remove(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(handle)
	return nil
}

func parseUnix(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
