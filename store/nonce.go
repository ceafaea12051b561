package store

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// replayWindow matches the RP's nonce freshness window: once a nonce
// falls outside it, the RP rejects it as stale anyway, so there's no need
// to remember it longer than that.
const replayWindow = 2 * time.Hour

// NonceCache remembers (epoch, suffix, op_endpoint) triples for
// replayWindow, the replay-detection that the core RP delegates to an
// external store. It is not consulted by openid.RP directly — a caller
// wires Seen into its own verification step before calling
// RP.Authenticate, since the core only surfaces the parsed nonce.
type NonceCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

// NewNonceCache returns a NonceCache holding at most capacity entries.
func NewNonceCache(capacity int) (*NonceCache, error) {
	cache, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, fmt.Errorf("store: new nonce lru cache: %w", err)
	}
	return &NonceCache{cache: cache}, nil
}

// Seen records (epoch, suffix, opEndpoint) if not already present and
// reports whether it was a replay (already seen within replayWindow).
func (n *NonceCache) Seen(epoch int64, suffix, opEndpoint string) bool {
	key := fmt.Sprintf("%d|%s|%s", epoch, suffix, opEndpoint)

	n.mu.Lock()
	defer n.mu.Unlock()

	if seenAt, ok := n.cache.Get(key); ok && time.Since(seenAt) < replayWindow {
		return true
	}
	n.cache.Add(key, time.Now())
	return false
}
