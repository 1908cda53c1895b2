package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"kybmon/internal/ports"
)

// Cache stores settled results per request signature. Entries outlive their
// freshness by the stale TTL so they can still be served when the source's
// budget is exhausted.
type Cache struct {
	store ports.CacheStore
	now   func() time.Time
}

type cacheEntry struct {
	Result     Result    `json:"result"`
	StoredAt   time.Time `json:"stored_at"`
	FreshUntil time.Time `json:"fresh_until"`
}

func NewCache(store ports.CacheStore) *Cache {
	return &Cache{store: store, now: time.Now}
}

type signature struct {
	Source     string  `json:"source"`
	Identifier string  `json:"identifier"`
	Options    Options `json:"options"`
}

// CacheKey hashes the JCS-canonical form of source, identifier and options
// so that semantically different requests never share an entry.
func CacheKey(source, identifier string, opts Options) string {
	if opts == nil {
		opts = Options{}
	}
	// Only strings go in, so Marshal cannot fail.
	raw, _ := json.Marshal(signature{Source: source, Identifier: identifier, Options: opts})
	if canon, err := jcs.Transform(raw); err == nil {
		raw = canon
	}
	sum := sha256.Sum256(raw)
	return "kybmon:cache:" + source + ":" + hex.EncodeToString(sum[:])
}

// Lookup returns the cached result and whether it is still fresh.
func (c *Cache) Lookup(ctx context.Context, key string) (res Result, fresh bool, found bool, err error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return Result{}, false, false, err
	}
	var e cacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Result{}, false, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e.Result, c.now().Before(e.FreshUntil), true, nil
}

// Put writes a result that stays fresh for ttl and servable as stale for a
// further staleTTL.
func (c *Cache) Put(ctx context.Context, key string, res Result, ttl, staleTTL time.Duration) error {
	now := c.now()
	raw, err := json.Marshal(cacheEntry{Result: res, StoredAt: now, FreshUntil: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.store.Set(ctx, key, raw, ttl+staleTTL)
}
