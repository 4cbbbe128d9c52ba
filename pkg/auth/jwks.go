// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/gqlgate/pkg/logger"
	"github.com/stacklok/gqlgate/pkg/networking"
)

const (
	// DefaultKeyCacheMaxEntries is the default number of signing keys kept in memory.
	DefaultKeyCacheMaxEntries = 5
	// DefaultKeyCacheTTL is how long a fetched signing key may be used before revalidation.
	DefaultKeyCacheTTL = 10 * time.Minute

	// maxJWKSResponseSize bounds the size of a JWKS document.
	maxJWKSResponseSize = 1 << 20
)

// KeySetFetcher retrieves the provider's current JSON Web Key Set.
type KeySetFetcher interface {
	FetchKeySet(ctx context.Context) (jwk.Set, error)
}

// KeySetFetcherFunc adapts a function to KeySetFetcher.
type KeySetFetcherFunc func(ctx context.Context) (jwk.Set, error)

// FetchKeySet calls f(ctx).
func (f KeySetFetcherFunc) FetchKeySet(ctx context.Context) (jwk.Set, error) {
	return f(ctx)
}

// HTTPKeySetFetcher downloads and parses a JWKS document over HTTP.
type HTTPKeySetFetcher struct {
	URL    string
	Client *http.Client
}

// FetchKeySet implements KeySetFetcher.
func (f *HTTPKeySetFetcher) FetchKeySet(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := networking.CheckResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return set, nil
}

// KeyCacheConfig configures a KeyCache.
type KeyCacheConfig struct {
	// MaxEntries bounds the number of cached keys. Defaults to DefaultKeyCacheMaxEntries.
	MaxEntries int
	// TTL is the lifetime of a cached key. Defaults to DefaultKeyCacheTTL.
	TTL time.Duration
	// FetchTimeout bounds a single JWKS fetch. Zero means the caller's context only.
	FetchTimeout time.Duration
}

// keyEntry is a cached signing key.
type keyEntry struct {
	key       crypto.PublicKey
	fetchedAt time.Time
}

// KeyCache is a bounded, TTL-based cache of provider signing keys indexed by key id.
// It is safe for concurrent use. Concurrent misses for the same key id share one fetch.
type KeyCache struct {
	fetcher    KeySetFetcher
	maxEntries int
	ttl        time.Duration
	timeout    time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]keyEntry

	fills singleflight.Group
}

// NewKeyCache creates a KeyCache backed by fetcher.
func NewKeyCache(fetcher KeySetFetcher, cfg KeyCacheConfig) *KeyCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultKeyCacheMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultKeyCacheTTL
	}
	return &KeyCache{
		fetcher:    fetcher,
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		timeout:    cfg.FetchTimeout,
		now:        time.Now,
		entries:    make(map[string]keyEntry, cfg.MaxEntries),
	}
}

// SigningKey returns the public key for kid, fetching the key set on a miss or
// after the cached entry expired. Fetch failures are not cached.
func (c *KeyCache) SigningKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: token header missing kid", ErrKeyFetch)
	}

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	v, err, _ := c.fills.Do(kid, func() (any, error) {
		return c.fill(ctx, kid)
	})
	if err != nil {
		return nil, err
	}
	return v.(crypto.PublicKey), nil
}

// Len returns the number of cached entries, expired or not.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *KeyCache) lookup(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[kid]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.key, true
}

func (c *KeyCache) fill(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	set, err := c.fetcher.FetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, err)
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: key ID %s not found in JWKS", ErrKeyFetch, kid)
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to export key %s: %w", ErrKeyFetch, kid, err)
	}
	var pub crypto.PublicKey
	switch k := raw.(type) {
	case *rsa.PublicKey:
		pub = k
	case *ecdsa.PublicKey:
		pub = k
	default:
		return nil, fmt.Errorf("%w: key %s is not a supported public key (%T)", ErrKeyFetch, kid, raw)
	}

	c.store(kid, pub)
	logger.Debugw("cached signing key", "kid", kid)
	return pub, nil
}

// store inserts or refreshes kid, evicting the oldest entry when at capacity.
// With a uniform TTL the oldest entry is always the first to expire.
func (c *KeyCache) store(kid string, key crypto.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[kid]; !exists && len(c.entries) >= c.maxEntries {
		var (
			oldestKid string
			oldestAt  time.Time
		)
		for k, e := range c.entries {
			if oldestKid == "" || e.fetchedAt.Before(oldestAt) {
				oldestKid, oldestAt = k, e.fetchedAt
			}
		}
		delete(c.entries, oldestKid)
	}

	c.entries[kid] = keyEntry{key: key, fetchedAt: c.now()}
}
