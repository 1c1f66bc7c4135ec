// Package shellcache implements the app-shell cache lifecycle: a
// versioned, all-or-nothing precached generation serving cache-first
// with network fallback and stale-if-offline behavior.
package shellcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// State is the cache lifecycle state.
type State int

const (
	// StatePending means the current generation is not fully populated;
	// fetches bypass the cache entirely.
	StatePending State = iota
	// StateReady means the current generation is installed and serving.
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "pending"
}

// Entry is one cached response.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Fetcher fetches a request from the app-shell origin.
type Fetcher interface {
	Fetch(ctx context.Context, method, path string) (*Entry, error)
}

// Cache is one live cache generation fronting the shell origin.
type Cache struct {
	store      CacheStore
	upstream   Fetcher
	version    string // generation tag, e.g. "care-hq-v1"
	originHost string
	logger     *zerolog.Logger

	mu    sync.RWMutex
	state State
}

// New creates a cache for the given generation tag. originHost is the
// host whose responses are eligible for write-back; requests without a
// host (relative) count as same-origin.
func New(store CacheStore, upstream Fetcher, version, originHost string, logger *zerolog.Logger) *Cache {
	return &Cache{
		store:      store,
		upstream:   upstream,
		version:    version,
		originHost: originHost,
		logger:     logger,
		state:      StatePending,
	}
}

// Version returns the current generation tag.
func (c *Cache) Version() string {
	return c.version
}

// State returns the lifecycle state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Install precaches the fixed asset list into the current generation.
// All-or-nothing: any failed fetch leaves the cache pending and
// nothing partially served. On success the cache transitions to ready.
func (c *Cache) Install(ctx context.Context, assets []string) error {
	fetched := make(map[string]*Entry, len(assets))
	for _, path := range assets {
		entry, err := c.upstream.Fetch(ctx, http.MethodGet, path)
		if err != nil {
			return fmt.Errorf("install %s: %w", path, err)
		}
		if entry.Status >= 400 {
			return fmt.Errorf("install %s: origin returned %d", path, entry.Status)
		}
		fetched[path] = entry
	}

	for path, entry := range fetched {
		if err := c.store.Put(ctx, c.version, path, *entry); err != nil {
			return fmt.Errorf("install %s: %w", path, err)
		}
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info().Str("generation", c.version).Int("assets", len(assets)).Msg("shell cache installed")
	return nil
}

// Activate deletes every stored generation whose name is not the
// current version tag, leaving at most one live generation.
func (c *Cache) Activate(ctx context.Context) error {
	generations, err := c.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("enumerate generations: %w", err)
	}

	for _, gen := range generations {
		if gen == c.version {
			continue
		}
		if err := c.store.DeleteGeneration(ctx, gen); err != nil {
			return fmt.Errorf("purge generation %s: %w", gen, err)
		}
		c.logger.Info().Str("generation", gen).Msg("stale shell cache purged")
	}
	return nil
}

// Fetch serves a request cache-first. Misses go to the origin; a
// successful same-origin GET response is written back for future hits.
// On origin failure a cached copy is served if one exists, otherwise
// the error surfaces. Non-GET requests always bypass the cache and are
// never written back.
func (c *Cache) Fetch(ctx context.Context, req *http.Request) (*Entry, error) {
	if req.Method != http.MethodGet || c.State() != StateReady {
		return c.upstream.Fetch(ctx, req.Method, req.URL.RequestURI())
	}

	key := req.URL.RequestURI()
	if hit, err := c.store.Get(ctx, c.version, key); err == nil && hit != nil {
		return hit, nil
	} else if err != nil {
		c.logger.Debug().Str("key", key).Err(err).Msg("cache read failed")
	}

	entry, err := c.upstream.Fetch(ctx, http.MethodGet, key)
	if err != nil {
		// Stale-if-offline: a copy cached since the miss still counts.
		if hit, hitErr := c.store.Get(ctx, c.version, key); hitErr == nil && hit != nil {
			return hit, nil
		}
		return nil, err
	}

	if c.cacheable(req, entry) {
		if putErr := c.store.Put(ctx, c.version, key, *entry); putErr != nil {
			c.logger.Debug().Str("key", key).Err(putErr).Msg("cache write-back failed")
		}
	}
	return entry, nil
}

// cacheable reports whether a response may be written back: GET only,
// same origin only, 2xx only.
func (c *Cache) cacheable(req *http.Request, entry *Entry) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if entry.Status < 200 || entry.Status >= 300 {
		return false
	}
	host := req.URL.Host
	return host == "" || strings.EqualFold(host, c.originHost)
}
