package shellcache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubOrigin is a scriptable upstream.
type stubOrigin struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	failAll  bool
	fetches  int
	lastPath string
}

func newStubOrigin() *stubOrigin {
	return &stubOrigin{entries: map[string]*Entry{
		"/":              {Status: 200, ContentType: "text/html", Body: []byte("<html>shell</html>")},
		"/index.html":    {Status: 200, ContentType: "text/html", Body: []byte("<html>shell</html>")},
		"/manifest.json": {Status: 200, ContentType: "application/json", Body: []byte("{}")},
	}}
}

func (o *stubOrigin) Fetch(ctx context.Context, method, path string) (*Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
	o.lastPath = path
	if o.failAll {
		return nil, errors.New("origin unreachable")
	}
	if e, ok := o.entries[path]; ok {
		cp := *e
		return &cp, nil
	}
	return &Entry{Status: 404, ContentType: "text/plain", Body: []byte("not found")}, nil
}

func (o *stubOrigin) fetchCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fetches
}

var testLogger = zerolog.New(os.Stderr).Level(zerolog.Disabled)

func newTestCache(origin Fetcher) (*Cache, *MemoryStore) {
	store := NewMemoryStore()
	return New(store, origin, "care-hq-v1", "app.example", &testLogger), store
}

func getReq(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &http.Request{Method: http.MethodGet, URL: u}
}

var shellAssets = []string{"/", "/index.html", "/manifest.json"}

func TestInstallPopulatesAndBecomesReady(t *testing.T) {
	c, store := newTestCache(newStubOrigin())
	ctx := context.Background()

	assert.Equal(t, StatePending, c.State())
	require.NoError(t, c.Install(ctx, shellAssets))
	assert.Equal(t, StateReady, c.State())

	for _, path := range shellAssets {
		e, err := store.Get(ctx, "care-hq-v1", path)
		require.NoError(t, err)
		require.NotNil(t, e, "asset %s must be precached", path)
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	origin := newStubOrigin()
	delete(origin.entries, "/manifest.json") // origin will 404 this one
	c, store := newTestCache(origin)
	ctx := context.Background()

	err := c.Install(ctx, shellAssets)
	require.Error(t, err)
	assert.Equal(t, StatePending, c.State(), "failed install must leave the cache pending")

	// Nothing partially stored.
	for _, path := range shellAssets {
		e, err := store.Get(ctx, "care-hq-v1", path)
		require.NoError(t, err)
		assert.Nil(t, e)
	}
}

func TestActivatePurgesExactlyStaleGenerations(t *testing.T) {
	c, store := newTestCache(newStubOrigin())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "care-hq-v0", "/", Entry{Status: 200}))
	require.NoError(t, store.Put(ctx, "care-hq-v1", "/", Entry{Status: 200}))

	require.NoError(t, c.Activate(ctx))

	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"care-hq-v1"}, gens, "exactly care-hq-v0 deleted")
}

func TestFetchCacheFirst(t *testing.T) {
	origin := newStubOrigin()
	c, _ := newTestCache(origin)
	ctx := context.Background()

	require.NoError(t, c.Install(ctx, shellAssets))
	installFetches := origin.fetchCount()

	e, err := c.Fetch(ctx, getReq(t, "/index.html"))
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>shell</html>"), e.Body)
	assert.Equal(t, installFetches, origin.fetchCount(), "cache hit must not touch the origin")
}

func TestFetchMissPopulatesWriteThrough(t *testing.T) {
	origin := newStubOrigin()
	origin.entries["/app.js"] = &Entry{Status: 200, ContentType: "application/javascript", Body: []byte("js")}
	c, store := newTestCache(origin)
	ctx := context.Background()
	require.NoError(t, c.Install(ctx, shellAssets))

	_, err := c.Fetch(ctx, getReq(t, "/app.js"))
	require.NoError(t, err)

	cached, err := store.Get(ctx, "care-hq-v1", "/app.js")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, []byte("js"), cached.Body)

	// Second fetch is served from cache.
	before := origin.fetchCount()
	_, err = c.Fetch(ctx, getReq(t, "/app.js"))
	require.NoError(t, err)
	assert.Equal(t, before, origin.fetchCount())
}

func TestFetchStaleIfOffline(t *testing.T) {
	origin := newStubOrigin()
	c, _ := newTestCache(origin)
	ctx := context.Background()
	require.NoError(t, c.Install(ctx, shellAssets))

	origin.failAll = true

	e, err := c.Fetch(ctx, getReq(t, "/index.html"))
	require.NoError(t, err, "precached asset must survive origin failure")
	assert.Equal(t, []byte("<html>shell</html>"), e.Body)

	// Never-cached path fails observably.
	_, err = c.Fetch(ctx, getReq(t, "/uncached.js"))
	assert.Error(t, err)
}

func TestNonGetIsNeverCached(t *testing.T) {
	origin := newStubOrigin()
	c, store := newTestCache(origin)
	ctx := context.Background()
	require.NoError(t, c.Install(ctx, shellAssets))

	u, _ := url.Parse("/api/doctors")
	origin.entries["/api/doctors"] = &Entry{Status: 200, ContentType: "application/json", Body: []byte(`{"ok":true}`)}

	_, err := c.Fetch(ctx, &http.Request{Method: http.MethodPost, URL: u})
	require.NoError(t, err)

	cached, err := store.Get(ctx, "care-hq-v1", "/api/doctors")
	require.NoError(t, err)
	assert.Nil(t, cached, "POST response must never be written back")
}

func TestCrossOriginGetIsNeverCached(t *testing.T) {
	origin := newStubOrigin()
	origin.entries["/widget.js"] = &Entry{Status: 200, ContentType: "application/javascript", Body: []byte("x")}
	c, store := newTestCache(origin)
	ctx := context.Background()
	require.NoError(t, c.Install(ctx, shellAssets))

	_, err := c.Fetch(ctx, getReq(t, "https://cdn.example/widget.js"))
	require.NoError(t, err)

	cached, err := store.Get(ctx, "care-hq-v1", "/widget.js")
	require.NoError(t, err)
	assert.Nil(t, cached, "cross-origin response must never be written back")
}

func TestErrorStatusIsNeverCached(t *testing.T) {
	origin := newStubOrigin()
	c, store := newTestCache(origin)
	ctx := context.Background()
	require.NoError(t, c.Install(ctx, shellAssets))

	_, err := c.Fetch(ctx, getReq(t, "/missing.js"))
	require.NoError(t, err)

	cached, err := store.Get(ctx, "care-hq-v1", "/missing.js")
	require.NoError(t, err)
	assert.Nil(t, cached, "404 response must never be written back")
}

func TestPendingCacheBypassesStore(t *testing.T) {
	origin := newStubOrigin()
	c, store := newTestCache(origin)
	ctx := context.Background()

	// No install: cache stays pending, requests pass straight through.
	e, err := c.Fetch(ctx, getReq(t, "/index.html"))
	require.NoError(t, err)
	assert.Equal(t, 200, e.Status)

	cached, err := store.Get(ctx, "care-hq-v1", "/index.html")
	require.NoError(t, err)
	assert.Nil(t, cached, "pending cache must not serve or store anything")
}
