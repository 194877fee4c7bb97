package options

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taleweaver/internal/game"
	"taleweaver/internal/store"
)

// memoryGateway is an in-memory store.Gateway for cache tests; only the
// options methods do real work.
type memoryGateway struct {
	mu    sync.Mutex
	opts  map[string]*game.CachedActionOptions
	saves int
}

func newMemoryGateway() *memoryGateway {
	return &memoryGateway{opts: make(map[string]*game.CachedActionOptions)}
}

func (m *memoryGateway) LoadOptions(sessionID string) (*game.CachedActionOptions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts[sessionID], nil
}

func (m *memoryGateway) SaveOptions(o *game.CachedActionOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts[o.SessionID] = o
	m.saves++
	return nil
}

func (m *memoryGateway) LoadAll() ([]game.SessionSummary, error) { return nil, nil }
func (m *memoryGateway) Load(id string) (*game.Session, error)   { return nil, store.ErrNotFound }
func (m *memoryGateway) Save(s *game.Session) error              { return nil }
func (m *memoryGateway) Delete(id string) error                  { return nil }
func (m *memoryGateway) Export(id string) (*store.PortableRecord, error) {
	return nil, store.ErrNotFound
}
func (m *memoryGateway) Import(r *store.PortableRecord) (string, error) { return "", nil }
func (m *memoryGateway) ValidateImport(r *store.PortableRecord) store.ImportCheck {
	return store.ImportCheck{}
}

func TestCache_HitSkipsFetcher(t *testing.T) {
	gw := newMemoryGateway()
	c := NewCache(gw)

	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"look around"}, nil
	}

	opts, err := c.FetchWithCache(context.Background(), "s1", "fp", "m1", fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"look around"}, opts)
	assert.Equal(t, int32(1), calls.Load())

	// Same fingerprint: served from cache.
	opts, err = c.FetchWithCache(context.Background(), "s1", "fp", "m1", fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"look around"}, opts)
	assert.Equal(t, int32(1), calls.Load())

	// New fingerprint: refetched and written through.
	_, err = c.FetchWithCache(context.Background(), "s1", "fp2", "m2", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	stored, _ := gw.LoadOptions("s1")
	assert.Equal(t, "fp2", stored.CacheKey)
}

func TestCache_CoalescesConcurrentFetches(t *testing.T) {
	c := NewCache(newMemoryGateway())

	var calls atomic.Int32
	var once sync.Once
	started := make(chan struct{})
	gate := make(chan struct{})
	fetch := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-gate
		return []string{"parley"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([][]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opts, err := c.FetchWithCache(context.Background(), "s1", "fp", "m1", fetch)
			assert.NoError(t, err)
			results[i] = opts
		}(i)
	}
	// Hold the flight open until at least one fetch is underway so the
	// stragglers pile onto it.
	<-started
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent identical fetches share one call")
	for _, r := range results {
		assert.Equal(t, []string{"parley"}, r)
	}
}

func TestCache_EmptyResultNotCached(t *testing.T) {
	gw := newMemoryGateway()
	c := NewCache(gw)

	var calls atomic.Int32
	empty := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return nil, nil
	}
	opts, err := c.FetchWithCache(context.Background(), "s1", "fp", "m1", empty)
	require.NoError(t, err)
	assert.Empty(t, opts)
	assert.Zero(t, gw.saves, "empty menus are not written through")

	// Next call fetches again rather than serving the empty menu.
	_, err = c.FetchWithCache(context.Background(), "s1", "fp", "m1", empty)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_FetchErrorClearsFlight(t *testing.T) {
	c := NewCache(newMemoryGateway())

	boom := errors.New("boom")
	_, err := c.FetchWithCache(context.Background(), "s1", "fp", "m1",
		func(ctx context.Context) ([]string, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	// The failed flight must not poison the key.
	opts, err := c.FetchWithCache(context.Background(), "s1", "fp", "m1",
		func(ctx context.Context) ([]string, error) { return []string{"flee"}, nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"flee"}, opts)
}

func TestCache_GetFallsBackToStore(t *testing.T) {
	gw := newMemoryGateway()
	require.NoError(t, gw.SaveOptions(&game.CachedActionOptions{
		SessionID: "s1", CacheKey: "fp", Options: []string{"rest"},
	}))
	c := NewCache(gw)

	got := c.Get("s1")
	require.NotNil(t, got)
	assert.Equal(t, []string{"rest"}, got.Options)

	assert.Nil(t, c.Get("unknown"))
}
