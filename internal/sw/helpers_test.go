package sw

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/config"
	"github.com/zx-tiles/offline-proxy/internal/logging"
)

const testOrigin = "http://tiles.local:5000"

var errNetwork = errors.New("connection refused")

type fakeFetcher struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]*cache.Response
	err       error
	block     chan struct{}
	started   chan struct{}
	panicMsg  string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:     make(map[string]int),
		responses: make(map[string]*cache.Response),
	}
}

func (f *fakeFetcher) respond(url string, status int, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = &cache.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{contentType}},
		Body:   []byte(body),
	}
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	err := f.err
	resp := f.responses[req.URL]
	block := f.block
	started := f.started
	panicMsg := f.panicMsg
	f.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &cache.Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found")}, nil
	}
	return resp.Clone(), nil
}

// brokenStorage 包装真实存储，按需注入 Open/Match 失败。
type brokenStorage struct {
	cache.Storage
	openErr  error
	matchErr error
}

func (s *brokenStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	c, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &brokenCache{Cache: c, matchErr: s.matchErr}, nil
}

type brokenCache struct {
	cache.Cache
	matchErr error
}

func (c *brokenCache) Match(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	if c.matchErr != nil {
		return nil, c.matchErr
	}
	return c.Cache.Match(ctx, req)
}

func testSite(version string) config.SiteConfig {
	return config.SiteConfig{
		Origin:               testOrigin,
		Upstream:             "http://127.0.0.1:8080",
		Version:              version,
		AssetCachePrefix:     config.DefaultAssetCachePrefix,
		ImageCachePrefix:     config.DefaultImageCachePrefix,
		SkipWaitingOnInstall: true,
		ImagePlaceholder:     config.PlaceholderLiteral,
	}
}

type testEnv struct {
	storage cache.Storage
	fetcher *fakeFetcher
	bg      *Background
	reg     *Registration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.Discard()
	bg := NewBackground(logger)
	storage := cache.NewMemoryStorage()
	t.Cleanup(func() {
		bg.Wait()
		_ = storage.Close()
	})
	return &testEnv{
		storage: storage,
		fetcher: newFakeFetcher(),
		bg:      bg,
		reg:     NewRegistration(logger, bg),
	}
}

func (e *testEnv) worker(t *testing.T, site config.SiteConfig) *Worker {
	t.Helper()
	w, err := NewWorker(site, Deps{
		Storage:    e.storage,
		Fetcher:    e.fetcher,
		Background: e.bg,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	return w
}

func (e *testEnv) install(t *testing.T, site config.SiteConfig) *Worker {
	t.Helper()
	w := e.worker(t, site)
	require.NoError(t, e.reg.Install(context.Background(), w))
	return w
}

func (e *testEnv) fetch(t *testing.T, url string) Result {
	t.Helper()
	result, ok := e.reg.Fetch(context.Background(), cache.NewRequest(url))
	require.True(t, ok, "request %s should be intercepted", url)
	e.bg.Wait()
	return result
}

func (e *testEnv) seed(t *testing.T, namespace, url, body string) {
	t.Helper()
	ctx := context.Background()
	c, err := e.storage.Open(ctx, namespace)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, cache.NewRequest(url), &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}))
}
