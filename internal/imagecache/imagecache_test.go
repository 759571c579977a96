package imagecache_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/imgprefetch/internal/imagecache"
)

// mockLoader is a mock implementation of the Loader interface
type mockLoader struct {
	loadCount  atomic.Int64
	shouldFail atomic.Bool
	loadDelay  time.Duration
	release    chan struct{} // when set, Load blocks until closed
	blockURL   string        // when set, only this URL blocks on release
}

func (m *mockLoader) Load(ctx context.Context, url string) (*imagecache.Image, error) {
	count := m.loadCount.Add(1)

	if m.release != nil && (m.blockURL == "" || m.blockURL == url) {
		<-m.release
	}
	if m.loadDelay > 0 {
		time.Sleep(m.loadDelay)
	}

	if m.shouldFail.Load() {
		return nil, fmt.Errorf("mock load error for %s", url)
	}

	return &imagecache.Image{
		URL:         url,
		ContentType: "image/jpeg",
		Data:        []byte(fmt.Sprintf("payload-%s-%d", url, count)),
		LoadedAt:    time.Now(),
	}, nil
}

func TestRequestLoadsAndCaches(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{}
	store := imagecache.New(loader)

	img, err := store.Request(context.Background(), "http://example.com/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "http://example.com/a.jpg", img.URL)
	assert.True(t, store.IsCached("http://example.com/a.jpg"))
	assert.Equal(t, imagecache.StatusLoaded, store.StatusOf("http://example.com/a.jpg"))

	// Second request is a cache hit and must not trigger another load.
	img2, err := store.Request(context.Background(), "http://example.com/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, img, img2)
	assert.Equal(t, int64(1), loader.loadCount.Load())
}

func TestRequestDeduplicatesConcurrentLoads(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{release: make(chan struct{})}
	store := imagecache.New(loader)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*imagecache.Image, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = store.Request(context.Background(), "http://example.com/shared.jpg")
		}()
	}

	// Give every caller time to reach the store before the load settles.
	require.Eventually(t, func() bool {
		return store.StatusOf("http://example.com/shared.jpg") == imagecache.StatusLoading
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}
	assert.Equal(t, int64(1), loader.loadCount.Load(), "concurrent requests must share one load")
}

func TestRequestFailureIsNotSticky(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{}
	loader.shouldFail.Store(true)
	store := imagecache.New(loader)

	_, err := store.Request(context.Background(), "http://example.com/x.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock load error")
	assert.Equal(t, imagecache.StatusErrored, store.StatusOf("http://example.com/x.jpg"))
	assert.False(t, store.IsCached("http://example.com/x.jpg"))

	// A later request starts a fresh attempt rather than replaying the failure.
	loader.shouldFail.Store(false)
	img, err := store.Request(context.Background(), "http://example.com/x.jpg")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, int64(2), loader.loadCount.Load())
	assert.True(t, store.IsCached("http://example.com/x.jpg"))
}

func TestWaiterSharesFailure(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{release: make(chan struct{})}
	loader.shouldFail.Store(true)
	store := imagecache.New(loader)

	var wg sync.WaitGroup
	var firstErr, secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = store.Request(context.Background(), "http://example.com/y.jpg")
	}()
	require.Eventually(t, func() bool {
		return store.StatusOf("http://example.com/y.jpg") == imagecache.StatusLoading
	}, time.Second, 5*time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, secondErr = store.Request(context.Background(), "http://example.com/y.jpg")
	}()
	time.Sleep(20 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	require.Error(t, firstErr)
	require.Error(t, secondErr)
	assert.Equal(t, int64(1), loader.loadCount.Load())
}

func TestWaiterContextCancellation(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{release: make(chan struct{})}
	store := imagecache.New(loader)

	go func() {
		_, _ = store.Request(context.Background(), "http://example.com/slow.jpg")
	}()
	require.Eventually(t, func() bool {
		return store.StatusOf("http://example.com/slow.jpg") == imagecache.StatusLoading
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Request(ctx, "http://example.com/slow.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The load itself is unaffected by the waiter's cancellation.
	close(loader.release)
	require.Eventually(t, func() bool {
		return store.IsCached("http://example.com/slow.jpg")
	}, time.Second, 5*time.Millisecond)
}

func TestInitiatorCancellationDoesNotAbortLoad(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{release: make(chan struct{})}
	store := imagecache.New(loader)
	const url = "http://example.com/shared-load.jpg"

	// Initiator with a cancellable context starts the load.
	ctx, cancel := context.WithCancel(context.Background())
	var initErr error
	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		_, initErr = store.Request(ctx, url)
	}()
	require.Eventually(t, func() bool {
		return store.StatusOf(url) == imagecache.StatusLoading
	}, time.Second, 5*time.Millisecond)

	// A second caller with a live context joins the in-flight load.
	var waitImg *imagecache.Image
	var waitErr error
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		waitImg, waitErr = store.Request(context.Background(), url)
	}()
	time.Sleep(20 * time.Millisecond)

	// Cancelling the initiator releases it without touching the download.
	cancel()
	<-initDone
	require.Error(t, initErr)
	assert.ErrorIs(t, initErr, context.Canceled)

	close(loader.release)
	<-waitDone
	require.NoError(t, waitErr)
	require.NotNil(t, waitImg)
	assert.True(t, store.IsCached(url))
	assert.Equal(t, int64(1), loader.loadCount.Load())
}

func TestRequestAsyncReservesInOrder(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{release: make(chan struct{})}
	store := imagecache.New(loader)

	// Each reservation is visible before any load settles.
	settleA := store.RequestAsync(context.Background(), "http://example.com/first.jpg")
	assert.Equal(t, imagecache.StatusLoading, store.StatusOf("http://example.com/first.jpg"))
	settleB := store.RequestAsync(context.Background(), "http://example.com/second.jpg")
	assert.Equal(t, imagecache.StatusLoading, store.StatusOf("http://example.com/second.jpg"))
	require.Equal(t, 2, store.Len())

	// A duplicate reservation joins the first entry rather than loading again.
	settleA2 := store.RequestAsync(context.Background(), "http://example.com/first.jpg")

	close(loader.release)
	_, errA := settleA()
	_, errB := settleB()
	imgA2, errA2 := settleA2()
	require.NoError(t, errA)
	require.NoError(t, errB)
	require.NoError(t, errA2)
	require.NotNil(t, imgA2)
	assert.Equal(t, int64(2), loader.loadCount.Load())
}

func TestClearRemovesAllEntries(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{}
	store := imagecache.New(loader)

	urls := []string{"http://example.com/1.jpg", "http://example.com/2.jpg", "http://example.com/3.jpg"}
	for _, url := range urls {
		_, err := store.Request(context.Background(), url)
		require.NoError(t, err)
	}
	require.Equal(t, 3, store.Len())

	store.Clear()

	assert.Equal(t, 0, store.Len())
	for _, url := range urls {
		assert.False(t, store.IsCached(url))
		assert.Equal(t, imagecache.StatusUnknown, store.StatusOf(url))
	}
}

func TestClearDoesNotResurrectInFlightLoads(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{release: make(chan struct{})}
	store := imagecache.New(loader)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = store.Request(context.Background(), "http://example.com/inflight.jpg")
	}()
	require.Eventually(t, func() bool {
		return store.StatusOf("http://example.com/inflight.jpg") == imagecache.StatusLoading
	}, time.Second, 5*time.Millisecond)

	store.Clear()
	close(loader.release)
	<-done

	// The settled load wrote into the detached entry only.
	assert.False(t, store.IsCached("http://example.com/inflight.jpg"))
	assert.Equal(t, 0, store.Len())
}

func TestStatusEmptyInput(t *testing.T) {
	t.Parallel()
	store := imagecache.New(&mockLoader{})

	st := store.Status(nil)
	assert.Equal(t, imagecache.CacheStatus{}, st)

	st = store.Status([]string{})
	assert.Equal(t, 0, st.Total)
	assert.Equal(t, 0, st.Cached)
	assert.Equal(t, 0, st.Loading)
	assert.InDelta(t, 0.0, st.CacheRatio, 0.0001)
}

func TestStatusCountsScopedAndGlobal(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{
		release:  make(chan struct{}),
		blockURL: "http://example.com/other.jpg",
	}
	store := imagecache.New(loader)

	_, err := store.Request(context.Background(), "http://example.com/a.jpg")
	require.NoError(t, err)
	_, err = store.Request(context.Background(), "http://example.com/b.jpg")
	require.NoError(t, err)

	// Start an in-flight load outside the queried URL set.
	go func() {
		_, _ = store.Request(context.Background(), "http://example.com/other.jpg")
	}()
	require.Eventually(t, func() bool {
		return store.StatusOf("http://example.com/other.jpg") == imagecache.StatusLoading
	}, time.Second, 5*time.Millisecond)

	st := store.Status([]string{"http://example.com/a.jpg", "http://example.com/b.jpg", "http://example.com/missing.jpg"})
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Cached)
	assert.Equal(t, 1, st.Loading, "loading is counted across the entire store")
	assert.InDelta(t, 2.0/3.0, st.CacheRatio, 0.0001)

	close(loader.release)
}

func TestRequestEmptyURL(t *testing.T) {
	t.Parallel()
	store := imagecache.New(&mockLoader{})

	_, err := store.Request(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestRequestWithoutLoader(t *testing.T) {
	t.Parallel()
	store := imagecache.New(nil)

	_, err := store.Request(context.Background(), "http://example.com/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loader not available")
}

func TestMemoryUsage(t *testing.T) {
	t.Parallel()
	loader := &mockLoader{}
	store := imagecache.New(loader)

	require.Equal(t, 0, store.MemoryUsage())
	_, err := store.Request(context.Background(), "http://example.com/a.jpg")
	require.NoError(t, err)
	assert.Positive(t, store.MemoryUsage())

	store.Clear()
	assert.Equal(t, 0, store.MemoryUsage())
}
