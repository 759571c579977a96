// Package imagecache provides a shared, deduplicated cache for preloaded images.
package imagecache

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/tphakala/imgprefetch/internal/errors"
	"github.com/tphakala/imgprefetch/internal/observability/metrics"
)

// Loader is the underlying image-load primitive. Given a URL it either
// returns a usable image or an error; the cache only consumes its outcome.
type Loader interface {
	Load(ctx context.Context, url string) (*Image, error)
}

// Image represents a loaded image resource with its metadata.
type Image struct {
	URL         string
	ContentType string
	Data        []byte
	Width       int
	Height      int
	LoadedAt    time.Time
}

// EstimateSize estimates the memory size of an Image instance in bytes.
func (img *Image) EstimateSize() int {
	return int(unsafe.Sizeof(*img)) + len(img.URL) + len(img.ContentType) + len(img.Data)
}

// Status describes the load state tracked for a URL.
// A URL with no entry is simply not represented; there is no explicit idle state.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusLoading
	StatusLoaded
	StatusErrored
)

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// entry tracks the load state for one URL. Fields other than done are
// written only while holding the store mutex; done is closed exactly once,
// after the terminal status has been recorded.
type entry struct {
	url    string
	status Status
	img    *Image
	err    error
	done   chan struct{}
}

// CacheStatus is a point-in-time summary of cache state for a set of URLs.
type CacheStatus struct {
	Total      int     `json:"total"`
	Cached     int     `json:"cached"`
	Loading    int     `json:"loading"`
	CacheRatio float64 `json:"cache_ratio"`
}

// Store is the single source of truth for per-URL load state. It guarantees
// at most one in-flight load per URL: concurrent requests for the same URL
// share one underlying load and settle together.
//
// A Store is an injectable instance; construct one per application session
// and pass it to every component that needs it.
type Store struct {
	loader  Loader
	metrics *metrics.PrefetchMetrics
	logger  *slog.Logger
	debug   bool

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches prefetch metrics to the store.
func WithMetrics(m *metrics.PrefetchMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithDebug enables debug logging of cache operations.
func WithDebug(debug bool) Option {
	return func(s *Store) { s.debug = debug }
}

// New creates a Store backed by the given loader.
func New(loader Loader, opts ...Option) *Store {
	s := &Store{
		loader:  loader,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("service", "imagecache")
	}
	return s
}

// Request returns the image for url, loading it if necessary.
//
// If the URL is already loaded the cached image is returned immediately.
// If a load is in flight the caller waits for that load to settle and shares
// its outcome; no second load is started. Otherwise a new load begins, and
// its result settles every waiter at once.
//
// A previously failed URL is retried: the errored entry is replaced by a
// fresh loading entry on the next request.
//
// Context cancellation releases the caller, initiator and waiter alike, but
// never interrupts the underlying load: it runs detached to completion and
// populates the cache.
func (s *Store) Request(ctx context.Context, url string) (*Image, error) {
	return s.RequestAsync(ctx, url)()
}

// RequestAsync reserves the cache entry for url immediately and returns a
// settle function that blocks until the outcome is available. Entries are
// reserved in call order, so a batch can pin its priority order by reserving
// sequentially and settling afterwards; the loads themselves run concurrently.
func (s *Store) RequestAsync(ctx context.Context, url string) func() (*Image, error) {
	if url == "" {
		err := errors.Newf("image URL must not be empty").
			Category(errors.CategoryValidation).
			Component("imagecache").
			Build()
		return func() (*Image, error) { return nil, err }
	}
	if s.loader == nil {
		err := errors.Newf("image loader not available").
			Category(errors.CategoryImageCache).
			Component("imagecache").
			Build()
		return func() (*Image, error) { return nil, err }
	}

	s.mu.Lock()
	if e, ok := s.entries[url]; ok {
		switch e.status {
		case StatusLoaded:
			img := e.img
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.IncrementCacheHits()
			}
			if s.debug {
				s.logger.Debug("Cache hit", "url", url)
			}
			return func() (*Image, error) { return img, nil }
		case StatusLoading:
			s.mu.Unlock()
			return func() (*Image, error) { return s.wait(ctx, e) }
		case StatusErrored:
			// Errored is not sticky; fall through and start a new attempt.
			if s.debug {
				s.logger.Debug("Retrying previously failed URL", "url", url)
			}
		}
	}

	e := &entry{
		url:    url,
		status: StatusLoading,
		done:   make(chan struct{}),
	}
	s.entries[url] = e
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncrementCacheMisses()
	}

	// The load is detached from the caller's context: cancelling the
	// initiator must not abort a download other callers are waiting on.
	go s.load(context.WithoutCancel(ctx), e)

	return func() (*Image, error) { return s.wait(ctx, e) }
}

// wait blocks until the entry's in-flight load settles or the context is done.
func (s *Store) wait(ctx context.Context, e *entry) (*Image, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Category(errors.CategoryCancellation).
			Component("imagecache").
			Context("url", e.url).
			Build()
	}

	s.mu.Lock()
	img, err := e.img, e.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return img, nil
}

// load runs the underlying load for a freshly created entry and settles it.
// The entry is settled even if it was detached by a concurrent Clear; the
// completion then writes only into the detached entry and the cleared key
// stays unrepresented.
func (s *Store) load(ctx context.Context, e *entry) {
	start := time.Now()
	img, err := s.loader.Load(ctx, e.url)
	duration := time.Since(start)

	s.mu.Lock()
	if err != nil {
		e.status = StatusErrored
		e.err = errors.Newf("image load failed for %s: %w", e.url, err).
			Category(errors.CategoryImageFetch).
			Component("imagecache").
			Context("url", e.url).
			Timing("load", duration).
			Build()
	} else {
		e.status = StatusLoaded
		e.img = img
	}
	close(e.done)
	s.mu.Unlock()

	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementDownloadErrors()
		}
		if s.debug {
			s.logger.Debug("Image load failed", "url", e.url, "error", err)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.IncrementImageDownloads()
		s.metrics.ObserveDownloadDuration(duration.Seconds())
	}
	s.updateSizeMetric()

	if s.debug {
		s.logger.Debug("Image loaded",
			"url", e.url,
			"bytes", len(img.Data),
			"duration_ms", duration.Milliseconds())
	}
}

// IsCached reports whether url has a completed, successful load.
func (s *Store) IsCached(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	return ok && e.status == StatusLoaded
}

// Clear removes all entries unconditionally. In-flight loads are not
// cancelled; they settle into their detached entries and never resurrect
// cleared keys.
func (s *Store) Clear() {
	s.mu.Lock()
	count := len(s.entries)
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	s.updateSizeMetric()
	s.logger.Info("Image cache cleared", "entries", count)
}

// Status summarizes cache state for the given URLs. Cached counts only the
// given URLs; Loading counts in-flight loads across the entire store.
func (s *Store) Status(urls []string) CacheStatus {
	st := CacheStatus{Total: len(urls)}

	s.mu.Lock()
	for _, url := range urls {
		if e, ok := s.entries[url]; ok && e.status == StatusLoaded {
			st.Cached++
		}
	}
	for _, e := range s.entries {
		if e.status == StatusLoading {
			st.Loading++
		}
	}
	s.mu.Unlock()

	if st.Total > 0 {
		st.CacheRatio = float64(st.Cached) / float64(st.Total)
	}
	return st
}

// StatusOf returns the tracked status for a single URL.
func (s *Store) StatusOf(url string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[url]; ok {
		return e.status
	}
	return StatusUnknown
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MemoryUsage returns the approximate memory usage of cached images in bytes.
func (s *Store) MemoryUsage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, e := range s.entries {
		if e.status == StatusLoaded && e.img != nil {
			total += e.img.EstimateSize()
		}
	}
	return total
}

func (s *Store) updateSizeMetric() {
	if s.metrics != nil {
		s.metrics.SetCacheSize(float64(s.MemoryUsage()))
	}
}
