// Package preload decides which images to preload and when, given a moving
// cursor over an ordered URL sequence.
package preload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/imgprefetch/internal/imagecache"
	"github.com/tphakala/imgprefetch/internal/observability/metrics"
)

const (
	// DefaultRange is the default window radius around the cursor.
	DefaultRange = 2
	// DefaultDelay is the default debounce delay for cursor moves.
	DefaultDelay = 100 * time.Millisecond
)

// Config controls scheduling behavior.
type Config struct {
	Enabled bool          // false disables cursor-driven scheduling
	Range   int           // window radius around the cursor
	Delay   time.Duration // debounce delay before a cursor move dispatches
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Range:   DefaultRange,
		Delay:   DefaultDelay,
	}
}

// Scheduler debounces cursor moves and dispatches preload batches against a
// shared image cache store. Requests within a batch are reserved in priority
// order but load concurrently; the batch settles when every request has
// either loaded or failed, and individual failures never abort the rest.
type Scheduler struct {
	store   *imagecache.Store
	config  Config
	logger  *slog.Logger
	metrics *metrics.PrefetchMetrics

	mu      sync.Mutex
	urls    []string
	timer   *time.Timer
	closed  bool
	batches sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used by the scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics attaches prefetch metrics to the scheduler.
func WithMetrics(m *metrics.PrefetchMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a Scheduler backed by the given store.
func NewScheduler(store *imagecache.Store, config Config, opts ...Option) *Scheduler {
	if config.Range < 0 {
		config.Range = DefaultRange
	}
	if config.Delay <= 0 {
		config.Delay = DefaultDelay
	}
	s := &Scheduler{
		store:  store,
		config: config,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("service", "preload")
	}
	return s
}

// SetSequence replaces the URL sequence the scheduler preloads from.
// The slice is copied; later mutation by the caller has no effect.
func (s *Scheduler) SetSequence(urls []string) {
	copied := make([]string, len(urls))
	copy(copied, urls)

	s.mu.Lock()
	s.urls = copied
	s.mu.Unlock()
}

// MoveTo registers a cursor move. The actual window computation runs after
// the debounce delay; a newer cursor value cancels the pending computation
// and restarts the delay, so rapid moves dispatch only the last position.
// Already-dispatched batches are never cancelled.
func (s *Scheduler) MoveTo(cursor int) {
	if !s.config.Enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.config.Delay, func() {
		s.dispatch(cursor)
	})
}

// PreloadNow computes the window for cursor and dispatches the batch
// immediately, bypassing the debounce delay, then waits for it to settle.
// It returns the number of requested URLs and the number of failed loads.
func (s *Scheduler) PreloadNow(cursor int) (requested, failed int) {
	return s.dispatch(cursor)
}

// dispatch computes the preload window for cursor and issues the batch.
func (s *Scheduler) dispatch(cursor int) (requested, failed int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, 0
	}
	urls := s.urls
	s.batches.Add(1)
	s.mu.Unlock()
	defer s.batches.Done()

	window := ComputeWindow(cursor, len(urls), s.config.Range)

	// Map indices to URLs, skipping anything out of range or empty.
	targets := make([]string, 0, len(window))
	for _, idx := range window {
		if idx < 0 || idx >= len(urls) || urls[idx] == "" {
			continue
		}
		targets = append(targets, urls[idx])
	}
	if len(targets) == 0 {
		return 0, 0
	}

	if s.metrics != nil {
		s.metrics.IncrementScheduledBatches()
	}

	start := time.Now()
	failures := s.requestAll(targets)

	if s.metrics != nil && failures > 0 {
		s.metrics.AddBatchFailures(failures)
	}
	s.logger.Info("Preload batch settled",
		"cursor", cursor,
		"requested", len(targets),
		"loaded", len(targets)-failures,
		"failed", failures,
		"duration_ms", time.Since(start).Milliseconds())
	return len(targets), failures
}

// requestAll reserves one cache entry per URL in the given priority order,
// then waits for every load to settle. Reservation is synchronous so the
// cursor's URL always claims its entry first; the loads themselves run
// concurrently once reserved. It returns the number of failed loads.
func (s *Scheduler) requestAll(targets []string) int {
	settles := make([]func() (*imagecache.Image, error), len(targets))
	for i, url := range targets {
		settles[i] = s.store.RequestAsync(context.Background(), url)
	}

	failures := 0
	for i, settle := range settles {
		if _, err := settle(); err != nil {
			failures++
			// Recorded on the entry already; log for observability only.
			s.logger.Warn("Preload failed", "url", targets[i], "error", err)
		}
	}
	return failures
}

// PreloadImage requests a single URL directly, bypassing the debounced
// scheduling path. It works even when scheduling is disabled.
func (s *Scheduler) PreloadImage(ctx context.Context, url string) (*imagecache.Image, error) {
	return s.store.Request(ctx, url)
}

// IsImageCached reports whether url is fully loaded in the cache.
func (s *Scheduler) IsImageCached(url string) bool {
	return s.store.IsCached(url)
}

// CacheStatus summarizes cache state for the given URLs.
func (s *Scheduler) CacheStatus(urls []string) imagecache.CacheStatus {
	return s.store.Status(urls)
}

// ClearCache removes every cache entry.
func (s *Scheduler) ClearCache() {
	s.store.Clear()
}

// Close cancels any pending debounced computation and waits for running
// batches to settle. The scheduler must not be used afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.batches.Wait()
}
