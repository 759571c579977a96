// Package fetcher implements the HTTP image-load primitive used by the cache.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	// Register stdlib decoders for image dimension sniffing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/imgprefetch/internal/conf"
	"github.com/tphakala/imgprefetch/internal/errors"
	"github.com/tphakala/imgprefetch/internal/imagecache"
	"github.com/tphakala/imgprefetch/internal/logging"
)

// Package-level logger specific to the fetcher service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "fetcher.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "fetcher", serviceLevelVar)
	if err != nil {
		// Fallback: disable service file logging but keep a usable logger
		log.Printf("Failed to initialize fetcher file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "fetcher")
		closeLogger = func() error { return nil }
	}
}

const (
	userAgentName    = "imgprefetch"
	userAgentContact = "https://github.com/tphakala/imgprefetch"
	userAgentLibrary = "Go-HTTP-Client"
)

// buildUserAgent constructs a default user-agent string.
// Format: <client name>/<version> (<contact information>) <library name>/<version>
func buildUserAgent(appVersion string) string {
	if appVersion == "" {
		appVersion = "unknown"
	}
	return fmt.Sprintf("%s/%s (%s) %s/%s",
		userAgentName, appVersion, userAgentContact, userAgentLibrary, runtime.Version())
}

// Config holds fetcher settings.
type Config struct {
	Timeout     time.Duration // per-request timeout
	RateLimit   float64       // outbound requests per second
	Burst       int           // rate limiter burst size
	UserAgent   string        // custom User-Agent, empty for default
	NegativeTTL time.Duration // how long definitively missing URLs are remembered
	MaxBodySize int64         // maximum accepted image payload in bytes
	Version     string        // application version, used in the default User-Agent
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		RateLimit:   5.0,
		Burst:       10,
		NegativeTTL: 5 * time.Minute,
		MaxBodySize: 32 * 1024 * 1024,
	}
}

// ConfigFromSettings builds a fetcher Config from application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}
	if settings.Fetch.Timeout > 0 {
		cfg.Timeout = settings.Fetch.Timeout
	}
	if settings.Fetch.RateLimit > 0 {
		cfg.RateLimit = settings.Fetch.RateLimit
	}
	if settings.Fetch.Burst > 0 {
		cfg.Burst = settings.Fetch.Burst
	}
	if settings.Fetch.NegativeTTL > 0 {
		cfg.NegativeTTL = settings.Fetch.NegativeTTL
	}
	if settings.Fetch.MaxBodySize > 0 {
		cfg.MaxBodySize = settings.Fetch.MaxBodySize
	}
	cfg.UserAgent = settings.Fetch.UserAgent
	cfg.Version = settings.Version
	return cfg
}

// Client fetches images over HTTP with rate limiting and a negative-result
// cache for URLs that recently turned out to be definitively missing.
// It implements imagecache.Loader.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	negative   *gocache.Cache
	userAgent  string
	debug      bool
}

// NewClient creates a new HTTP image fetcher.
func NewClient(config Config) (*Client, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultConfig().RateLimit
	}
	if config.Burst < 1 {
		config.Burst = DefaultConfig().Burst
	}
	if config.NegativeTTL <= 0 {
		config.NegativeTTL = DefaultConfig().NegativeTTL
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultConfig().MaxBodySize
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = buildUserAgent(config.Version)
	}

	settings := conf.GetSettings()
	debug := settings != nil && settings.Debug

	client := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		negative:  gocache.New(config.NegativeTTL, config.NegativeTTL*2),
		userAgent: userAgent,
		debug:     debug,
	}

	logger.Info("Image fetcher initialized",
		"timeout", config.Timeout,
		"rate_limit", config.RateLimit,
		"burst", config.Burst,
		"negative_ttl", config.NegativeTTL,
		"max_body_size", config.MaxBodySize,
		"user_agent", userAgent)

	return client, nil
}

// Close cleans up fetcher resources.
func (c *Client) Close() {
	logger.Info("Closing image fetcher")
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing fetcher logger: %v", err)
		}
	}
}

// Load fetches the image at url. It satisfies imagecache.Loader.
func (c *Client) Load(ctx context.Context, url string) (*imagecache.Image, error) {
	if url == "" {
		return nil, errors.Newf("image URL must not be empty").
			Category(errors.CategoryValidation).
			Component("fetcher").
			Build()
	}

	// A URL that recently 404'd is not worth another request yet.
	if _, found := c.negative.Get(url); found {
		if c.debug {
			logger.Debug("Negative cache hit", "url", url)
		}
		return nil, errors.Newf("image recently reported missing: %s", url).
			Category(errors.CategoryNotFound).
			Component("fetcher").
			URLContext(url, 0).
			Build()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCancellation).
			Component("fetcher").
			Context("operation", "rate-limit-wait").
			Build()
	}

	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.Newf("failed to create HTTP request: %w", err).
			Category(errors.CategoryNetwork).
			Component("fetcher").
			URLContext(url, c.config.Timeout).
			Context("request_id", reqID).
			Build()
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/*")

	if c.debug {
		logger.Debug("Fetching image",
			"url", url,
			"request_id", reqID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Image request failed",
			"url", url,
			"request_id", reqID,
			"error", err)
		return nil, errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryNetwork).
			Component("fetcher").
			URLContext(url, c.config.Timeout).
			Context("request_id", reqID).
			Build()
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debug("Failed to close response body", "url", url, "error", err)
		}
	}()

	if resp.StatusCode >= 400 {
		// Remember definitively missing URLs so the next batch skips them.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			c.negative.Set(url, true, gocache.DefaultExpiration)
		}
		logger.Warn("Image request rejected",
			"url", url,
			"request_id", reqID,
			"status_code", resp.StatusCode)
		return nil, errors.Newf("image fetch failed with status %d", resp.StatusCode).
			Category(categoryForStatus(resp.StatusCode)).
			Component("fetcher").
			URLContext(url, c.config.Timeout).
			Context("request_id", reqID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return nil, errors.Newf("unexpected content type %q for image", contentType).
			Category(errors.CategoryFileParsing).
			Component("fetcher").
			URLContext(url, c.config.Timeout).
			Context("request_id", reqID).
			Context("content_type", contentType).
			Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodySize+1))
	if err != nil {
		return nil, errors.Newf("failed to read image body: %w", err).
			Category(errors.CategoryNetwork).
			Component("fetcher").
			URLContext(url, c.config.Timeout).
			Context("request_id", reqID).
			Build()
	}
	if int64(len(body)) > c.config.MaxBodySize {
		return nil, errors.Newf("image exceeds maximum size of %d bytes", c.config.MaxBodySize).
			Category(errors.CategoryLimit).
			Component("fetcher").
			URLContext(url, c.config.Timeout).
			Context("request_id", reqID).
			Build()
	}

	img := &imagecache.Image{
		URL:         url,
		ContentType: contentType,
		Data:        body,
		LoadedAt:    time.Now(),
	}

	// Dimensions are best effort; an undecodable payload is still cacheable.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(body)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}

	duration := time.Since(start)
	if c.debug {
		logger.Debug("Image fetched",
			"url", url,
			"request_id", reqID,
			"bytes", len(body),
			"content_type", contentType,
			"duration_ms", duration.Milliseconds())
	} else {
		logger.Info("Image fetched",
			"url", url,
			"bytes", len(body),
			"duration_ms", duration.Milliseconds())
	}

	return img, nil
}

// NegativeCacheLen returns the number of URLs currently held in the
// negative-result cache.
func (c *Client) NegativeCacheLen() int {
	return c.negative.ItemCount()
}

// ClearNegativeCache forgets all remembered missing URLs.
func (c *Client) ClearNegativeCache() {
	c.negative.Flush()
	logger.Info("Negative cache cleared")
}

// categoryForStatus determines the appropriate error category based on HTTP status code
func categoryForStatus(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	case http.StatusNotFound, http.StatusGone:
		return errors.CategoryNotFound
	default:
		return errors.CategoryNetwork
	}
}
