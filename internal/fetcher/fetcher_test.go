package fetcher

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyGIF is a valid 1x1 GIF header, enough for image.DecodeConfig.
var tinyGIF = []byte{
	'G', 'I', 'F', '8', '9', 'a',
	0x01, 0x00, // width 1
	0x01, 0x00, // height 1
	0x00, 0x00, 0x00,
}

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func newTestClient(t *testing.T, config Config) *Client {
	t.Helper()
	client, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func imageResponder(contentType string, body []byte) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", contentType)
		return resp, nil
	}
}

func TestLoadSuccess(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/cat.gif"
	httpmock.RegisterResponder(http.MethodGet, url, imageResponder("image/gif", tinyGIF))

	client := newTestClient(t, DefaultConfig())

	img, err := client.Load(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, url, img.URL)
	assert.Equal(t, "image/gif", img.ContentType)
	assert.Equal(t, tinyGIF, img.Data)
	assert.Equal(t, 1, img.Width)
	assert.Equal(t, 1, img.Height)
	assert.WithinDuration(t, time.Now(), img.LoadedAt, time.Minute)
}

func TestLoadUndecodableImageStillCached(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/raw.jpg"
	payload := []byte("not actually a jpeg")
	httpmock.RegisterResponder(http.MethodGet, url, imageResponder("image/jpeg", payload))

	client := newTestClient(t, DefaultConfig())

	img, err := client.Load(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, payload, img.Data)
	// Dimension sniffing is best effort only.
	assert.Equal(t, 0, img.Width)
	assert.Equal(t, 0, img.Height)
}

func TestLoadSetsUserAgent(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/ua.gif"
	var gotUserAgent string
	httpmock.RegisterResponder(http.MethodGet, url, func(req *http.Request) (*http.Response, error) {
		gotUserAgent = req.Header.Get("User-Agent")
		resp := httpmock.NewBytesResponse(http.StatusOK, tinyGIF)
		resp.Header.Set("Content-Type", "image/gif")
		return resp, nil
	})

	config := DefaultConfig()
	config.Version = "1.2.3"
	client := newTestClient(t, config)

	_, err := client.Load(context.Background(), url)
	require.NoError(t, err)
	assert.Contains(t, gotUserAgent, "imgprefetch/1.2.3")
}

func TestLoadCustomUserAgent(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/custom-ua.gif"
	var gotUserAgent string
	httpmock.RegisterResponder(http.MethodGet, url, func(req *http.Request) (*http.Response, error) {
		gotUserAgent = req.Header.Get("User-Agent")
		resp := httpmock.NewBytesResponse(http.StatusOK, tinyGIF)
		resp.Header.Set("Content-Type", "image/gif")
		return resp, nil
	})

	config := DefaultConfig()
	config.UserAgent = "gallery-viewer/9.9"
	client := newTestClient(t, config)

	_, err := client.Load(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "gallery-viewer/9.9", gotUserAgent)
}

func TestLoadHTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errSubstr  string
	}{
		{"bad_request", http.StatusBadRequest, "status 400"},
		{"forbidden", http.StatusForbidden, "status 403"},
		{"not_found", http.StatusNotFound, "status 404"},
		{"too_many_requests", http.StatusTooManyRequests, "status 429"},
		{"internal_server_error", http.StatusInternalServerError, "status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupHTTPMock(t)
			const url = "https://example.com/images/err.jpg"
			httpmock.RegisterResponder(http.MethodGet, url,
				httpmock.NewStringResponder(tt.statusCode, "error"))

			client := newTestClient(t, DefaultConfig())

			img, err := client.Load(context.Background(), url)
			require.Error(t, err)
			assert.Nil(t, img)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestLoadNotFoundEntersNegativeCache(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/gone.jpg"
	httpmock.RegisterResponder(http.MethodGet, url,
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	client := newTestClient(t, DefaultConfig())

	_, err := client.Load(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, 1, client.NegativeCacheLen())

	// The second load fails fast without a network request.
	_, err = client.Load(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recently reported missing")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	// After a clear the URL is fetched again.
	client.ClearNegativeCache()
	_, err = client.Load(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestLoadTransientErrorDoesNotEnterNegativeCache(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/flaky.jpg"
	httpmock.RegisterResponder(http.MethodGet, url,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "try later"))

	client := newTestClient(t, DefaultConfig())

	_, err := client.Load(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, 0, client.NegativeCacheLen())

	// Transient failures are retried immediately.
	_, err = client.Load(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestLoadRejectsNonImageContentType(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/page.html"
	httpmock.RegisterResponder(http.MethodGet, url,
		imageResponder("text/html; charset=utf-8", []byte("<html></html>")))

	client := newTestClient(t, DefaultConfig())

	_, err := client.Load(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestLoadRejectsOversizedBody(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/huge.jpg"
	httpmock.RegisterResponder(http.MethodGet, url,
		imageResponder("image/jpeg", make([]byte, 2048)))

	config := DefaultConfig()
	config.MaxBodySize = 1024
	client := newTestClient(t, config)

	_, err := client.Load(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum size")
}

func TestLoadEmptyURL(t *testing.T) {
	client := newTestClient(t, DefaultConfig())

	_, err := client.Load(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestLoadCancelledContext(t *testing.T) {
	setupHTTPMock(t)
	const url = "https://example.com/images/cancel.jpg"
	httpmock.RegisterResponder(http.MethodGet, url, imageResponder("image/gif", tinyGIF))

	client := newTestClient(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Load(ctx, url)
	require.Error(t, err)
}

func TestBuildUserAgent(t *testing.T) {
	t.Parallel()
	ua := buildUserAgent("2.0.0")
	assert.Contains(t, ua, "imgprefetch/2.0.0")
	assert.Contains(t, ua, userAgentContact)

	ua = buildUserAgent("")
	assert.Contains(t, ua, "imgprefetch/unknown")
}
