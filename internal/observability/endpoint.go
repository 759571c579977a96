package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/imgprefetch/internal/conf"
	"github.com/tphakala/imgprefetch/internal/errors"
)

// shutdownTimeout bounds how long a graceful endpoint shutdown may take.
const shutdownTimeout = 5 * time.Second

// Endpoint serves the Prometheus-compatible metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	logger        *slog.Logger
}

// NewEndpoint creates a new metrics Endpoint from the given settings.
// It returns an error if metrics are not enabled in the settings.
func NewEndpoint(settings *conf.Settings, m *Metrics, logger *slog.Logger) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, errors.Newf("metrics not enabled in settings").
			Category(errors.CategoryConfiguration).
			Component("observability").
			Build()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Endpoint{
		listenAddress: settings.Metrics.Listen,
		metrics:       m,
		logger:        logger,
	}, nil
}

// Start initializes and runs the HTTP server for the metrics endpoint.
// The server runs until quitChan is closed; wg is released when it has stopped.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:    e.listenAddress,
		Handler: mux,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.logger.Info("Metrics endpoint starting", "address", e.listenAddress)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Metrics HTTP server error", "error", err)
		}
	}()

	go e.gracefulShutdown(quitChan)
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	e.logger.Info("Stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		e.logger.Error("Metrics server shutdown error", "error", err)
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
