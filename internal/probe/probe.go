// Package probe measures outbound reachability and round-trip latency.
//
// A probe is a single lightweight HTTP request against a well-known
// endpoint, race-cancelled against a hard timeout. A timed-out probe is
// reported as ErrProbeTimeout so callers can fold it into quality scoring
// as a high-latency data point rather than a fatal error.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrProbeTimeout indicates the probe did not complete within its deadline.
var ErrProbeTimeout = errors.New("probe timeout")

// Prober measures round-trip latency to an external endpoint.
type Prober interface {
	// Probe performs one measurement. On timeout it returns ErrProbeTimeout.
	Probe(ctx context.Context) (time.Duration, error)
}

// HTTPProber probes latency with HEAD requests against a fixed URL.
type HTTPProber struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPProber creates a prober against url with the given hard timeout.
func NewHTTPProber(url string, timeout time.Duration, logger *slog.Logger) *HTTPProber {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPProber{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

// Probe performs one latency measurement.
func (p *HTTPProber) Probe(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create probe request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.logger.Debug("probe timed out", "url", p.url, "timeout", p.timeout)
			return elapsed, ErrProbeTimeout
		}
		return elapsed, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	// Any response, including an error status, proves reachability.
	return elapsed, nil
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) (time.Duration, error)

func (f ProberFunc) Probe(ctx context.Context) (time.Duration, error) {
	return f(ctx)
}
