// Package linkcheck verifies curated-surface URLs over HTTP.
package linkcheck

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// Checker implements domain.LinkChecker with a HEAD-then-GET probe.
// Some CDNs reject HEAD, so a failed HEAD falls back to GET.
type Checker struct {
	client *http.Client
}

// New constructs a Checker with outgoing request tracing.
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Checker{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

var _ domain.LinkChecker = (*Checker)(nil)

// Check probes one URL. Network failures report OK=false with the error as
// reason rather than returning an error, so one dead host does not abort
// the rest of the batch.
func (c *Checker) Check(ctx context.Context, url string) (domain.LinkStatus, error) {
	status, err := c.probe(ctx, http.MethodHead, url)
	if err != nil || status.StatusCode == http.StatusMethodNotAllowed {
		status, err = c.probe(ctx, http.MethodGet, url)
	}
	if err != nil {
		return domain.LinkStatus{URL: url, OK: false, Reason: err.Error()}, nil
	}
	return status, nil
}

func (c *Checker) probe(ctx context.Context, method, url string) (domain.LinkStatus, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return domain.LinkStatus{}, fmt.Errorf("op=linkcheck.probe: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.LinkStatus{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	status := domain.LinkStatus{URL: url, StatusCode: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		status.OK = true
	} else {
		status.Reason = http.StatusText(resp.StatusCode)
	}
	return status, nil
}
