package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aluiziolira/go-price-harvester/models"
)

// HTTPProber issues a HEAD request to a known-reachable URL through the
// identity's proxy.
type HTTPProber struct {
	probeURL  string
	timeout   time.Duration
	transport http.RoundTripper
}

// NewHTTPProber returns a prober. transport overrides the network stack and
// disables proxying; it is meant for tests.
func NewHTTPProber(probeURL string, timeout time.Duration, transport http.RoundTripper) *HTTPProber {
	return &HTTPProber{probeURL: probeURL, timeout: timeout, transport: transport}
}

// Probe returns nil when the probe URL answers with a non-error status.
func (p *HTTPProber) Probe(ctx context.Context, id models.Identity) error {
	client := resty.New().SetTimeout(p.timeout)
	if p.transport != nil {
		client.SetTransport(p.transport)
	} else if id.Proxy != "" {
		client.SetProxy(id.Proxy)
	}
	if id.UserAgent != "" {
		client.SetHeader("User-Agent", id.UserAgent)
	}

	resp, err := client.R().SetContext(ctx).Head(p.probeURL)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.probeURL, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("probe %s: status %d", p.probeURL, resp.StatusCode())
	}
	return nil
}

// redactProxy drops credentials from a proxy URL for logging.
func redactProxy(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
