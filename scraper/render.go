package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-price-harvester/models"
)

// HTTPRenderer fetches raw markup over HTTP with a colly collector built per
// call, so each attempt carries its own identity. It does not execute
// JavaScript; a browser-backed Renderer can replace it.
type HTTPRenderer struct {
	timeout  time.Duration
	override http.RoundTripper

	mu         sync.Mutex
	transports map[string]http.RoundTripper
}

// NewHTTPRenderer returns a renderer. transport, when set, replaces the
// network stack for every identity and is meant for tests.
func NewHTTPRenderer(timeout time.Duration, transport http.RoundTripper) *HTTPRenderer {
	return &HTTPRenderer{
		timeout:    timeout,
		override:   transport,
		transports: make(map[string]http.RoundTripper),
	}
}

// Render visits rawURL and returns the response body.
func (r *HTTPRenderer) Render(ctx context.Context, rawURL string, id models.Identity) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base, err := r.transportFor(id)
	if err != nil {
		return "", err
	}

	collector := colly.NewCollector(colly.UserAgent(id.UserAgent))
	collector.SetRequestTimeout(r.timeout)
	collector.WithTransport(contextTransport{ctx: ctx, base: base})

	var (
		body      []byte
		statusErr error
	)
	collector.OnResponse(func(resp *colly.Response) {
		body = resp.Body
	})
	collector.OnError(func(resp *colly.Response, err error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		statusErr = classifyError(err, status)
	})

	visitErr := collector.Visit(rawURL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if statusErr != nil {
		return "", statusErr
	}
	if visitErr != nil {
		return "", classifyError(visitErr, 0)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", ErrEmptyResponse
	}
	return string(body), nil
}

func (r *HTTPRenderer) transportFor(id models.Identity) (http.RoundTripper, error) {
	if r.override != nil {
		return r.override, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.transports[id.Proxy]; ok {
		return rt, nil
	}

	proxy := http.ProxyFromEnvironment
	if id.Proxy != "" {
		parsed, err := url.Parse(id.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		proxy = http.ProxyURL(parsed)
	}
	rt := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   r.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	r.transports[id.Proxy] = rt
	return rt, nil
}

// contextTransport binds requests issued by colly to the caller's context.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		} else {
			wrapped = fmt.Errorf("http status %d: %w", statusCode, err)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		return wrapped
	}

	return err
}
