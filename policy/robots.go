// Package policy decides whether an outbound request may proceed: robots.txt
// compliance per host, a minimum spacing between requests, and a rolling
// hourly request quota.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const robotsTxtPath = "/robots.txt"

// RobotsChecker fetches robots.txt once per host and answers allow/deny
// questions for a fixed user agent. Any failure to retrieve or parse a
// robots.txt is cached as allow-all.
type RobotsChecker struct {
	client    *resty.Client
	userAgent string
	timeout   time.Duration

	mu    sync.RWMutex
	cache map[string]*robotsEntry
	group singleflight.Group
}

type robotsEntry struct {
	data     *robotstxt.RobotsData
	allowAll bool
}

// NewRobotsChecker builds a checker. A nil client gets a default one with timeout.
func NewRobotsChecker(client *resty.Client, userAgent string, timeout time.Duration) *RobotsChecker {
	if client == nil {
		client = resty.New()
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	client.SetHeader("User-Agent", userAgent)
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
		cache:     make(map[string]*robotsEntry),
	}
}

// IsAllowed reports whether the configured agent may fetch rawURL.
// Malformed URLs are denied; robots.txt trouble is not.
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		slog.Error("robots check on invalid url", slog.String("url", rawURL), slog.Any("error", err))
		return false
	}

	entry := r.entry(ctx, parsed.Scheme, strings.ToLower(parsed.Host))
	if entry.allowAll {
		return true
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return entry.data.TestAgent(path, r.userAgent)
}

// CrawlDelay returns the Crawl-delay declared for the agent on host, or 0
// when none is declared or robots.txt has not been fetched yet.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	entry, ok := r.cache[strings.ToLower(host)]
	r.mu.RUnlock()
	if !ok || entry.allowAll || entry.data == nil {
		return 0
	}
	group := entry.data.FindGroup(r.userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (r *RobotsChecker) entry(ctx context.Context, scheme, host string) *robotsEntry {
	r.mu.RLock()
	entry, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return entry
	}

	v, _, _ := r.group.Do(host, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.cache[host]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		// The result is shared and cached, so one caller's cancellation
		// must not turn into a permanent allow-all for the host.
		fetchCtx := context.WithoutCancel(ctx)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, r.timeout)
			defer cancel()
		}
		fetched := r.fetch(fetchCtx, scheme, host)
		r.mu.Lock()
		r.cache[host] = fetched
		r.mu.Unlock()
		return fetched, nil
	})
	return v.(*robotsEntry)
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) *robotsEntry {
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + host + robotsTxtPath

	resp, err := r.client.R().SetContext(ctx).Get(robotsURL)
	if err != nil {
		slog.Warn("robots.txt unavailable, allowing all",
			slog.String("host", host),
			slog.Any("error", fmt.Errorf("robots: fetch: %w", err)),
		)
		return &robotsEntry{allowAll: true}
	}

	// 4xx means no rules; 5xx is treated the same way so harvesting keeps going.
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		slog.Warn("robots.txt not served, allowing all",
			slog.String("host", host),
			slog.Int("status", resp.StatusCode()),
		)
		return &robotsEntry{allowAll: true}
	}

	data, err := robotstxt.FromBytes(resp.Body())
	if err != nil {
		slog.Warn("robots.txt unparseable, allowing all",
			slog.String("host", host),
			slog.Any("error", err),
		)
		return &robotsEntry{allowAll: true}
	}
	return &robotsEntry{data: data}
}
