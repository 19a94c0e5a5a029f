// Package cache stores fetched page bodies keyed by normalized request
// identity, treating entries older than the TTL as absent.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/go-price-harvester/clock"
	"github.com/aluiziolira/go-price-harvester/models"
)

// Store persists cache entries. Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, key string) (models.CacheEntry, bool, error)
	Save(ctx context.Context, entry models.CacheEntry, ttl time.Duration) error
}

// ResponseCache applies TTL semantics on top of a Store.
type ResponseCache struct {
	store   Store
	ttl     time.Duration
	clock   clock.Clock
	metrics Recorder
}

// Recorder receives hit/miss notifications.
type Recorder interface {
	IncCache(result string)
}

// New returns a ResponseCache over store.
func New(store Store, ttl time.Duration, clk clock.Clock, metrics Recorder) *ResponseCache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ResponseCache{store: store, ttl: ttl, clock: clk, metrics: metrics}
}

// Get returns the content stored for key if it is younger than the TTL.
// Store errors are logged and reported as a miss.
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	entry, ok, err := c.store.Load(ctx, key)
	if err != nil {
		slog.Warn("cache load failed", slog.String("key", key), slog.Any("error", err))
		c.record("error")
		return "", false
	}
	if !ok || c.clock.Now().Sub(entry.FetchedAt) >= c.ttl {
		c.record("miss")
		return "", false
	}
	c.record("hit")
	return entry.Content, true
}

// Put stores content for key stamped with the current time, replacing any prior entry.
func (c *ResponseCache) Put(ctx context.Context, key, content string) error {
	return c.store.Save(ctx, models.CacheEntry{
		Key:       key,
		Content:   content,
		FetchedAt: c.clock.Now(),
	}, c.ttl)
}

func (c *ResponseCache) record(result string) {
	if c.metrics != nil {
		c.metrics.IncCache(result)
	}
}

// Key normalizes rawURL into a request identity: lowercase scheme and host,
// default ports and fragment dropped, trailing slash trimmed, and query
// parameters sorted by key then value. Unparseable input is returned trimmed.
func Key(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}

	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)

	query := u.Query()
	if len(query) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	b.WriteByte('?')
	b.WriteString(strings.Join(pairs, "&"))
	return b.String()
}

// digest shortens a key for stores with key-length or charset limits.
func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
