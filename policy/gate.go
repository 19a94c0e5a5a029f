package policy

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-price-harvester/clock"
)

// ErrQuotaExhausted is returned by Admit when the hourly request cap is reached.
var ErrQuotaExhausted = errors.New("policy: hourly request quota exhausted")

// quotaWindow is the length of the rolling quota window.
const quotaWindow = time.Hour

// Robots answers robots.txt questions.
type Robots interface {
	IsAllowed(ctx context.Context, rawURL string) bool
	CrawlDelay(host string) time.Duration
}

// GateConfig configures a Gate.
type GateConfig struct {
	RespectRobots bool
	MinDelay      time.Duration
	HourlyQuota   int // 0 disables the quota
}

// Gate is the shared admission controller for every fetch path. Its
// counters are guarded by mu, which is never held while sleeping.
type Gate struct {
	robots        Robots
	respectRobots bool
	clock         clock.Clock
	quota         int

	mu          sync.Mutex
	limiter     *rate.Limiter
	minDelay    time.Duration
	windowStart time.Time
	granted     int
	last        time.Time
}

// NewGate builds a gate. robots may be nil when RespectRobots is false.
func NewGate(cfg GateConfig, robots Robots, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Gate{
		robots:        robots,
		respectRobots: cfg.RespectRobots && robots != nil,
		clock:         clk,
		quota:         cfg.HourlyQuota,
		limiter:       newSpacingLimiter(cfg.MinDelay),
		minDelay:      cfg.MinDelay,
	}
}

func newSpacingLimiter(minDelay time.Duration) *rate.Limiter {
	if minDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(minDelay), 1)
}

// IsAllowed reports whether robots.txt permits rawURL. When robots.txt
// declares a Crawl-delay longer than the configured spacing, the spacing is
// raised to match.
func (g *Gate) IsAllowed(ctx context.Context, rawURL string) bool {
	if !g.respectRobots {
		return true
	}
	allowed := g.robots.IsAllowed(ctx, rawURL)
	if parsed, err := url.Parse(rawURL); err == nil {
		g.raiseMinDelay(g.robots.CrawlDelay(parsed.Host))
	}
	return allowed
}

func (g *Gate) raiseMinDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d <= g.minDelay {
		return
	}
	slog.Info("raising request spacing to robots crawl-delay",
		slog.Duration("from", g.minDelay),
		slog.Duration("to", d),
	)
	g.minDelay = d
	g.limiter.SetLimitAt(g.clock.Now(), rate.Every(d))
}

// Admit blocks until the minimum spacing since the previous admission has
// elapsed, then records the admission. It returns ErrQuotaExhausted without
// blocking when the hourly cap is reached, or the context error if ctx is
// cancelled while waiting.
func (g *Gate) Admit(ctx context.Context) error {
	g.mu.Lock()
	now := g.clock.Now()
	if g.granted > 0 && now.Sub(g.windowStart) >= quotaWindow {
		g.granted = 0
	}
	if g.quota > 0 && g.granted >= g.quota {
		g.mu.Unlock()
		return ErrQuotaExhausted
	}

	reservation := g.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if g.granted == 0 {
		g.windowStart = now.Add(delay)
	}
	g.granted++
	window := g.windowStart
	g.mu.Unlock()

	if delay > 0 {
		if err := g.clock.Sleep(ctx, delay); err != nil {
			g.mu.Lock()
			reservation.CancelAt(g.clock.Now())
			if g.windowStart.Equal(window) && g.granted > 0 {
				g.granted--
			}
			g.mu.Unlock()
			return err
		}
	}

	g.mu.Lock()
	g.last = g.clock.Now()
	g.mu.Unlock()
	return nil
}

// Stats reports admissions in the current window and when the last one was granted.
func (g *Gate) Stats() (granted int, windowStart, last time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted, g.windowStart, g.last
}
