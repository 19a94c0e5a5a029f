package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// MaxWorkers caps how many categories may be harvested concurrently.
const MaxWorkers = 4

// Logical field names understood by the extractor.
const (
	FieldTitle         = "title"
	FieldPrice         = "price"
	FieldOriginalPrice = "original_price"
	FieldDiscount      = "discount"
	FieldBrand         = "brand"
	FieldDescription   = "description"
	FieldFeatures      = "features"
	FieldRating        = "rating"
	FieldReviewCount   = "review_count"
	FieldURL           = "url"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// Config holds harvester configuration.
type Config struct {
	Target      Target              `yaml:"target"`
	Policy      Policy              `yaml:"policy"`
	Cache       Cache               `yaml:"cache"`
	Identity    Identity            `yaml:"identity"`
	Fetch       Fetch               `yaml:"fetch"`
	Selectors   map[string][]string `yaml:"selectors"`
	Categories  []CategoryJob       `yaml:"categories"`
	Workers     int                 `yaml:"workers"`
	Database    Database            `yaml:"database"`
	Export      Export              `yaml:"export"`
	MetricsAddr string              `yaml:"metrics_addr"`
	Verbose     bool                `yaml:"verbose"`
}

// CategoryJob is one configured search target.
type CategoryJob struct {
	Name       string   `yaml:"name"`
	SearchTerm string   `yaml:"search_term"`
	MinPrice   *float64 `yaml:"min_price"`
	MaxPrice   *float64 `yaml:"max_price"`
	Pages      int      `yaml:"pages"`
}

// Target describes the site being harvested and how its search URLs are built.
type Target struct {
	SearchURL     string `yaml:"search_url"`
	BaseURL       string `yaml:"base_url"`
	QueryParam    string `yaml:"query_param"`
	PageParam     string `yaml:"page_param"`
	MinPriceParam string `yaml:"min_price_param"`
	MaxPriceParam string `yaml:"max_price_param"`
	OmitFirstPage bool   `yaml:"omit_first_page"`
	Source        string `yaml:"source"`
	Currency      string `yaml:"currency"`
}

// Policy configures admission control.
type Policy struct {
	UserAgent        string        `yaml:"user_agent"`
	RespectRobotsTxt bool          `yaml:"respect_robots"`
	MinDelay         time.Duration `yaml:"min_delay"`
	HourlyQuota      int           `yaml:"hourly_quota"`
	RobotsTimeout    time.Duration `yaml:"robots_timeout"`
}

// Cache configures the response cache.
type Cache struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	Backend       string        `yaml:"backend"` // memory or redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// Identity configures proxy and user-agent rotation.
type Identity struct {
	Proxies      []string      `yaml:"proxies"`
	UserAgents   []string      `yaml:"user_agents"`
	ProbeURL     string        `yaml:"probe_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Fetch configures the retrying fetcher.
type Fetch struct {
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Database configures the persistence store.
type Database struct {
	Driver string `yaml:"driver"` // postgres or sqlite
	DSN    string `yaml:"dsn"`
}

// Export configures the optional file export of committed records.
type Export struct {
	OutputFile   string `yaml:"output_file"`
	OutputFormat string `yaml:"output_format"` // csv, json, or dual
}

// DefaultConfig returns conservative defaults for a polite harvest.
func DefaultConfig() *Config {
	return &Config{
		Target: Target{
			SearchURL:     "https://www.jumia.com.ng/catalog/",
			BaseURL:       "https://www.jumia.com.ng",
			QueryParam:    "q",
			PageParam:     "page",
			MinPriceParam: "price_min",
			MaxPriceParam: "price_max",
			Source:        "jumia",
			Currency:      "NGN",
		},
		Policy: Policy{
			UserAgent:        "PriceIntelligenceBot/1.0 (+https://github.com/aluiziolira/go-price-harvester)",
			RespectRobotsTxt: true,
			MinDelay:         time.Second,
			HourlyQuota:      100,
			RobotsTimeout:    10 * time.Second,
		},
		Cache: Cache{
			TTL:        6 * time.Hour,
			MaxEntries: 1024,
			Backend:    "memory",
		},
		Identity: Identity{
			UserAgents: []string{
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15",
			},
			ProbeURL:     "https://www.google.com",
			ProbeTimeout: 5 * time.Second,
		},
		Fetch: Fetch{
			MaxRetries:      3,
			RetryBackoff:    2 * time.Second,
			RetryBackoffMax: 60 * time.Second,
			Timeout:         30 * time.Second,
		},
		Selectors: map[string][]string{
			FieldTitle:         {"article.prd h3.name", "div.name", "a.title"},
			FieldPrice:         {"article.prd div.prc", "div.price"},
			FieldOriginalPrice: {"article.prd div.old"},
			FieldDiscount:      {"article.prd div.bdg._dsct"},
			FieldBrand:         {"article.prd div.brn"},
			FieldURL:           {"article.prd a.core@href"},
		},
		Workers: 2,
		Database: Database{
			Driver: "sqlite",
			DSN:    "file:harvest.db?_pragma=busy_timeout(5000)",
		},
	}
}

// SplitLocator separates a trailing @attr from the CSS selector of a locator.
// An @ followed by selector syntax belongs to the selector.
func SplitLocator(locator string) (selector, attr string) {
	locator = strings.TrimSpace(locator)
	idx := strings.LastIndex(locator, "@")
	if idx <= 0 || strings.ContainsAny(locator[idx+1:], " ]>+~") {
		return locator, ""
	}
	return strings.TrimSpace(locator[:idx]), locator[idx+1:]
}

// BuildURL returns the search URL for page (1-based) of job.
func (t Target) BuildURL(job CategoryJob, page int) (string, error) {
	u, err := url.Parse(t.SearchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	q.Set(t.QueryParam, job.SearchTerm)
	if t.PageParam != "" && !(page <= 1 && t.OmitFirstPage) {
		q.Set(t.PageParam, strconv.Itoa(page))
	}
	if job.MinPrice != nil && t.MinPriceParam != "" {
		q.Set(t.MinPriceParam, strconv.FormatFloat(*job.MinPrice, 'f', -1, 64))
	}
	if job.MaxPrice != nil && t.MaxPriceParam != "" {
		q.Set(t.MaxPriceParam, strconv.FormatFloat(*job.MaxPrice, 'f', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := c.Target.validate(); err != nil {
		return err
	}

	if c.Policy.UserAgent == "" {
		return fmt.Errorf("policy user agent cannot be empty")
	}
	if c.Policy.MinDelay < 0 {
		return fmt.Errorf("policy min delay cannot be negative")
	}
	if c.Policy.HourlyQuota < 0 {
		return fmt.Errorf("policy hourly quota cannot be negative")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache backend must be memory or redis")
	}

	for _, proxy := range c.Identity.Proxies {
		parsed, err := url.Parse(proxy)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("invalid proxy %q", proxy)
		}
	}
	if len(c.Identity.UserAgents) == 0 {
		return fmt.Errorf("identity user agents cannot be empty")
	}

	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch max retries must be positive")
	}
	if c.Fetch.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.Fetch.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.Fetch.RetryBackoffMax > 0 && c.Fetch.RetryBackoff > c.Fetch.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.Fetch.RetryBackoff, c.Fetch.RetryBackoffMax)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}

	if len(c.Selectors[FieldTitle]) == 0 || len(c.Selectors[FieldPrice]) == 0 {
		return fmt.Errorf("selectors for %q and %q are required", FieldTitle, FieldPrice)
	}
	for field, locators := range c.Selectors {
		for _, locator := range locators {
			selector, _ := SplitLocator(locator)
			if _, err := cascadia.Compile(selector); err != nil {
				return fmt.Errorf("selector for %q: invalid locator %q: %w", field, locator, err)
			}
		}
	}

	if len(c.Categories) == 0 {
		return fmt.Errorf("category job list cannot be empty")
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for i, job := range c.Categories {
		if err := job.validate(); err != nil {
			return fmt.Errorf("category %d: %w", i, err)
		}
		if _, ok := seen[job.Name]; ok {
			return fmt.Errorf("category %q is listed twice", job.Name)
		}
		seen[job.Name] = struct{}{}
	}

	if c.Workers <= 0 || c.Workers > MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d", MaxWorkers)
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database driver must be postgres or sqlite")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn cannot be empty")
	}

	if c.Export.OutputFile != "" {
		switch c.Export.OutputFormat {
		case "csv", "json", "dual":
		default:
			return fmt.Errorf("output format must be csv, json, or dual")
		}
	}

	return nil
}

func (t Target) validate() error {
	if t.SearchURL == "" {
		return fmt.Errorf("target search URL cannot be empty")
	}
	parsed, err := url.Parse(t.SearchURL)
	if err != nil {
		return fmt.Errorf("invalid target search URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("target search URL must include a host")
	}
	if t.QueryParam == "" {
		return fmt.Errorf("target query param cannot be empty")
	}
	if t.Source == "" || len(t.Source) > 50 {
		return fmt.Errorf("target source must be 1-50 characters")
	}
	if !currencyPattern.MatchString(t.Currency) {
		return fmt.Errorf("target currency must be a 3-letter code")
	}
	return nil
}

func (j CategoryJob) validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.TrimSpace(j.SearchTerm) == "" {
		return fmt.Errorf("search term cannot be empty for %q", j.Name)
	}
	if j.Pages <= 0 {
		return fmt.Errorf("pages must be positive for %q", j.Name)
	}
	if j.MinPrice != nil && *j.MinPrice < 0 {
		return fmt.Errorf("min price cannot be negative for %q", j.Name)
	}
	if j.MinPrice != nil && j.MaxPrice != nil && *j.MinPrice > *j.MaxPrice {
		return fmt.Errorf("min price exceeds max price for %q", j.Name)
	}
	return nil
}
