package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// Missing files are not an error.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over DefaultConfig and applies
// environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig. A selectors section replaces the
// default selector set entirely rather than merging into it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	defaults := cfg.Selectors
	cfg.Selectors = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Selectors == nil {
		cfg.Selectors = defaults
	}
	return cfg, nil
}

// ApplyEnv overrides selected settings from HARVEST_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("HARVEST_DATABASE_DRIVER"); ok {
		c.Database.Driver = v
	}
	if v, ok := EnvString("HARVEST_DATABASE_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok, err := EnvInt("HARVEST_WORKERS"); err != nil {
		return fmt.Errorf("invalid HARVEST_WORKERS: %w", err)
	} else if ok {
		c.Workers = v
	}
	if v, ok := EnvString("HARVEST_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("HARVEST_REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
		c.Cache.Backend = "redis"
	}
	if v, ok := EnvString("HARVEST_PROXIES"); ok {
		c.Identity.Proxies = splitList(v)
	}
	if v, ok := EnvString("HARVEST_USER_AGENT"); ok {
		c.Policy.UserAgent = v
	}
	if v, ok, err := EnvInt("HARVEST_HOURLY_QUOTA"); err != nil {
		return fmt.Errorf("invalid HARVEST_HOURLY_QUOTA: %w", err)
	} else if ok {
		c.Policy.HourlyQuota = v
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
