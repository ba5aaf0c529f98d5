package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               int           `envconfig:"PORT" default:"8080"`
	DatabaseURL        string        `envconfig:"DATABASE_URL"`
	JWTSecret          string        `envconfig:"JWT_SECRET" default:"dev-secret-change-in-production"`
	HostAPIKeyHash     string        `envconfig:"HOST_API_KEY_HASH"`
	AssetDir           string        `envconfig:"ASSET_DIR" default:"./data/assets"`
	AllowedOrigins     string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	SnapshotTimeout    time.Duration `envconfig:"SNAPSHOT_TIMEOUT" default:"5s"`
	FetchTimeout       time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`
	DefaultDeleteLabel string        `envconfig:"DEFAULT_DELETE_LABEL" default:"Del"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Origins splits ALLOWED_ORIGINS into its entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// OriginHosts strips the scheme from each origin, the form websocket
// origin patterns expect.
func (c *Config) OriginHosts() []string {
	origins := c.Origins()
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		hosts = append(hosts, o)
	}
	return hosts
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
