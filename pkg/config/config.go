// Package config loads the backend configuration: environment variables first,
// with an optional config/universal.yaml providing per-environment defaults.
// The result is an explicit struct constructed once at startup and passed to
// whoever needs it.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env             string
	Port            string
	DatabaseURL     string
	JWTSecret       string
	GoogleClientID  string
	ModuleAllowlist []string
	RateLimitPerMin int
	// Root is where modules/ and contracts/ (contract documents, migrations)
	// live, normally the working directory.
	Root string
}

type fileConfig struct {
	Environments map[string]map[string]any `yaml:"environments"`
}

// Load reads env vars, then fills gaps from config/universal.yaml under root.
func Load(root string) Config {
	cfg := Config{
		Env:             envOr("APP_ENV", envOr("ENV", "production")),
		Port:            envOr("SERVICE_PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		GoogleClientID:  os.Getenv("GOOGLE_CLIENT_ID"),
		RateLimitPerMin: 60,
		Root:            root,
	}
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMin = n
		}
	}
	if v := os.Getenv("MODULE_ALLOWLIST"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				cfg.ModuleAllowlist = append(cfg.ModuleAllowlist, p)
			}
		}
	}
	applyFile(&cfg, filepath.Join(root, "config", "universal.yaml"))
	return cfg
}

func (c Config) Production() bool { return c.Env == "production" }

func applyFile(cfg *Config, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var fc fileConfig
	if yaml.Unmarshal(raw, &fc) != nil {
		return
	}
	section := fc.Environments[cfg.Env]
	if v, ok := section["rate_limit_per_min"].(int); ok && os.Getenv("RATE_LIMIT_PER_MIN") == "" {
		cfg.RateLimitPerMin = v
	}
	if v, ok := section["port"].(string); ok && os.Getenv("SERVICE_PORT") == "" {
		cfg.Port = v
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
