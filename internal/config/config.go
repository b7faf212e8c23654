// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/fetch-proxy/config.toml",
	"configs/config.toml",
}

// hopByHopRequestHeaders are never forwarded upstream regardless of configuration.
var hopByHopRequestHeaders = []string{
	"host",
	"content-length",
	"content-encoding",
	"connection",
	"transfer-encoding",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	AllowRedirects *bool  `kong:"help='Default allow-redirects setting (overrides config).',env='ALLOW_REDIRECTS'"`
	Base64Encode   *bool  `kong:"help='Default base64-encode setting (overrides config).',env='BASE64_ENCODE'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	MaxBodySize    int64  `kong:"help='Maximum inbound request body size in bytes (overrides config).',env='MAX_BODY_SIZE'"`
	Timeout        int    `kong:"help='Upstream request timeout in seconds (overrides config).',env='TIMEOUT'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8090); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds per-request default behavior and the control header names.
// The boolean fields are pointers because TOML cannot distinguish an explicit
// false from an omitted key; nil means "use default".
type ProxyConfig struct {
	DefaultAllowRedirects *bool    `toml:"default_allow_redirects"`
	DefaultBase64Encode   *bool    `toml:"default_base64_encode"`
	AllowedSchemes        []string `toml:"allowed_schemes"`
	HeaderRequestMethod   string   `toml:"header_request_method"`
	HeaderAllowRedirects  string   `toml:"header_allow_redirects"`
	HeaderBase64Encode    string   `toml:"header_base64_encode"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/fetch-proxy/config.toml then configs/config.toml. A missing config file
// is not an error: the proxy has no required settings and runs on defaults.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.AllowRedirects != nil {
		c.Proxy.DefaultAllowRedirects = cli.AllowRedirects
	}
	if cli.Base64Encode != nil {
		c.Proxy.DefaultBase64Encode = cli.Base64Encode
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.MaxBodySize != 0 {
		c.Server.BodyMaxBytes = cli.MaxBodySize
	}
	if cli.Timeout != 0 {
		c.Upstream.TimeoutSeconds = cli.Timeout
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Allowed schemes must be lower-case URL schemes, no empty entries.
	for _, s := range c.Proxy.AllowedSchemes {
		if s == "" {
			return fmt.Errorf("proxy.allowed_schemes must not contain empty entries")
		}
		if s != strings.ToLower(s) {
			return fmt.Errorf("proxy.allowed_schemes entries must be lower-case; got %q", s)
		}
	}

	// Control header names must not collide with each other.
	names := []string{c.Proxy.HeaderRequestMethod, c.Proxy.HeaderAllowRedirects, c.Proxy.HeaderBase64Encode}
	seen := map[string]bool{}
	for _, n := range names {
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			return fmt.Errorf("proxy control header %q configured twice", n)
		}
		seen[key] = true
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/fetch", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8090).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MiB
	}
	if c.Proxy.DefaultAllowRedirects == nil {
		v := true
		c.Proxy.DefaultAllowRedirects = &v
	}
	if c.Proxy.DefaultBase64Encode == nil {
		v := false
		c.Proxy.DefaultBase64Encode = &v
	}
	if len(c.Proxy.AllowedSchemes) == 0 {
		c.Proxy.AllowedSchemes = []string{"http", "https"}
	}
	if c.Proxy.HeaderRequestMethod == "" {
		c.Proxy.HeaderRequestMethod = "X-Request-Method"
	}
	if c.Proxy.HeaderAllowRedirects == "" {
		c.Proxy.HeaderAllowRedirects = "X-Allow-Redirects"
	}
	if c.Proxy.HeaderBase64Encode == "" {
		c.Proxy.HeaderBase64Encode = "X-Base64-Encode"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// AllowRedirects reports the default redirect-follow policy.
func (c *ProxyConfig) AllowRedirects() bool {
	return c.DefaultAllowRedirects != nil && *c.DefaultAllowRedirects
}

// Base64Encode reports the default base64-encode policy.
func (c *ProxyConfig) Base64Encode() bool {
	return c.DefaultBase64Encode != nil && *c.DefaultBase64Encode
}

// AllowedSchemeSet returns the allowed URL schemes as a lookup set.
func (c *ProxyConfig) AllowedSchemeSet() map[string]bool {
	set := make(map[string]bool, len(c.AllowedSchemes))
	for _, s := range c.AllowedSchemes {
		set[s] = true
	}
	return set
}

// ExcludedRequestHeaders returns the lower-cased set of request header names
// that are never forwarded upstream: the fixed hop-by-hop names plus the three
// control headers.
func (c *ProxyConfig) ExcludedRequestHeaders() map[string]bool {
	set := make(map[string]bool, len(hopByHopRequestHeaders)+3)
	for _, h := range hopByHopRequestHeaders {
		set[h] = true
	}
	for _, h := range []string{c.HeaderRequestMethod, c.HeaderAllowRedirects, c.HeaderBase64Encode} {
		if h != "" {
			set[strings.ToLower(h)] = true
		}
	}
	return set
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
