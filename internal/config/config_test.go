package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[proxy]
default_allow_redirects = false
default_base64_encode = true
allowed_schemes = ["https"]
header_request_method = "X-Override-Method"

[upstream]
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Proxy.AllowRedirects() {
		t.Error("Proxy.AllowRedirects() = true, want false (explicit false must survive defaulting)")
	}
	if !cfg.Proxy.Base64Encode() {
		t.Error("Proxy.Base64Encode() = false, want true")
	}
	if len(cfg.Proxy.AllowedSchemes) != 1 || cfg.Proxy.AllowedSchemes[0] != "https" {
		t.Errorf("Proxy.AllowedSchemes = %v, want [https]", cfg.Proxy.AllowedSchemes)
	}
	if cfg.Proxy.HeaderRequestMethod != "X-Override-Method" {
		t.Errorf("Proxy.HeaderRequestMethod = %q, want %q", cfg.Proxy.HeaderRequestMethod, "X-Override-Method")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v; a missing config file must not be fatal", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8090)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if !cfg.Proxy.AllowRedirects() {
		t.Error("Proxy.AllowRedirects() = false, want true by default")
	}
	if cfg.Proxy.Base64Encode() {
		t.Error("Proxy.Base64Encode() = true, want false by default")
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Proxy.HeaderRequestMethod != "X-Request-Method" {
		t.Errorf("Proxy.HeaderRequestMethod = %q, want %q", cfg.Proxy.HeaderRequestMethod, "X-Request-Method")
	}
	if got := cfg.Proxy.AllowedSchemes; len(got) != 2 || got[0] != "http" || got[1] != "https" {
		t.Errorf("Proxy.AllowedSchemes = %v, want [http https]", got)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_ExplicitPathMissingFileFails(t *testing.T) {
	_, err := Load(cliWithPath(filepath.Join(t.TempDir(), "nope.toml")))
	if err == nil {
		t.Fatal("Load() expected error for explicit missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "10.0.0.1"
port = 9000

[log]
level = "warn"
`)

	noRedirects := false
	cli := &CLI{
		Config:         path,
		Host:           "127.0.0.1",
		Port:           7777,
		AllowRedirects: &noRedirects,
		LogLevel:       "error",
		MaxBodySize:    1024,
		Timeout:        5,
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want CLI override %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want CLI override %d", cfg.Server.Port, 7777)
	}
	if cfg.Proxy.AllowRedirects() {
		t.Error("Proxy.AllowRedirects() = true, want CLI override false")
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want CLI override %q", cfg.Log.Level, "error")
	}
	if cfg.Server.BodyMaxBytes != 1024 {
		t.Errorf("Server.BodyMaxBytes = %d, want CLI override %d", cfg.Server.BodyMaxBytes, 1024)
	}
	if cfg.Upstream.TimeoutSeconds != 5 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want CLI override %d", cfg.Upstream.TimeoutSeconds, 5)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "invalid log level",
			data: "[log]\nlevel = \"verbose\"\n",
			want: "log.level",
		},
		{
			name: "invalid log format",
			data: "[log]\nformat = \"xml\"\n",
			want: "log.format",
		},
		{
			name: "negative timeout",
			data: "[upstream]\ntimeout_seconds = -1\n",
			want: "timeout_seconds",
		},
		{
			name: "port out of range",
			data: "[server]\nport = 70000\n",
			want: "server.port",
		},
		{
			name: "upper-case scheme",
			data: "[proxy]\nallowed_schemes = [\"HTTP\"]\n",
			want: "allowed_schemes",
		},
		{
			name: "duplicate control header",
			data: "[proxy]\nheader_request_method = \"X-Same\"\nheader_base64_encode = \"x-same\"\n",
			want: "configured twice",
		},
		{
			name: "rate limit enabled without rps",
			data: "[server.rate_limit]\nenabled = true\n",
			want: "requests_per_second",
		},
		{
			name: "metrics path conflicts with fetch route",
			data: "[metrics]\nenabled = true\npath = \"/fetch/metrics\"\n",
			want: "reserved route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestExcludedRequestHeaders(t *testing.T) {
	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := cfg.Proxy.ExcludedRequestHeaders()

	want := []string{
		"host",
		"content-length",
		"content-encoding",
		"connection",
		"transfer-encoding",
		"x-request-method",
		"x-allow-redirects",
		"x-base64-encode",
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("ExcludedRequestHeaders() missing %q", name)
		}
	}
	if len(got) != len(want) {
		t.Errorf("ExcludedRequestHeaders() has %d entries, want %d", len(got), len(want))
	}
	if got["accept"] {
		t.Error("ExcludedRequestHeaders() must not contain forwardable headers")
	}
}

func TestExcludedRequestHeaders_CustomNames(t *testing.T) {
	p := ProxyConfig{
		HeaderRequestMethod:  "X-My-Method",
		HeaderAllowRedirects: "X-My-Redirects",
		HeaderBase64Encode:   "X-My-B64",
	}

	got := p.ExcludedRequestHeaders()
	for _, name := range []string{"x-my-method", "x-my-redirects", "x-my-b64"} {
		if !got[name] {
			t.Errorf("ExcludedRequestHeaders() missing custom control header %q", name)
		}
	}
	if got["x-request-method"] {
		t.Error("default control header name should not be excluded once renamed")
	}
}

func TestAllowedSchemeSet(t *testing.T) {
	p := ProxyConfig{AllowedSchemes: []string{"http", "https"}}
	set := p.AllowedSchemeSet()
	if !set["http"] || !set["https"] {
		t.Errorf("AllowedSchemeSet() = %v, want http and https", set)
	}
	if set["ftp"] {
		t.Error("AllowedSchemeSet() must not contain ftp")
	}
}

func TestAddr(t *testing.T) {
	c := ServerConfig{Host: "0.0.0.0", Port: 8090}
	if got := c.Addr(); got != "0.0.0.0:8090" {
		t.Errorf("Addr() = %q, want %q", got, "0.0.0.0:8090")
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "present.toml")
	if err := os.WriteFile(existing, []byte(""), 0o600); err != nil {
		t.Fatal(err)
	}

	got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml"), existing})
	if got != existing {
		t.Errorf("findConfigInPaths() = %q, want %q", got, existing)
	}

	if got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml")}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}
