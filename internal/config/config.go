// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/kubeware/config.toml",
	"config.toml",
}

// AdminPrefix is the path prefix reserved for the gateway's own routes.
// Everything else is proxied.
const AdminPrefix = "/_kubeware"

// Failure policies for unreachable middleware.
const (
	FailClosed = "fail_closed"
	FailOpen   = "fail_open"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_FILE'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Backend  string `kong:"help='Upstream base URL (overrides config).',env='BACKEND_URL'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig       `toml:"server"`
	Backend     BackendConfig      `toml:"backend"`
	Gateway     GatewayConfig      `toml:"gateway"`
	Middlewares []MiddlewareConfig `toml:"middleware"`
	Log         LogConfig          `toml:"log"`
	Metrics     MetricsConfig      `toml:"metrics"`
	Tracing     TracingConfig      `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	Host          string          `toml:"host"`
	Port          int             `toml:"port"` // 0 means "use default" (17000)
	BodyMaxBytes  int64           `toml:"body_max_bytes"`
	TimingHeaders *bool           `toml:"timing_headers"`
	RateLimit     RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig holds upstream connection settings.
type BackendConfig struct {
	URL             string `toml:"url"`
	TimeoutMS       int    `toml:"timeout_ms"`
	IdleConnections int    `toml:"idle_connections"`
}

// GatewayConfig holds chain-wide behaviour.
type GatewayConfig struct {
	// StopDefaultStatus is the status of a STOP verdict that sets no status code.
	StopDefaultStatus int `toml:"stop_default_status"`
}

// MiddlewareConfig describes one chain member. Order in the file is chain order.
// An omitted request/response flag means the member takes part in that phase.
type MiddlewareConfig struct {
	Name          string `toml:"name"`
	URL           string `toml:"url"`
	Request       *bool  `toml:"request"`
	Response      *bool  `toml:"response"`
	TimeoutMS     int    `toml:"timeout_ms"`
	FailurePolicy string `toml:"failure_policy"`
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

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_FILE), it searches
// /etc/kubeware/config.toml then ./config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// Parse decodes TOML without validating or applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &cfg, nil
}

// Reload re-reads the file this config was loaded from, with the same CLI
// overrides. The receiver is not modified.
func (c *Config) Reload(cli *CLI) (*Config, error) {
	if c.filePath == "" {
		return nil, fmt.Errorf("config: reload: config was not loaded from a file")
	}
	override := *cli
	override.Config = c.filePath
	return Load(&override)
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Backend != "" {
		c.Backend.URL = cli.Backend
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Backend URL: required, http or https.
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https; got %q", c.Backend.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.url has no host; got %q", c.Backend.URL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.TimeoutMS < 0 {
		return fmt.Errorf("backend.timeout_ms must be non-negative; got %d", c.Backend.TimeoutMS)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if s := c.Gateway.StopDefaultStatus; s != 0 && (s < 200 || s > 599) {
		return fmt.Errorf("gateway.stop_default_status must be 200-599; got %d", s)
	}

	if err := c.validateMiddlewares(); err != nil {
		return err
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

	// Admin routes must stay under the reserved prefix, otherwise they would
	// shadow proxied paths.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if !strings.HasPrefix(p, AdminPrefix+"/") {
			return fmt.Errorf("metrics.path must start with %q; got %q", AdminPrefix+"/", p)
		}
		for _, reserved := range []string{AdminPrefix + "/healthz", AdminPrefix + "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func (c *Config) validateMiddlewares() error {
	seen := make(map[string]bool, len(c.Middlewares))
	for i, m := range c.Middlewares {
		if m.URL == "" {
			return fmt.Errorf("middleware[%d].url is required", i)
		}
		name := m.Name
		if name == "" {
			name = m.URL
		}
		if seen[name] {
			return fmt.Errorf("middleware[%d]: duplicate name %q", i, name)
		}
		seen[name] = true

		if !m.InRequestPhase() && !m.InResponsePhase() {
			return fmt.Errorf("middleware[%d] %q has request and response both disabled", i, name)
		}
		if m.TimeoutMS < 0 {
			return fmt.Errorf("middleware[%d].timeout_ms must be non-negative; got %d", i, m.TimeoutMS)
		}
		switch m.FailurePolicy {
		case "", FailClosed, FailOpen:
			// valid
		default:
			return fmt.Errorf("middleware[%d].failure_policy must be one of: %s, %s; got %q", i, FailClosed, FailOpen, m.FailurePolicy)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 17000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.TimingHeaders == nil {
		c.Server.TimingHeaders = boolPtr(true)
	}
	if c.Backend.TimeoutMS == 0 {
		c.Backend.TimeoutMS = DefaultTimeoutMS
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Gateway.StopDefaultStatus == 0 {
		c.Gateway.StopDefaultStatus = 200
	}
	for i := range c.Middlewares {
		m := &c.Middlewares[i]
		if m.Name == "" {
			m.Name = m.URL
		}
		if m.Request == nil {
			m.Request = boolPtr(true)
		}
		if m.Response == nil {
			m.Response = boolPtr(true)
		}
		if m.TimeoutMS == 0 {
			m.TimeoutMS = DefaultTimeoutMS
		}
		if m.FailurePolicy == "" {
			m.FailurePolicy = FailClosed
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = AdminPrefix + "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "kubeware"
	}
}

// DefaultTimeoutMS applies to middleware calls and the upstream call.
const DefaultTimeoutMS = 5000

// Timeout returns the per-call timeout of a middleware.
func (m *MiddlewareConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// InRequestPhase reports whether the member is called before the upstream.
func (m *MiddlewareConfig) InRequestPhase() bool {
	return m.Request == nil || *m.Request
}

// InResponsePhase reports whether the member is called after the upstream.
func (m *MiddlewareConfig) InResponsePhase() bool {
	return m.Response == nil || *m.Response
}

func boolPtr(b bool) *bool { return &b }

// Timeout returns the upstream call timeout.
func (b *BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// TimingHeadersEnabled reports whether x-kubeware-time / x-backend-time
// are added to responses.
func (s *ServerConfig) TimingHeadersEnabled() bool {
	return s.TimingHeaders == nil || *s.TimingHeaders
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

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
