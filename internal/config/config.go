// ABOUTME: Configuration loading and parsing for funnel-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "FUNNEL_CONFIG"

// DefaultBasePort is added to each capability's port offset.
const DefaultBasePort = 8000

// PortOffsets places each capability endpoint at base_port + offset.
var PortOffsets = map[string]int{
	"crm":            1,
	"catalog":        2,
	"analytics":      3,
	"ifood":          5,
	"restaurant":     6,
	"recommendation": 7,
	"contract":       8,
	"pricing":        9,
	"qualification":  10,
}

// Config represents the complete funnel-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Capabilities  CapabilitiesConfig  `yaml:"capabilities"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Cache         CacheConfig         `yaml:"cache"`
	Retry         RetryConfig         `yaml:"retry"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	MCP           MCPConfig           `yaml:"mcp"`
}

// ServerConfig holds the gateway listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the audit ledger location. ":memory:" keeps it for
// the process lifetime only.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CapabilitiesConfig controls the mock providers and their endpoints
type CapabilitiesConfig struct {
	LatencyMode bool   `yaml:"latency_mode"`
	Host        string `yaml:"host"`
	BasePort    int    `yaml:"base_port"`

	// Targets maps a capability to a remote endpoint base URL. Capabilities
	// with a target are reached over the wire when no in-process provider
	// serves them.
	Targets map[string]string `yaml:"targets"`

	// Remote disables in-process providers so every call goes to Targets.
	Remote bool `yaml:"remote"`
}

// DispatchConfig holds dispatcher settings
type DispatchConfig struct {
	Timeout        time.Duration `yaml:"-"`
	OperationsFile string        `yaml:"operations_file"`

	TimeoutRaw string `yaml:"timeout"`
}

// CacheConfig holds result cache settings
type CacheConfig struct {
	MaxEntries   int           `yaml:"max_entries"`
	AnalyticsTTL time.Duration `yaml:"-"`
	CatalogTTL   time.Duration `yaml:"-"`
	CRMTTL       time.Duration `yaml:"-"`

	AnalyticsTTLRaw string `yaml:"analytics_ttl"`
	CatalogTTLRaw   string `yaml:"catalog_ttl"`
	CRMTTLRaw       string `yaml:"crm_ttl"`
}

// RetryConfig holds the tool client retry policy
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Multiplier  float64       `yaml:"multiplier"`
	BaseDelay   time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`

	BaseDelayRaw string `yaml:"base_delay"`
	MaxDelayRaw  string `yaml:"max_delay"`
}

// ConversationsConfig bounds conversation retention
type ConversationsConfig struct {
	MaxActive int           `yaml:"max_active"`
	IdleTTL   time.Duration `yaml:"-"`

	IdleTTLRaw string `yaml:"idle_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig holds MCP server configuration
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// BaseURL is the externally reachable gateway URL announced to SSE
	// clients. Derived from server.http_addr when empty.
	BaseURL string `yaml:"base_url"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and missing values
// take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse builds a Config from YAML content.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Path returns the config file location: $FUNNEL_CONFIG, then
// $XDG_CONFIG_HOME/funnel/gateway.yaml, then ~/.config/funnel/gateway.yaml.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "funnel", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "funnel", "gateway.yaml")
	}
	return filepath.Join(home, ".config", "funnel", "gateway.yaml")
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = ":memory:"
	}
	if cfg.Capabilities.Host == "" {
		cfg.Capabilities.Host = "127.0.0.1"
	}
	if cfg.Capabilities.BasePort == 0 {
		cfg.Capabilities.BasePort = DefaultBasePort
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = 30 * time.Second
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}
	if cfg.Cache.AnalyticsTTL == 0 {
		cfg.Cache.AnalyticsTTL = 5 * time.Minute
	}
	if cfg.Cache.CatalogTTL == 0 {
		cfg.Cache.CatalogTTL = time.Hour
	}
	if cfg.Cache.CRMTTL == 0 {
		cfg.Cache.CRMTTL = time.Hour
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Conversations.MaxActive == 0 {
		cfg.Conversations.MaxActive = 10000
	}
	if cfg.Conversations.IdleTTL == 0 {
		cfg.Conversations.IdleTTL = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics/prometheus"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.HTTPAddr); err != nil {
		return fmt.Errorf("server.http_addr %q is not host:port: %w", c.Server.HTTPAddr, err)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Capabilities.BasePort < 0 || c.Capabilities.BasePort+maxOffset() > 65535 {
		return fmt.Errorf("capabilities.base_port %d leaves no room for capability ports", c.Capabilities.BasePort)
	}
	for name, url := range c.Capabilities.Targets {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("capabilities.targets.%s must be an http(s) URL, got %q", name, url)
		}
	}
	if c.Capabilities.Remote && len(c.Capabilities.Targets) == 0 {
		return fmt.Errorf("capabilities.remote requires capabilities.targets")
	}
	if c.Dispatch.Timeout < 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Conversations.MaxActive < 0 {
		return fmt.Errorf("conversations.max_active must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

func maxOffset() int {
	m := 0
	for _, off := range PortOffsets {
		m = max(m, off)
	}
	return m
}

// EndpointAddrs returns the listen address of each capability endpoint.
func (c *Config) EndpointAddrs() map[string]string {
	addrs := make(map[string]string, len(PortOffsets))
	for name, off := range PortOffsets {
		addrs[name] = net.JoinHostPort(c.Capabilities.Host, strconv.Itoa(c.Capabilities.BasePort+off))
	}
	return addrs
}

// TTLs returns the cache TTL per capability.
func (c *Config) TTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"analytics": c.Cache.AnalyticsTTL,
		"catalog":   c.Cache.CatalogTTL,
		"crm":       c.Cache.CRMTTL,
	}
}

// GatewayURL returns the base URL clients use to reach the gateway.
func (c *Config) GatewayURL() string {
	if c.MCP.BaseURL != "" {
		return strings.TrimSuffix(c.MCP.BaseURL, "/")
	}
	host, port, err := net.SplitHostPort(c.Server.HTTPAddr)
	if err != nil {
		return "http://" + c.Server.HTTPAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.timeout", cfg.Dispatch.TimeoutRaw, &cfg.Dispatch.Timeout},
		{"cache.analytics_ttl", cfg.Cache.AnalyticsTTLRaw, &cfg.Cache.AnalyticsTTL},
		{"cache.catalog_ttl", cfg.Cache.CatalogTTLRaw, &cfg.Cache.CatalogTTL},
		{"cache.crm_ttl", cfg.Cache.CRMTTLRaw, &cfg.Cache.CRMTTL},
		{"retry.base_delay", cfg.Retry.BaseDelayRaw, &cfg.Retry.BaseDelay},
		{"retry.max_delay", cfg.Retry.MaxDelayRaw, &cfg.Retry.MaxDelay},
		{"conversations.idle_ttl", cfg.Conversations.IdleTTLRaw, &cfg.Conversations.IdleTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// DefaultYAML is the config written by `funnel-gateway init`.
const DefaultYAML = `# funnel-gateway configuration

server:
  http_addr: "127.0.0.1:8080"

database:
  # ":memory:" keeps the audit ledger for the process lifetime.
  path: ":memory:"

capabilities:
  latency_mode: false
  host: "127.0.0.1"
  base_port: 8000
  # Remote endpoints per capability, e.g. from "funnel-gateway capabilities":
  # targets:
  #   crm: "http://127.0.0.1:8001"

dispatch:
  timeout: "30s"
  # operations_file: "operations.toml"

cache:
  max_entries: 1000
  analytics_ttl: "5m"
  catalog_ttl: "1h"
  crm_ttl: "1h"

retry:
  max_attempts: 3
  base_delay: "1s"
  multiplier: 2
  max_delay: "30s"

conversations:
  max_active: 10000
  idle_ttl: "24h"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics/prometheus"

mcp:
  enabled: true
`
