// Package config holds the bootstrap configuration loaded from a YAML file
// plus environment. Only deploy-time concerns live here: listen address,
// database, logging, auth, prompt directory, tool mounts. Everything the
// operator may retune at runtime (model names, endpoints, step toggles,
// intervals) is a setting in the store instead and is re-read per operation.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/scribadev/scriba/pkg/observability"
)

// Config is the root bootstrap configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server,omitempty" json:"server,omitempty"`
	Database      DatabaseConfig       `yaml:"database,omitempty" json:"database,omitempty"`
	Logger        LoggerConfig         `yaml:"logger,omitempty" json:"logger,omitempty"`
	DMS           DMSTransportConfig   `yaml:"dms,omitempty" json:"dms,omitempty"`
	Prompts       PromptsConfig        `yaml:"prompts,omitempty" json:"prompts,omitempty"`
	MCPServers    []MCPServerConfig    `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host string     `yaml:"host,omitempty" json:"host,omitempty"`
	Port int        `yaml:"port,omitempty" json:"port,omitempty"`
	Auth AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8425
	}
	c.Auth.SetDefaults()
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Port)
	}
	return c.Auth.Validate()
}

// LoggerConfig configures logging behavior.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-file, --log-format)
//  2. Config file (logger section)
//  3. Defaults (info level, text format, stderr)
type LoggerConfig struct {
	// Level specifies the log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// File specifies the log file path. Empty means stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Format is "text" or "json".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LoggerConfig) Validate() error {
	validLevels := map[string]bool{
		"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	if c.Format != "" && c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("invalid log format %q (valid: text, json)", c.Format)
	}
	return nil
}

// DMSTransportConfig holds deploy-time transport options for reaching the
// DMS. The DMS URL and token themselves are runtime settings.
type DMSTransportConfig struct {
	// CACertificate is a path to a custom CA bundle for self-hosted DMS
	// installs behind a private CA.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`

	// InsecureSkipVerify disables TLS verification (dev/test only).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`

	// TimeoutSeconds bounds every DMS request. Default: 60.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

func (c *DMSTransportConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60
	}
}

func (c *DMSTransportConfig) Validate() error {
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("dms.timeout_seconds must be non-negative")
	}
	return nil
}

// PromptsConfig locates prompt template overrides on disk.
type PromptsConfig struct {
	// Dir is the directory holding <lang>/<step>.md overrides. Empty means
	// embedded defaults only.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Watch reloads templates on file changes.
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`
}

// MCPServerConfig mounts the read-only tools of an external MCP server into
// the analysis tool set.
type MCPServerConfig struct {
	Name      string   `yaml:"name" json:"name"`
	URL       string   `yaml:"url,omitempty" json:"url,omitempty"`
	Transport string   `yaml:"transport,omitempty" json:"transport,omitempty"` // sse or streamable-http
	Filter    []string `yaml:"filter,omitempty" json:"filter,omitempty"`       // limit exposed tools
}

func (c *MCPServerConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = "streamable-http"
	}
}

func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server name is required")
	}
	if c.URL == "" {
		return fmt.Errorf("mcp server %q: url is required", c.Name)
	}
	if c.Transport != "sse" && c.Transport != "streamable-http" {
		return fmt.Errorf("mcp server %q: invalid transport %q (valid: sse, streamable-http)", c.Name, c.Transport)
	}
	return nil
}

// SetDefaults applies defaults across all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Logger.SetDefaults()
	c.DMS.SetDefaults()
	for i := range c.MCPServers {
		c.MCPServers[i].SetDefaults()
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	if err := c.DMS.Validate(); err != nil {
		return err
	}
	for i := range c.MCPServers {
		if err := c.MCPServers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a zero-config setup: sqlite next to the binary, no auth,
// embedded prompts.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads, env-expands, decodes, and validates a config file. A missing
// path yields the zero-config defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	raw, err := parseBytes(data)
	if err != nil {
		return nil, err
	}

	expanded, ok := ExpandEnvVarsInData(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config file %s: top level must be a mapping", path)
	}

	cfg := &Config{}
	if err := decodeConfig(expanded, cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// parseBytes parses raw bytes into a map. YAML primary, JSON fallback.
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any

	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}

	return result, nil
}

// decodeConfig decodes a map into a Config struct using mapstructure.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	return nil
}
