// Package config loads the runtime configuration for a toolmesh server
// from YAML. Configuration is discovered from an explicit path, the
// working directory, or the user's home directory, and environment
// references like ${MASA_DATA_API_KEY} are expanded before parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/toolmesh/logging"
)

const (
	projectConfigName = "toolmesh.yaml"
	homeConfigDir     = ".toolmesh"
	homeConfigName    = "config.yaml"
)

// Transport kinds accepted by Config.Transport.Kind.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Model providers accepted by Config.Model.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Duration wraps time.Duration so YAML configs can use values like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the top level runtime configuration for a toolmesh server.
type Config struct {
	// SessionIdleTimeout is how long a session may sit idle before the
	// janitor evicts it. Zero disables idle eviction.
	SessionIdleTimeout Duration `yaml:"session_idle_timeout"`

	// InvocationTimeout bounds a single tool invocation.
	InvocationTimeout Duration `yaml:"invocation_timeout"`

	// StrictSchemaMode rejects arguments carrying fields the tool schema
	// does not declare.
	StrictSchemaMode bool `yaml:"strict_schema_mode"`

	// MaxConcurrentInvocations caps parallel tool handlers. Zero means
	// unlimited.
	MaxConcurrentInvocations int `yaml:"max_concurrent_invocations"`

	Logging   LoggingConfig   `yaml:"logging"`
	Transport TransportConfig `yaml:"transport"`
	Redis     RedisConfig     `yaml:"redis"`
	Masa      MasaConfig      `yaml:"masa"`
	Model     ModelConfig     `yaml:"model"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TransportConfig selects how the server accepts connections.
type TransportConfig struct {
	Kind string `yaml:"kind"`
	Addr string `yaml:"addr"`
}

// RedisConfig enables the Redis session store. An empty URL keeps
// sessions in memory.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MasaConfig configures the Masa Data API client behind the sentiment
// tools. The tools are only registered when an API key is set.
type MasaConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ModelConfig selects the model provider used by the chat command.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
}

// Default returns the configuration used when no file is found. Loading
// starts from these values, so absent keys keep their defaults.
func Default() Config {
	return Config{
		SessionIdleTimeout:       Duration(30 * time.Minute),
		InvocationTimeout:        Duration(30 * time.Second),
		StrictSchemaMode:         true,
		MaxConcurrentInvocations: 10,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Transport: TransportConfig{
			Kind: TransportStdio,
			Addr: ":8080",
		},
		Model: ModelConfig{
			Provider: ProviderOpenAI,
		},
	}
}

// Discover resolves the config file location with first-match
// semantics: the explicit path if given, then toolmesh.yaml in the
// working directory, then ~/.toolmesh/config.yaml. The boolean reports
// whether a file was found; a missing explicit path is an error.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve user home: %w", err)
	}

	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		clean = filepath.Clean(clean)

		info, err := os.Stat(clean)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("config file %q not found", clean)
			}
			return "", false, fmt.Errorf("failed to check config path %q: %w", clean, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", clean)
		}

		return clean, true, nil
	}

	candidates := []string{
		filepath.Join(cwd, projectConfigName),
		filepath.Join(homeDir, homeConfigDir, homeConfigName),
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to check config path %q: %w", candidate, err)
		}
	}

	return "", false, nil
}

// Load reads and parses a config file. Values start from Default, so a
// partial file only overrides what it mentions.
func Load(path string) (Config, error) {
	// #nosec G304 -- path comes from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %q: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault discovers and loads the configuration, falling back to
// Default when no file exists. The returned path is empty when the
// defaults were used.
func LoadOrDefault(explicitPath string) (Config, string, error) {
	path, found, err := Discover(explicitPath)
	if err != nil {
		return Config{}, "", err
	}

	if !found {
		return Default(), "", nil
	}

	cfg, err := Load(path)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// Validate checks the configuration for values that cannot be wired.
func (c Config) Validate() error {
	if c.SessionIdleTimeout < 0 {
		return errors.New("session_idle_timeout must not be negative")
	}

	if c.InvocationTimeout < 0 {
		return errors.New("invocation_timeout must not be negative")
	}

	if c.MaxConcurrentInvocations < 0 {
		return errors.New("max_concurrent_invocations must not be negative")
	}

	if _, err := logging.ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	switch c.Transport.Kind {
	case TransportStdio:
	case TransportSSE:
		if strings.TrimSpace(c.Transport.Addr) == "" {
			return errors.New("transport kind \"sse\" requires an addr")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock, "":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}

	return nil
}

// LogLevel returns the configured level as a logging.LogLevel.
func (c Config) LogLevel() logging.LogLevel {
	level, err := logging.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return logging.LogLevelInfo
	}

	return level
}
