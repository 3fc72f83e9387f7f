// Package config loads and watches the relay configuration. The file is
// YAML with ${ENV_VAR} placeholders expanded at load time, so secrets
// stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.yaml"
	DefaultTimeoutSeconds = 120
)

// ProviderConfig describes one upstream endpoint. Type selects the
// conversion strategy; Model overrides whatever the client asked for.
type ProviderConfig struct {
	Type           string `yaml:"type"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-request upstream timeout.
func (p ProviderConfig) Timeout() time.Duration {
	secs := p.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RoutingConfig struct {
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks"`
}

// Chain returns the full attempt order: primary first, then fallbacks.
func (r RoutingConfig) Chain() []string {
	chain := make([]string, 0, 1+len(r.Fallbacks))
	chain = append(chain, r.Primary)
	chain = append(chain, r.Fallbacks...)
	return chain
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Routing   RoutingConfig             `yaml:"routing"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// Validate rejects configs the server could not start with.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	if c.Routing.Primary == "" {
		return fmt.Errorf("routing.primary is required")
	}
	for _, name := range c.Routing.Chain() {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("routing references unknown provider %q", name)
		}
	}
	for name, p := range c.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", name)
		}
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} with the environment value. Unset
// variables expand to the empty string rather than failing the load.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Manager holds the active configuration behind an atomic pointer so
// handlers can read it without locking while reloads swap it in place.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

// Load reads, expands, and validates the config file, then publishes it.
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	m.configValue.Store(cfg)
	return cfg, nil
}

// Parse decodes raw YAML after environment expansion and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current config, loading it on first use. Callers at
// startup should use Load directly to see errors.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		return &Config{
			Server:  ServerConfig{Host: DefaultHost, Port: DefaultPort},
			Logging: LoggingConfig{Level: "info"},
		}
	}
	return cfg
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

// Example is a starter config written by "config init".
const Example = `server:
  host: 127.0.0.1
  port: 6970

routing:
  primary: openai
  fallbacks: []

providers:
  openai:
    type: openai
    base_url: https://api.openai.com/v1
    api_key: ${OPENAI_API_KEY}
    model: gpt-4o
    timeout_seconds: 120

logging:
  level: info
`

// WriteExample creates the config file with the starter template. It
// refuses to overwrite an existing file.
func (m *Manager) WriteExample() error {
	if m.Exists() {
		return fmt.Errorf("config already exists at %s", m.configPath)
	}
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(m.configPath, []byte(Example), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
