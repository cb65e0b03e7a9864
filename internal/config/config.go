package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Missing-key policies for requests that carry no business identifier.
const (
	MissingKeyPool   = "pool"   // collapse onto the shared "default" instance
	MissingKeyReject = "reject" // fail the request with a validation error
)

// Backoff policies for step retries.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Duration wraps time.Duration with YAML support ("250ms", "5s", ...).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models linchub.yml.
type Config struct {
	Service struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"service"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Actors struct {
		MissingKeyPolicy string `yaml:"missing_key_policy"`
		DefaultKey       string `yaml:"default_key"`
	} `yaml:"actors"`
	Steps struct {
		Timeout Duration `yaml:"timeout"`
		Retries struct {
			Limit   int      `yaml:"limit"`
			Delay   Duration `yaml:"delay"`
			Backoff string   `yaml:"backoff"`
		} `yaml:"retries"`
	} `yaml:"steps"`
	Cache struct {
		TTL        Duration `yaml:"ttl"`
		MaxEntries int      `yaml:"max_entries"`
	} `yaml:"cache"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Output  string `yaml:"output"`
	} `yaml:"tracing"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Actors.MissingKeyPolicy {
	case MissingKeyPool, MissingKeyReject:
	default:
		return fmt.Errorf("actors.missing_key_policy must be %q or %q", MissingKeyPool, MissingKeyReject)
	}
	if c.Actors.MissingKeyPolicy == MissingKeyPool && c.Actors.DefaultKey == "" {
		return fmt.Errorf("actors.default_key is required with missing_key_policy=pool")
	}
	if c.Steps.Retries.Limit < 0 {
		return fmt.Errorf("steps.retries.limit must be >= 0")
	}
	switch c.Steps.Retries.Backoff {
	case BackoffConstant, BackoffExponential:
	default:
		return fmt.Errorf("steps.retries.backoff must be %q or %q", BackoffConstant, BackoffExponential)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be >= 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "linchub.yml")
}

// Load reads and validates config from workspace; a missing file yields the
// built-in defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Service.Name = "linchub"
	cfg.Service.Version = "1.0.0"
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = ""
	cfg.Actors.MissingKeyPolicy = MissingKeyPool
	cfg.Actors.DefaultKey = "default"
	cfg.Steps.Timeout = Duration(10 * time.Second)
	cfg.Steps.Retries.Limit = 2
	cfg.Steps.Retries.Delay = Duration(200 * time.Millisecond)
	cfg.Steps.Retries.Backoff = BackoffExponential
	cfg.Cache.TTL = Duration(30 * time.Second)
	cfg.Cache.MaxEntries = 512
	cfg.RateLimit.RPS = 50
	cfg.RateLimit.Burst = 100
	cfg.Tracing.Enabled = false
	return &cfg
}

// GenerateDefault returns the default config as YAML for `linchub config init`.
func GenerateDefault() string {
	b, _ := yaml.Marshal(Default())
	return string(b)
}
