// Package config loads the sidecar's runtime configuration from YAML with
// environment-variable overrides. Defaults come first, the file overlays
// only the fields it sets, env vars win last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "500ms" or "1m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the sidecar's full runtime configuration.
type Config struct {
	// Listen is the address the sidecar's HTTP surface binds to.
	Listen string `yaml:"listen"`

	// Targets maps agent ids to their base URLs. Calls to an agent not
	// listed here are rejected before any network traffic.
	Targets map[string]string `yaml:"targets"`

	// PolicyPath points at the policy YAML. Empty means the default
	// location under the user's home directory.
	PolicyPath string `yaml:"policy_path"`

	// AuditLog is the flight-recorder JSONL path.
	AuditLog string `yaml:"audit_log"`

	// CompensationDB is the SQLite path for compensation entries.
	CompensationDB string `yaml:"compensation_db"`

	// ManifestTTL bounds how long a fetched manifest is served from cache.
	ManifestTTL Duration `yaml:"manifest_ttl"`

	// FetchTimeout bounds one manifest discovery round trip.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// MaxForwardTimeout caps the per-call forward deadline regardless of
	// what the target's manifest advertises.
	MaxForwardTimeout Duration `yaml:"max_forward_timeout"`

	// CompensateTimeout bounds one undo invocation.
	CompensateTimeout Duration `yaml:"compensate_timeout"`

	// DefaultUndoWindow applies when a manifest does not advertise its own.
	DefaultUndoWindow Duration `yaml:"default_undo_window"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:            ":8777",
		Targets:           map[string]string{},
		PolicyPath:        "",
		AuditLog:          homePath("audit.jsonl"),
		CompensationDB:    homePath("compensation.db"),
		ManifestTTL:       Duration(60 * time.Second),
		FetchTimeout:      Duration(2 * time.Second),
		MaxForwardTimeout: Duration(30 * time.Second),
		CompensateTimeout: Duration(5 * time.Second),
		DefaultUndoWindow: Duration(5 * time.Minute),
	}
}

func homePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".trustgate", name)
}

// Load reads configuration from path, overlaying defaults, then applies
// environment overrides. A missing file is not an error when path is
// empty (pure defaults); an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = homePath("config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			applyEnv(cfg)
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRUSTGATE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TRUSTGATE_POLICY"); v != "" {
		cfg.PolicyPath = v
	}
	if v := os.Getenv("TRUSTGATE_AUDIT_LOG"); v != "" {
		cfg.AuditLog = v
	}
	if v := os.Getenv("TRUSTGATE_DB"); v != "" {
		cfg.CompensationDB = v
	}
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.ManifestTTL <= 0 {
		return fmt.Errorf("config: manifest_ttl must be positive")
	}
	if c.MaxForwardTimeout <= 0 {
		return fmt.Errorf("config: max_forward_timeout must be positive")
	}
	if c.DefaultUndoWindow <= 0 {
		return fmt.Errorf("config: default_undo_window must be positive")
	}
	return nil
}

// DefaultYAML returns a commented starter configuration for init.
func DefaultYAML() string {
	return `# trustgate sidecar configuration

# Address the sidecar listens on.
listen: ":8777"

# Agent ids the sidecar fronts, mapped to their base URLs.
targets:
  # billing-agent: "http://localhost:9001"

# Policy file. Empty uses ~/.trustgate/policy.yaml.
policy_path: ""

# Flight recorder and compensation store.
# audit_log: ~/.trustgate/audit.jsonl
# compensation_db: ~/.trustgate/compensation.db

# Manifest cache and network deadlines.
manifest_ttl: 60s
fetch_timeout: 2s
max_forward_timeout: 30s
compensate_timeout: 5s

# Undo window for manifests that do not advertise one.
default_undo_window: 5m
`
}
