package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable policy parameters. The rule table itself is
// fixed (see Evaluate); only thresholds are configurable.
type Config struct {
	// AllowScoreMin is the minimum trust score for the allow rule.
	AllowScoreMin int `yaml:"allow_score_min"`
}

// DefaultConfig returns the built-in policy parameters.
func DefaultConfig() *Config {
	return &Config{
		AllowScoreMin: 7,
	}
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.trustgate/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256
// hash, computed over the raw YAML bytes on disk. When no file exists
// (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), emptyHash(), nil
		}
		path = filepath.Join(home, ".trustgate", "policy.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}
	if cfg.AllowScoreMin < 0 || cfg.AllowScoreMin > 10 {
		return nil, "", fmt.Errorf("allow_score_min must be in [0,10], got %d", cfg.AllowScoreMin)
	}

	return cfg, hash, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for init.
func DefaultConfigYAML() string {
	return `# trustgate policy configuration
#
# Rule order (fixed, cannot be changed):
#   1. untrusted destination + restricted finding -> block (non-overridable)
#   2. score >= allow_score_min and no findings   -> allow
#   3. otherwise                                  -> warn (override required)

# Minimum trust score for the allow rule.
allow_score_min: 7
`
}
