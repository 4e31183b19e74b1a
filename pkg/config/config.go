// Package config loads and validates the decision engine's deployment
// configuration from YAML with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// Duration wraps time.Duration with YAML string parsing ("250ms", "5s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// EngineConfig holds the evaluation settings. DefaultDecision and FailMode
// have no defaults: both must be stated in configuration, per the zero-trust
// requirement that fallback behaviour is an explicit deployment choice.
type EngineConfig struct {
	DefaultDecision          string   `yaml:"default_decision"`
	FailMode                 string   `yaml:"fail_mode"`
	RequestTimeout           Duration `yaml:"request_timeout"`
	PredicateTimeout         Duration `yaml:"predicate_timeout"`
	ScorerTimeout            Duration `yaml:"scorer_timeout"`
	ProviderTimeout          Duration `yaml:"provider_timeout"`
	ResolveCeiling           Duration `yaml:"resolve_ceiling"`
	CacheEntries             int      `yaml:"cache_entries"`
	DefaultTTLSeconds        int      `yaml:"default_ttl_seconds"`
	FingerprintContextFields []string `yaml:"fingerprint_context_fields"`
	BatchConcurrency         int      `yaml:"batch_concurrency"`
	CacheReviewDecisions     bool     `yaml:"cache_review_decisions"`
}

// PoliciesConfig points at the policy source.
type PoliciesConfig struct {
	File string `yaml:"file"`
}

// TelemetryConfig holds the OTLP exporter settings.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the root document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Policies  PoliciesConfig  `yaml:"policies"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads, overrides, and validates the configuration file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations that leave safety-critical behaviour
// implicit.
func (c *Config) Validate() error {
	outcome := domain.Outcome(strings.ToUpper(strings.TrimSpace(c.Engine.DefaultDecision)))
	if !outcome.Valid() {
		return fmt.Errorf("engine.default_decision must be one of ALLOW, DENY, REVIEW; got %q", c.Engine.DefaultDecision)
	}

	switch strings.ToLower(strings.TrimSpace(c.Engine.FailMode)) {
	case "open", "closed":
	default:
		return fmt.Errorf("engine.fail_mode must be open or closed; got %q", c.Engine.FailMode)
	}

	if c.Policies.File == "" {
		return fmt.Errorf("policies.file is required")
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8090"
	}
	return nil
}

// DefaultDecision returns the validated default outcome.
func (c *Config) DefaultDecision() domain.Outcome {
	return domain.Outcome(strings.ToUpper(strings.TrimSpace(c.Engine.DefaultDecision)))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DECISION_LISTEN_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DECISION_POLICY_FILE"); v != "" {
		cfg.Policies.File = v
	}
	if v := os.Getenv("DECISION_DEFAULT_DECISION"); v != "" {
		cfg.Engine.DefaultDecision = v
	}
	if v := os.Getenv("DECISION_FAIL_MODE"); v != "" {
		cfg.Engine.FailMode = v
	}
	if v := os.Getenv("DECISION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}
