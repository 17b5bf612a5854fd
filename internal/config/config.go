// Package config loads the coordinator's YAML configuration file, expanding
// environment variables the way the broader example corpus's config loaders
// do, and translating it into the typed configuration each internal package
// needs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level coordinator configuration file shape.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Perspectives  PerspectivesConfig  `yaml:"perspectives"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	CAA           CAAConfig           `yaml:"caa"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// PerspectivesConfig lists known perspectives and how to reach each one.
type PerspectivesConfig struct {
	KnownPerspectives []string          `yaml:"known_perspectives"`
	Endpoints         map[string]string `yaml:"endpoints"`
}

// OrchestrationConfig controls cohort and quorum defaults.
type OrchestrationConfig struct {
	DefaultPerspectiveCount int    `yaml:"default_perspective_count"`
	EnforceDistinctRIR      bool   `yaml:"enforce_distinct_rir_regions"`
	GlobalMaxAttempts       *int   `yaml:"global_max_attempts"`
	HashSecret              string `yaml:"hash_secret"`
}

// CAAConfig controls the local CAA checker used for perspectives this
// coordinator process itself serves (as opposed to remote perspectives
// reached over HTTP).
type CAAConfig struct {
	DefaultCAADomains []string `yaml:"default_caa_domains"`
	DNSServers        []string `yaml:"dns_servers"`
	DNSTimeout        Duration `yaml:"dns_timeout"`
}

// Duration wraps time.Duration so the config file can write human-readable
// values like "5s" instead of a raw nanosecond integer, the same
// string-form-duration idiom prometheus/common's model.Duration uses.
type Duration time.Duration

// UnmarshalYAML parses a duration string (e.g. "5s", "500ms") into d.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the value as a time.Duration for callers that need it.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a minimal, locally-runnable configuration: two ARIN,
// two RIPE, and two APNIC perspectives, a default perspective count of 3
// (which has no quorum floor table entry, so requests must then carry an
// explicit quorum_count), and text logging.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080"},
		Perspectives: PerspectivesConfig{
			KnownPerspectives: []string{
				"arin.us-east-1", "arin.us-west-1",
				"ripe.eu-west-2", "ripe.eu-central-2",
				"apnic.ap-northeast-1", "apnic.ap-south-2",
			},
			Endpoints: map[string]string{},
		},
		Orchestration: OrchestrationConfig{
			DefaultPerspectiveCount: 3,
			EnforceDistinctRIR:      true,
			HashSecret:              "change-me",
		},
		CAA: CAAConfig{
			DefaultCAADomains: []string{},
			DNSServers:        []string{"8.8.8.8:53"},
			DNSTimeout:        Duration(5 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads and parses the YAML configuration file at path, starting from
// DefaultConfig and overlaying whatever the file specifies. Environment
// variables are expanded inside the file content before parsing, and
// MPIC_HASH_SECRET overrides orchestration.hash_secret when set so the
// secret itself need not live in a committed file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if secret := os.Getenv("MPIC_HASH_SECRET"); secret != "" {
			cfg.Orchestration.HashSecret = secret
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if secret := os.Getenv("MPIC_HASH_SECRET"); secret != "" {
		cfg.Orchestration.HashSecret = secret
	}

	return cfg, nil
}

// Validate checks the configuration is internally consistent enough to
// construct a Coordinator from.
func (c *Config) Validate() error {
	if len(c.Perspectives.KnownPerspectives) == 0 {
		return fmt.Errorf("perspectives.known_perspectives must not be empty")
	}
	if c.Orchestration.DefaultPerspectiveCount < 2 {
		return fmt.Errorf("orchestration.default_perspective_count must be at least 2")
	}
	if c.Orchestration.HashSecret == "" {
		return fmt.Errorf("orchestration.hash_secret is required")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	return nil
}
