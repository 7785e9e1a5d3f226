package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/filter"
)

const (
	configPathEnv    = "COVERITY_PUBLISHER_CONFIG"
	userEnv          = "COVERITY_USER"
	passphraseEnv    = "COVERITY_PASSPHRASE"
	storeDSNEnv      = "COVERITY_STORE_DSN"
	logLevelEnv      = "COVERITY_LOG_LEVEL"
	cutoffDateLayout = "2006-01-02"

	defaultPageSize          = 1000
	defaultTimeout           = 60 * time.Second
	defaultRequestsPerSecond = 10
)

// Config holds the publisher settings for one build execution.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Storage   StorageConfig    `yaml:"storage"`
	Publisher PublisherConfig  `yaml:"publisher"`
	Instances []InstanceConfig `yaml:"instances"`
	Streams   []StreamConfig   `yaml:"streams"`
}

// LoggingConfig sets the diagnostic log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig points at the build record store (sqlite file or postgres URL).
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// PublisherConfig carries the run policy.
type PublisherConfig struct {
	PageSize          int  `yaml:"pageSize"`
	ContinueOnFailure bool `yaml:"continueOnFailure"`
}

// InstanceConfig describes a Connect instance.
type InstanceConfig struct {
	Name              string        `yaml:"name"`
	URL               string        `yaml:"url"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// StreamConfig selects a stream and its defect filters.
type StreamConfig struct {
	Instance      string        `yaml:"instance"`
	Project       string        `yaml:"project"`
	Stream        string        `yaml:"stream"`
	Label         string        `yaml:"label"`
	DefaultAction string        `yaml:"defaultAction"`
	Filters       *FilterConfig `yaml:"filters"`
}

// FilterConfig lists allowed values per dimension. Impacts and severities
// accept "Medium+" style ranges.
type FilterConfig struct {
	Classifications []string `yaml:"classifications"`
	Severities      []string `yaml:"severities"`
	Actions         []string `yaml:"actions"`
	Impacts         []string `yaml:"impacts"`
	Components      []string `yaml:"components"`
	Checkers        []string `yaml:"checkers"`
	CutoffDate      string   `yaml:"cutoffDate"`
}

// Load reads the YAML file at path (or the path in COVERITY_PUBLISHER_CONFIG),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		return Config{}, fmt.Errorf("config: no path given and %s is not set", configPathEnv)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML configuration and prepares it for use.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(storeDSNEnv); v != "" {
		c.Storage.DSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	user, pass := os.Getenv(userEnv), os.Getenv(passphraseEnv)
	for i := range c.Instances {
		if c.Instances[i].User == "" && user != "" {
			c.Instances[i].User = user
		}
		if c.Instances[i].Password == "" && pass != "" {
			c.Instances[i].Password = pass
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "coverity-publisher.db"
	}
	if c.Publisher.PageSize <= 0 {
		c.Publisher.PageSize = defaultPageSize
	}
	for i := range c.Instances {
		if c.Instances[i].Timeout <= 0 {
			c.Instances[i].Timeout = defaultTimeout
		}
		if c.Instances[i].RequestsPerSecond <= 0 {
			c.Instances[i].RequestsPerSecond = defaultRequestsPerSecond
		}
	}
}

// Validate checks instances and that every stream resolves to one.
func (c Config) Validate() error {
	names := map[string]bool{}
	for _, inst := range c.Instances {
		if strings.TrimSpace(inst.Name) == "" {
			return &domain.ConfigurationError{Field: "instance name", Reason: "is required"}
		}
		if names[inst.Name] {
			return &domain.ConfigurationError{Field: "instance " + inst.Name, Reason: "is declared twice"}
		}
		names[inst.Name] = true

		u, err := url.Parse(inst.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &domain.ConfigurationError{Field: "instance " + inst.Name + " url", Reason: fmt.Sprintf("%q is not an absolute URL", inst.URL)}
		}
	}

	if len(c.Streams) == 0 {
		return &domain.ConfigurationError{Field: "streams", Reason: "must list at least one stream"}
	}
	for _, s := range c.Streams {
		if s.Instance != "" && !names[s.Instance] {
			return &domain.ConfigurationError{Stream: s.Stream, Field: "instance", Reason: fmt.Sprintf("%q is not configured", s.Instance)}
		}
		if _, err := s.Filters.spec(s.Stream); err != nil {
			return err
		}
	}
	return nil
}

// Instance returns the named instance.
func (c Config) Instance(name string) (InstanceConfig, bool) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return InstanceConfig{}, false
}

// DomainStreams converts the configured streams in declaration order.
func (c Config) DomainStreams() ([]domain.Stream, error) {
	streams := make([]domain.Stream, 0, len(c.Streams))
	for _, s := range c.Streams {
		spec, err := s.Filters.spec(s.Stream)
		if err != nil {
			return nil, err
		}
		streams = append(streams, domain.Stream{
			Instance:      s.Instance,
			Project:       s.Project,
			Name:          s.Stream,
			Label:         s.Label,
			DefaultAction: s.DefaultAction,
			Filter:        spec,
		})
	}
	return streams, nil
}

func (f *FilterConfig) spec(stream string) (*domain.FilterSpecification, error) {
	if f == nil {
		return nil, nil
	}

	spec := &domain.FilterSpecification{
		Classifications: f.Classifications,
		Severities:      filter.ExpandSeverities(f.Severities),
		Actions:         f.Actions,
		Impacts:         filter.ExpandImpacts(f.Impacts),
		Components:      f.Components,
		Checkers:        f.Checkers,
	}

	if v := strings.TrimSpace(f.CutoffDate); v != "" {
		cutoff, err := time.Parse(cutoffDateLayout, v)
		if err != nil {
			return nil, &domain.ConfigurationError{Stream: stream, Field: "cutoffDate", Reason: fmt.Sprintf("%q is not a yyyy-mm-dd date", v)}
		}
		spec.Cutoff = cutoff
	}
	return spec, nil
}
