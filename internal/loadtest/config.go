package loadtest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/apitest/internal/executor"
	"github.com/studiowebux/apitest/internal/types"
)

const (
	DefaultUsers     = 10
	DefaultSpawnRate = 2
	DefaultDuration  = "60s"
	MaxUsers         = 1000

	// Pause of each virtual user between two passes over the targets
	ThinkTimeMin = 50 * time.Millisecond
	ThinkTimeMax = 300 * time.Millisecond

	// DefaultRequestTimeout applies to targets without their own timeout
	DefaultRequestTimeout = 15 * time.Second
)

// Target is one resolved call replayed by every virtual user
type Target struct {
	Name       string            `yaml:"name" json:"name"`
	Method     string            `yaml:"method" json:"method"`
	URL        string            `yaml:"url" json:"url"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body       string            `yaml:"body,omitempty" json:"body,omitempty"`
	TimeoutSec int               `yaml:"timeout_sec,omitempty" json:"timeoutSec,omitempty"`
	TLS        *types.TLSConfig  `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// Timeout returns the per-request timeout
func (t *Target) Timeout() time.Duration {
	if t.TimeoutSec <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(t.TimeoutSec) * time.Second
}

// Config is the worker configuration, written once by the controller
type Config struct {
	Name      string   `yaml:"name" json:"name"`
	Users     int      `yaml:"users" json:"users"`
	SpawnRate int      `yaml:"spawn_rate" json:"spawnRate"`
	Duration  string   `yaml:"duration" json:"duration"`
	Targets   []Target `yaml:"targets" json:"targets"`
}

// ApplyDefaults fills unset load parameters
func (c *Config) ApplyDefaults() {
	if c.Users == 0 {
		c.Users = DefaultUsers
	}
	if c.SpawnRate == 0 {
		c.SpawnRate = DefaultSpawnRate
	}
	if c.Duration == "" {
		c.Duration = DefaultDuration
	}
	if c.Name == "" && len(c.Targets) > 0 {
		c.Name = c.Targets[0].Name
	}
}

// Validate validates the load test configuration
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	if c.Users <= 0 {
		return errors.New("users must be greater than 0")
	}
	if c.Users > MaxUsers {
		return fmt.Errorf("users cannot exceed %d", MaxUsers)
	}
	if c.SpawnRate <= 0 {
		return errors.New("spawn rate must be greater than 0")
	}
	if _, err := ParseDuration(c.Duration); err != nil {
		return err
	}
	for i, t := range c.Targets {
		if t.Method == "" || t.URL == "" {
			return fmt.Errorf("target %d: method and url are required", i+1)
		}
	}
	return nil
}

// RunDuration returns the parsed duration
func (c *Config) RunDuration() time.Duration {
	d, _ := ParseDuration(c.Duration)
	return d
}

// ParseDuration accepts "60s", "5m", "1h", a bare number of seconds or any
// Go duration string
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, errors.New("duration is required")
	}

	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

// TargetFromRequest converts a resolved request into a worker target
func TargetFromRequest(req *executor.Request) Target {
	def := req.Definition
	return Target{
		Name:       def.DisplayName(),
		Method:     def.Method,
		URL:        req.URL,
		Headers:    req.Headers,
		Body:       req.Body,
		TimeoutSec: def.Timeout(),
		TLS:        def.TLS,
	}
}

// LoadConfig reads a worker configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read load test config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse load test config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load test config: %w", err)
	}
	return &cfg, nil
}
