package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/apitest/internal/datasource"
	"github.com/studiowebux/apitest/internal/types"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755

	// EnvPrefix prefixes every environment override
	EnvPrefix = "APITEST_"
)

var (
	// ConfigDir is the global configuration directory (~/.apitest)
	ConfigDir string

	// ConfigFile is the settings file inside ConfigDir
	ConfigFile string

	// LoadTestDir holds one artifact directory per load-test job
	LoadTestDir string

	// DatabasePath is the SQLite database file for reports
	DatabasePath string

	// VariablesFile is the global variable store
	VariablesFile string
)

// Initialize sets up the configuration directories and files
// It creates ~/.apitest/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".apitest"))
}

// InitializeAt is Initialize rooted at dir
func InitializeAt(dir string) error {
	ConfigDir = dir
	ConfigFile = filepath.Join(ConfigDir, "config.yaml")
	LoadTestDir = filepath.Join(ConfigDir, "loadtests")
	DatabasePath = filepath.Join(ConfigDir, "apitest.db")
	VariablesFile = filepath.Join(ConfigDir, "variables.json")

	for _, d := range []string{ConfigDir, LoadTestDir} {
		if err := os.MkdirAll(d, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}

	// Create empty variable store if it doesn't exist
	if _, err := os.Stat(VariablesFile); os.IsNotExist(err) {
		if err := os.WriteFile(VariablesFile, []byte(`{"variables":{}}`), 0600); err != nil {
			return fmt.Errorf("failed to create variables file: %w", err)
		}
	}

	return nil
}

// Settings are the runtime knobs of the engine
type Settings struct {
	ListenAddr     string                       `yaml:"listenAddr"`
	RequestTimeout time.Duration                `yaml:"requestTimeout"`
	GraceWindow    time.Duration                `yaml:"graceWindow"`
	StopTimeout    time.Duration                `yaml:"stopTimeout"`
	MaxConns       int                          `yaml:"maxConns"`
	LoadTestDir    string                       `yaml:"loadTestDir"`
	DatabasePath   string                       `yaml:"databasePath"`
	VariablesFile  string                       `yaml:"variablesFile"`
	LogLevel       string                       `yaml:"logLevel"`
	Datasources    map[string]datasource.Config `yaml:"datasources,omitempty"`
	Certificates   map[string]types.TLSConfig   `yaml:"certificates,omitempty"`
}

// DefaultSettings returns the built-in defaults. Paths come from Initialize
// when it has run.
func DefaultSettings() *Settings {
	return &Settings{
		ListenAddr:     "127.0.0.1:8089",
		RequestTimeout: 30 * time.Second,
		GraceWindow:    10 * time.Second,
		StopTimeout:    15 * time.Second,
		MaxConns:       100,
		LoadTestDir:    LoadTestDir,
		DatabasePath:   DatabasePath,
		VariablesFile:  VariablesFile,
		LogLevel:       "info",
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LISTEN_ADDR":    &s.ListenAddr,
		"LOADTEST_DIR":   &s.LoadTestDir,
		"DATABASE_PATH":  &s.DatabasePath,
		"VARIABLES_FILE": &s.VariablesFile,
		"LOG_LEVEL":      &s.LogLevel,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT": &s.RequestTimeout,
		"GRACE_WINDOW":    &s.GraceWindow,
		"STOP_TIMEOUT":    &s.StopTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "MAX_CONNS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_CONNS: %w", EnvPrefix, err)
		}
		s.MaxConns = n
	}
	return nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the settings
func (s *Settings) Validate() error {
	if s.RequestTimeout <= 0 || s.GraceWindow <= 0 || s.StopTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if s.MaxConns < 1 {
		return fmt.Errorf("maxConns must be at least 1")
	}
	for name, ds := range s.Datasources {
		if err := ds.Validate(); err != nil {
			return fmt.Errorf("datasource %s: %w", name, err)
		}
	}
	return nil
}

// Save writes the settings to path
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, FilePermissions); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
