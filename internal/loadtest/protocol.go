package loadtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/apitest/internal/report"
)

// Artifact names inside a job directory
const (
	ConfigFile = "config.yaml"
	StatusFile = "status.json"
	ResultFile = "result.json"
	JobFile    = "job.json"
	LogFile    = "worker.log"
)

// Worker phases written to the status artifact
const (
	PhaseStarting  = "starting"
	PhaseRamping   = "ramping"
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
	PhaseStopped   = "stopped"
)

// Paths locates the three artifacts shared by controller and worker
type Paths struct {
	Config string
	Status string
	Result string
}

// JobPaths returns the artifact paths of a job directory
func JobPaths(dir string) Paths {
	return Paths{
		Config: filepath.Join(dir, ConfigFile),
		Status: filepath.Join(dir, StatusFile),
		Result: filepath.Join(dir, ResultFile),
	}
}

// Status is overwritten by the worker about once per second
type Status struct {
	Phase         string    `json:"phase"`
	ActiveUsers   int       `json:"active_users"`
	TotalRequests int       `json:"total_requests"`
	Failures      int       `json:"failures"`
	Elapsed       float64   `json:"elapsed"` // seconds
	PID           int       `json:"pid"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Result is written once by the worker when it exits
type Result struct {
	Phase      string               `json:"phase"` // completed or stopped
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Elapsed    float64              `json:"elapsed"` // seconds
	Endpoints  []report.EndpointRow `json:"endpoints"`
}

// jobMeta is controller-owned metadata
type jobMeta struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	PID             int        `json:"pid"`
	StartedAt       time.Time  `json:"started_at"`
	StopRequestedAt *time.Time `json:"stop_requested_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
}

// writeAtomic replaces path with data so readers never see a partial file
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

func writeConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal load test config: %w", err)
	}
	return writeAtomic(path, data)
}

// readJSON returns (false, nil) when the file does not exist
func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
