package scenario

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RunDir manages the artifacts of one scenario run in a timestamped
// directory:
//
//	{baseDir}/{timestamp}/
//	├── scenario.yaml   # Copy of input scenario
//	├── run.log         # Debug log of the run
//	└── report.json     # JSON report
type RunDir struct {
	mu   sync.Mutex
	dir  string
	logf *os.File
}

// NewRunDir creates a new run directory under baseDir and saves a copy of
// the scenario into it when one is given.
func NewRunDir(baseDir string, scenario *Scenario) (*RunDir, error) {
	if baseDir == "" {
		baseDir = "./runs"
	}

	// Nanoseconds keep quick successive runs apart.
	timestamp := time.Now().Format("2006-01-02_15-04-05.000000000")
	dir := filepath.Join(baseDir, timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	rd := &RunDir{dir: dir}
	if scenario != nil {
		if err := rd.saveScenario(scenario); err != nil {
			return nil, fmt.Errorf("failed to save scenario: %w", err)
		}
	}
	return rd, nil
}

// Dir returns the run directory path.
func (rd *RunDir) Dir() string {
	return rd.dir
}

// ReportPath returns the path for the JSON report.
func (rd *RunDir) ReportPath() string {
	return filepath.Join(rd.dir, "report.json")
}

// ScenarioPath returns the path to the saved scenario.
func (rd *RunDir) ScenarioPath() string {
	return filepath.Join(rd.dir, "scenario.yaml")
}

// LogPath returns the path of the run log.
func (rd *RunDir) LogPath() string {
	return filepath.Join(rd.dir, "run.log")
}

func (rd *RunDir) saveScenario(scenario *Scenario) error {
	data, err := yaml.Marshal(scenario)
	if err != nil {
		return err
	}
	return os.WriteFile(rd.ScenarioPath(), data, 0644)
}

// CreateLogger returns a debug-level logger writing to the run log. Calling
// it again returns a logger on the same file.
func (rd *RunDir) CreateLogger() (*slog.Logger, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if rd.logf == nil {
		f, err := os.Create(rd.LogPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create run log: %w", err)
		}
		rd.logf = f
	}

	handler := slog.NewTextHandler(rd.logf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return slog.New(handler), nil
}

// Close flushes and closes the run log.
func (rd *RunDir) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if rd.logf == nil {
		return nil
	}
	f := rd.logf
	rd.logf = nil
	return errors.Join(f.Sync(), f.Close())
}
