// Package config loads this component's own operating knobs — the chunk
// store path and compression level, the active-tasks directory, and the
// SCSI device timeouts. It intentionally does not parse remotes, datastore
// registrations, or user accounts: per spec.md §1, that configuration
// surface belongs to the external request dispatcher, not the ingestion
// core.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Component is the ingestion core's own configuration.
type Component struct {
	// ChunkStorePath is the root directory FSStore persists compressed
	// chunks under.
	ChunkStorePath string `yaml:"chunk_store_path"`

	// CompressionLevel is the gozstd level FSStore recompresses chunks to.
	CompressionLevel int `yaml:"compression_level"`

	// TaskDir is the directory the worker registry writes per-task logs
	// and the active-tasks file into.
	TaskDir string `yaml:"task_dir"`

	// TapeDevice is the default /dev path for the SCSI tape driver.
	TapeDevice string `yaml:"tape_device,omitempty"`

	// DefaultSCSITimeoutSeconds is a SCSI command timeout in seconds. The
	// tape/scsi driver does not read it; a Drive uses scsi.DefaultTimeout.
	DefaultSCSITimeoutSeconds int `yaml:"default_scsi_timeout_seconds"`
}

// Default returns the component defaults used when no config file is
// supplied.
func Default() Component {
	return Component{
		ChunkStorePath:            "/var/lib/backupcore/chunks",
		CompressionLevel:          3,
		TaskDir:                   "/var/log/backupcore/tasks",
		DefaultSCSITimeoutSeconds: 120,
	}
}

// Load reads and parses a YAML config file, filling in defaults for any
// field left zero.
func Load(path string) (Component, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
