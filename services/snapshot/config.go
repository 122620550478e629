// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/filter"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

// Duration is a time.Duration that additionally unmarshals from YAML
// strings like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BehaviorConfig controls the automatic snapshot policy and a few
// manager-level behaviors.
type BehaviorConfig struct {
	// AutoSnapshot enables automatic snapshots before file-modifying
	// tool executions.
	AutoSnapshot bool `yaml:"auto_snapshot"`

	// SkipIfSnapshotsExist suppresses the initial baseline snapshot
	// when the store already holds snapshots.
	SkipIfSnapshotsExist bool `yaml:"skip_if_snapshots_exist"`

	// MaxSnapshotsPerSession caps automatic snapshots per session.
	// Zero means unlimited.
	MaxSnapshotsPerSession int `yaml:"max_snapshots_per_session" validate:"min=0"`

	// CooldownPeriod is the minimum interval between automatic
	// snapshots. Zero disables the cooldown.
	CooldownPeriod Duration `yaml:"cooldown_period"`

	// RequireActualChanges discards an automatic snapshot when the
	// tool turned out not to change any of its target files.
	RequireActualChanges bool `yaml:"require_actual_changes"`

	// FingerprintChecksum includes a content checksum in change
	// fingerprints instead of relying on size and mtime alone.
	FingerprintChecksum bool `yaml:"fingerprint_checksum"`

	// TreatUndeclaredAsModifying controls the policy for tools that do
	// not declare whether they modify files. When true (the default),
	// such tools are snapshotted.
	TreatUndeclaredAsModifying bool `yaml:"treat_undeclared_as_modifying"`

	// WatchWorkspace enables the filesystem watcher used to skip
	// automatic snapshots when nothing changed since the last one.
	WatchWorkspace bool `yaml:"watch_workspace"`

	// ConfirmRestore asks interactive frontends to confirm before a
	// restore is applied. The service itself does not enforce it.
	ConfirmRestore bool `yaml:"confirm_restore"`

	// AutoCleanup removes the oldest snapshots after a capture when
	// store utilization exceeds CleanupThreshold percent.
	AutoCleanup bool `yaml:"auto_cleanup"`

	// CleanupThreshold is the utilization percentage that triggers
	// cleanup when AutoCleanup is set.
	CleanupThreshold float64 `yaml:"cleanup_threshold" validate:"min=0,max=100"`
}

// DefaultBehaviorConfig returns the behavior defaults.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		AutoSnapshot:               true,
		SkipIfSnapshotsExist:       true,
		MaxSnapshotsPerSession:     20,
		CooldownPeriod:             Duration(30 * time.Second),
		RequireActualChanges:       true,
		FingerprintChecksum:        false,
		TreatUndeclaredAsModifying: true,
		WatchWorkspace:             false,
		ConfirmRestore:             true,
		AutoCleanup:                true,
		CleanupThreshold:           90,
	}
}

// Config aggregates the configuration for every snapshot subsystem.
type Config struct {
	Filtering filter.Config  `yaml:"filtering"`
	Storage   store.Config   `yaml:"storage"`
	Backup    backup.Config  `yaml:"backup"`
	Behavior  BehaviorConfig `yaml:"behavior"`
}

// DefaultConfig returns the complete default configuration.
func DefaultConfig() Config {
	return Config{
		Filtering: filter.DefaultConfig(),
		Storage:   store.DefaultConfig(),
		Backup:    backup.DefaultConfig(),
		Behavior:  DefaultBehaviorConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct tags plus the
// constraints the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if c.Behavior.CooldownPeriod < 0 {
		return fmt.Errorf("%w: cooldown_period must not be negative", ErrInvalidRequest)
	}
	return nil
}

// LoadConfig reads a YAML configuration file and overlays it on the
// defaults. A missing file is not an error; the defaults are returned.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConfigProvider supplies the per-subsystem configuration views. The
// service reads each view once at construction time.
type ConfigProvider interface {
	FileFiltering() filter.Config
	Storage() store.Config
	Backup() backup.Config
	Behavior() BehaviorConfig
}

// StaticProvider is a ConfigProvider backed by a fixed Config value.
type StaticProvider struct {
	cfg Config
}

// NewStaticProvider validates cfg and wraps it in a provider.
func NewStaticProvider(cfg Config) (*StaticProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StaticProvider{cfg: cfg}, nil
}

func (p *StaticProvider) FileFiltering() filter.Config { return p.cfg.Filtering }
func (p *StaticProvider) Storage() store.Config        { return p.cfg.Storage }
func (p *StaticProvider) Backup() backup.Config        { return p.cfg.Backup }
func (p *StaticProvider) Behavior() BehaviorConfig     { return p.cfg.Behavior }
