// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Warden components.
//
// Configuration is loaded from a single file specified by:
//   - WARDEN_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Warden.
type Config struct {
	// Paths configures directory and database locations.
	Paths PathsConfig `yaml:"paths"`

	// Budget configures the cost trackers.
	Budget BudgetConfig `yaml:"budget"`

	// Approval configures the human-in-the-loop manager.
	Approval ApprovalConfig `yaml:"approval"`

	// Policy lists rule files, applied as layers in order.
	Policy PolicyConfig `yaml:"policy"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// State is the directory holding the runtime signing key and the
	// SQLite databases.
	State string `yaml:"state"`

	// AuditDatabase is the audit ledger. Defaults to
	// <state>/audit.db.
	AuditDatabase string `yaml:"audit_database"`

	// CapabilityDatabase holds persistent capability tokens.
	// Defaults to <state>/capabilities.db.
	CapabilityDatabase string `yaml:"capability_database"`

	// DeferredDatabase holds queued approval requests. Defaults to
	// <state>/deferred.db.
	DeferredDatabase string `yaml:"deferred_database"`

	// Workspace is the workspace root for workspace-scoped grants.
	Workspace string `yaml:"workspace"`
}

// BudgetConfig configures the session and workspace cost trackers.
// Zero limits mean unlimited.
type BudgetConfig struct {
	SessionMax    float64 `yaml:"session_max"`
	WorkspaceMax  float64 `yaml:"workspace_max"`
	PerAction     float64 `yaml:"per_action"`
	WarnAtPercent int     `yaml:"warn_at_percent"`
}

// ApprovalConfig configures the approval manager.
type ApprovalConfig struct {
	// TimeoutSeconds bounds how long a request waits for a human
	// before it is queued. Zero means the manager default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (a ApprovalConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// PolicyConfig names the static rule files.
type PolicyConfig struct {
	// Files are policy rule files (YAML or JSONC), merged as layers
	// in order.
	Files []string `yaml:"files"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			State: "${HOME}/.local/state/warden",
		},
		Approval: ApprovalConfig{
			TimeoutSeconds: 300,
		},
	}
}

// Load loads configuration from the WARDEN_CONFIG environment
// variable. There are no fallbacks: if WARDEN_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WARDEN_CONFIG environment variable not set; " +
			"set it to the path of your warden.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override values. The only expansion performed is ${HOME} and
// similar variables in paths, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.applyDefaults()
	return cfg, nil
}

// expandVariables expands ${VAR} references in path fields.
func (c *Config) expandVariables() {
	c.Paths.State = os.ExpandEnv(c.Paths.State)
	c.Paths.AuditDatabase = os.ExpandEnv(c.Paths.AuditDatabase)
	c.Paths.CapabilityDatabase = os.ExpandEnv(c.Paths.CapabilityDatabase)
	c.Paths.DeferredDatabase = os.ExpandEnv(c.Paths.DeferredDatabase)
	c.Paths.Workspace = os.ExpandEnv(c.Paths.Workspace)
	for i, file := range c.Policy.Files {
		c.Policy.Files[i] = os.ExpandEnv(file)
	}
}

// applyDefaults derives unset database paths from the state directory.
func (c *Config) applyDefaults() {
	if c.Paths.AuditDatabase == "" {
		c.Paths.AuditDatabase = filepath.Join(c.Paths.State, "audit.db")
	}
	if c.Paths.CapabilityDatabase == "" {
		c.Paths.CapabilityDatabase = filepath.Join(c.Paths.State, "capabilities.db")
	}
	if c.Paths.DeferredDatabase == "" {
		c.Paths.DeferredDatabase = filepath.Join(c.Paths.State, "deferred.db")
	}
}
