// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresWardenConfig(t *testing.T) {
	t.Setenv("WARDEN_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("Load succeeded without WARDEN_CONFIG")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	content := `
paths:
  state: /var/lib/warden
  workspace: /srv/repo
budget:
  session_max: 25.0
  warn_at_percent: 90
approval:
  timeout_seconds: 120
policy:
  files:
    - /etc/warden/rules.yaml
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.State != "/var/lib/warden" {
		t.Errorf("State = %q", cfg.Paths.State)
	}
	if cfg.Budget.SessionMax != 25.0 || cfg.Budget.WarnAtPercent != 90 {
		t.Errorf("Budget = %+v", cfg.Budget)
	}
	if cfg.Approval.TimeoutSeconds != 120 {
		t.Errorf("TimeoutSeconds = %d", cfg.Approval.TimeoutSeconds)
	}
	if len(cfg.Policy.Files) != 1 {
		t.Errorf("Policy.Files = %v", cfg.Policy.Files)
	}

	// Unset database paths derive from the state directory.
	if cfg.Paths.AuditDatabase != "/var/lib/warden/audit.db" {
		t.Errorf("AuditDatabase = %q", cfg.Paths.AuditDatabase)
	}
	if cfg.Paths.DeferredDatabase != "/var/lib/warden/deferred.db" {
		t.Errorf("DeferredDatabase = %q", cfg.Paths.DeferredDatabase)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte("paths:\n  state: ${HOME}/.warden\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.State != "/home/tester/.warden" {
		t.Errorf("State = %q, want expanded HOME", cfg.Paths.State)
	}
}

func TestDefaultTimeout(t *testing.T) {
	cfg := Default()
	if cfg.Approval.TimeoutSeconds != 300 {
		t.Errorf("default TimeoutSeconds = %d, want 300", cfg.Approval.TimeoutSeconds)
	}
}
