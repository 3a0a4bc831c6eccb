// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/warden-foundation/warden/lib/action"
)

func TestZeroPolicyAllowsEverything(t *testing.T) {
	p := &Policy{}
	actions := []action.Action{
		action.FileDelete("/etc/passwd"),
		action.ShellCommand("rm", []string{"-rf", "/"}),
		action.NetworkRequest("POST", "anywhere.example", 443),
		action.PluginCapabilityUse("untrusted", "exec"),
	}
	for _, act := range actions {
		if got := p.Check(act); got.Verdict != Allowed {
			t.Errorf("Check(%s) = %s (%s), want allowed", act.Type, got.Verdict, got.Reason)
		}
	}
}

func TestBlockedTools(t *testing.T) {
	p := &Policy{BlockedTools: []string{"sudo", "github:delete_*"}}

	tests := []struct {
		name string
		act  action.Action
		want Verdict
	}{
		{"blocked executable", action.ShellCommand("sudo", []string{"reboot"}), Blocked},
		{"other executable", action.ShellCommand("ls", nil), Allowed},
		{"blocked mcp tool", action.MCPToolCall("github", "delete_repo", "{}"), Blocked},
		{"other mcp tool", action.MCPToolCall("github", "list_repos", "{}"), Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Check(tt.act); got.Verdict != tt.want {
				t.Errorf("Check = %s (%s), want %s", got.Verdict, got.Reason, tt.want)
			}
		})
	}
}

func TestBlockedMCPServer(t *testing.T) {
	p := &Policy{BlockedTools: []string{"shady-server"}}
	if got := p.Check(action.MCPToolCall("shady-server", "anything", "")); got.Verdict != Blocked {
		t.Errorf("server-wide block: Check = %s, want blocked", got.Verdict)
	}
}

func TestPathRules(t *testing.T) {
	p := &Policy{
		AllowedPaths: []string{"/workspace/**"},
		DeniedPaths:  []string{"/workspace/.git/**", "**/.env"},
	}

	tests := []struct {
		name string
		act  action.Action
		want Verdict
	}{
		{"inside workspace", action.FileWrite("/workspace/src/main.go"), Allowed},
		{"outside workspace", action.FileWrite("/etc/hosts"), Blocked},
		{"denied beats allowed", action.FileWrite("/workspace/.git/config"), Blocked},
		{"denied suffix glob", action.FileRead("/workspace/app/.env"), Blocked},
		{"non-file action ignores path rules", action.NetworkRequest("GET", "example.com", 443), Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Check(tt.act); got.Verdict != tt.want {
				t.Errorf("Check = %s (%s), want %s", got.Verdict, got.Reason, tt.want)
			}
		})
	}
}

func TestHostRules(t *testing.T) {
	p := &Policy{
		AllowedHosts: []string{"*.internal.example", "api.github.com"},
		DeniedHosts:  []string{"metadata.internal.example"},
	}

	tests := []struct {
		name string
		act  action.Action
		want Verdict
	}{
		{"allowed wildcard", action.NetworkRequest("GET", "db.internal.example", 5432), Allowed},
		{"allowed exact", action.NetworkRequest("GET", "api.github.com", 443), Allowed},
		{"not in allow list", action.NetworkRequest("GET", "evil.example", 443), Blocked},
		{"denied beats allowed", action.NetworkRequest("GET", "metadata.internal.example", 80), Blocked},
		{"transmit uses host rules", action.TransmitData("evil.example", "source tree"), Blocked},
		{"plugin http uses host rules", action.PluginHTTPRequest("helper", "api.github.com"), Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Check(tt.act); got.Verdict != tt.want {
				t.Errorf("Check = %s (%s), want %s", got.Verdict, got.Reason, tt.want)
			}
		})
	}
}

func TestMaxArgumentSize(t *testing.T) {
	p := &Policy{MaxArgumentSize: 64}

	small := action.ShellCommand("echo", []string{"hello"})
	if got := p.Check(small); got.Verdict != Allowed {
		t.Errorf("small argument: Check = %s, want allowed", got.Verdict)
	}

	big := action.ShellCommand("echo", []string{strings.Repeat("x", 100)})
	got := p.Check(big)
	if got.Verdict != Blocked {
		t.Fatalf("oversized argument: Check = %s, want blocked", got.Verdict)
	}
	if !strings.Contains(got.Reason, "argument size") {
		t.Errorf("Reason = %q, want argument size message", got.Reason)
	}
}

func TestBlockedPlugins(t *testing.T) {
	p := &Policy{BlockedPlugins: []string{"crypto-*"}}

	if got := p.Check(action.PluginCapabilityUse("crypto-miner", "exec")); got.Verdict != Blocked {
		t.Errorf("blocked plugin: Check = %s, want blocked", got.Verdict)
	}
	if got := p.Check(action.PluginFileAccess("formatter", "/workspace/main.go")); got.Verdict != Allowed {
		t.Errorf("other plugin: Check = %s, want allowed", got.Verdict)
	}
}

func TestApprovalRequirements(t *testing.T) {
	p := &Policy{
		ApprovalRequiredTools:     []string{"git"},
		RequireApprovalForDelete:  true,
		RequireApprovalForNetwork: true,
	}

	tests := []struct {
		name string
		act  action.Action
		want Verdict
	}{
		{"flagged tool", action.ShellCommand("git", []string{"push"}), RequiresApproval},
		{"delete", action.FileDelete("/workspace/old.txt"), RequiresApproval},
		{"network", action.NetworkRequest("POST", "example.com", 443), RequiresApproval},
		{"transmit", action.TransmitData("example.com", "report"), RequiresApproval},
		{"plain read", action.FileRead("/workspace/main.go"), Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Check(tt.act)
			if got.Verdict != tt.want {
				t.Errorf("Check = %s (%s), want %s", got.Verdict, got.Reason, tt.want)
			}
			if tt.want == RequiresApproval && got.Risk != tt.act.Risk() {
				t.Errorf("Risk = %s, want %s", got.Risk, tt.act.Risk())
			}
		})
	}
}

func TestBlockBeatsApprovalRequirement(t *testing.T) {
	p := &Policy{
		BlockedTools:             []string{"rm"},
		ApprovalRequiredTools:    []string{"rm"},
		RequireApprovalForDelete: true,
	}
	if got := p.Check(action.ShellCommand("rm", []string{"-rf", "/workspace"})); got.Verdict != Blocked {
		t.Errorf("Check = %s, want blocked", got.Verdict)
	}
}

func TestLayeredMerge(t *testing.T) {
	admin := NewStatic(&Policy{
		DeniedPaths:     []string{"/etc/**"},
		MaxArgumentSize: 1024,
	})
	workspace := NewStatic(&Policy{
		AllowedPaths:             []string{"/workspace/**", "/etc/app.conf"},
		MaxArgumentSize:          4096,
		RequireApprovalForDelete: true,
	})
	merged := NewLayered(admin, workspace).Policy()

	// The admin deny survives a workspace allow for the same path.
	if got := merged.Check(action.FileRead("/etc/app.conf")); got.Verdict != Blocked {
		t.Errorf("admin-denied path: Check = %s, want blocked", got.Verdict)
	}
	if got := merged.Check(action.FileWrite("/workspace/main.go")); got.Verdict != Allowed {
		t.Errorf("workspace path: Check = %s (%s), want allowed", got.Verdict, got.Reason)
	}
	if got := merged.Check(action.FileDelete("/workspace/old.txt")); got.Verdict != RequiresApproval {
		t.Errorf("delete: Check = %s, want requires-approval", got.Verdict)
	}
	if merged.MaxArgumentSize != 1024 {
		t.Errorf("MaxArgumentSize = %d, want smallest layer value 1024", merged.MaxArgumentSize)
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
blocked_tools:
  - sudo
denied_paths:
  - "home/*/.ssh/*"
max_argument_size: 2048
require_approval_for_delete: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(p.BlockedTools) != 1 || p.BlockedTools[0] != "sudo" {
		t.Errorf("BlockedTools = %v", p.BlockedTools)
	}
	if p.MaxArgumentSize != 2048 || !p.RequireApprovalForDelete {
		t.Errorf("loaded policy = %+v", p)
	}
	if got := p.Check(action.FileRead("/home/user/.ssh/id_ed25519")); got.Verdict != Blocked {
		t.Errorf("denied path from file: Check = %s, want blocked", got.Verdict)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.jsonc")
	content := `{
  // Workspace rules for the demo repo.
  "blocked_plugins": ["crypto-*"],
  "allowed_hosts": ["api.github.com"], // trailing comma next line
  "require_approval_for_network": true,
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(p.BlockedPlugins) != 1 || p.BlockedPlugins[0] != "crypto-*" {
		t.Errorf("BlockedPlugins = %v", p.BlockedPlugins)
	}
	if !p.RequireApprovalForNetwork {
		t.Error("RequireApprovalForNetwork not set")
	}
}

func TestLoadFileUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile accepted unsupported extension")
	}
}
