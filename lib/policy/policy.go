// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy evaluates static, admin-configured rules against
// sensitive actions. Policy is absolute: a Blocked verdict can never
// be overridden by a capability token, an allowance, or a human
// approval.
package policy

import (
	"fmt"
	"strings"

	"github.com/warden-foundation/warden/lib/action"
	"github.com/warden-foundation/warden/lib/resource"
)

// Verdict is the outcome of a policy check.
type Verdict uint8

const (
	// Allowed means no rule objects; downstream checks still apply.
	Allowed Verdict = iota
	// RequiresApproval means the action may proceed only with a human
	// decision (or an existing grant from an earlier decision).
	RequiresApproval
	// Blocked means the action is denied unconditionally.
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case RequiresApproval:
		return "requires-approval"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Result carries the verdict and, for non-allowed verdicts, the rule
// that produced it.
type Result struct {
	Verdict Verdict
	// Reason names the matching rule, human-readable.
	Reason string
	// Risk is the risk level to present in the approval prompt. Set
	// when Verdict is RequiresApproval.
	Risk action.RiskLevel
}

// Policy is one layer of static rules. The zero value allows
// everything: empty lists mean "no filtering", not "deny all".
//
// All list entries are globs using the resource pattern syntax
// (*, ?, ** across path segments). Deny lists are checked before
// allow lists, so a path matching both is denied.
type Policy struct {
	// BlockedTools denies shell commands and MCP tools by name.
	// Shell commands match the executable name; MCP tools match
	// "server:tool" and the bare server name.
	BlockedTools []string `yaml:"blocked_tools" json:"blocked_tools"`

	// ApprovalRequiredTools forces a human decision for matching
	// tools even when their risk level would not.
	ApprovalRequiredTools []string `yaml:"approval_required_tools" json:"approval_required_tools"`

	// AllowedPaths, when non-empty, restricts file actions to
	// matching paths. DeniedPaths always wins over AllowedPaths.
	AllowedPaths []string `yaml:"allowed_paths" json:"allowed_paths"`
	DeniedPaths  []string `yaml:"denied_paths" json:"denied_paths"`

	// AllowedHosts and DeniedHosts restrict network actions by
	// hostname, same precedence as the path lists.
	AllowedHosts []string `yaml:"allowed_hosts" json:"allowed_hosts"`
	DeniedHosts  []string `yaml:"denied_hosts" json:"denied_hosts"`

	// MaxArgumentSize caps the action argument (command line, request
	// body description) in bytes. Zero means no cap.
	MaxArgumentSize int `yaml:"max_argument_size" json:"max_argument_size"`

	// RequireApprovalForDelete forces approval for file deletions.
	RequireApprovalForDelete bool `yaml:"require_approval_for_delete" json:"require_approval_for_delete"`

	// RequireApprovalForNetwork forces approval for network requests
	// and outbound data transmission.
	RequireApprovalForNetwork bool `yaml:"require_approval_for_network" json:"require_approval_for_network"`

	// BlockedPlugins denies actions from matching sandboxed plugins.
	BlockedPlugins []string `yaml:"blocked_plugins" json:"blocked_plugins"`
}

// Check evaluates the action against this policy layer. Blocks are
// reported in rule order: argument cap, plugin blocks, tool blocks,
// path rules, host rules. Approval requirements are only consulted
// once no rule blocks.
func (p *Policy) Check(act action.Action) Result {
	if p.MaxArgumentSize > 0 && len(act.Argument) > p.MaxArgumentSize {
		return Result{
			Verdict: Blocked,
			Reason:  fmt.Sprintf("argument size %d exceeds limit %d", len(act.Argument), p.MaxArgumentSize),
		}
	}

	if act.Plugin != "" {
		if rule, ok := matchAny(p.BlockedPlugins, act.Plugin); ok {
			return Result{Verdict: Blocked, Reason: "plugin blocked by rule " + rule}
		}
	}

	for _, name := range toolNames(act) {
		if rule, ok := matchAny(p.BlockedTools, name); ok {
			return Result{Verdict: Blocked, Reason: "tool blocked by rule " + rule}
		}
	}

	if path, ok := filePath(act.Resource); ok {
		if rule, ok := matchAny(p.DeniedPaths, path); ok {
			return Result{Verdict: Blocked, Reason: "path denied by rule " + rule}
		}
		if len(p.AllowedPaths) > 0 {
			if _, ok := matchAny(p.AllowedPaths, path); !ok {
				return Result{Verdict: Blocked, Reason: "path not in allowed list"}
			}
		}
	}

	if host, ok := hostOf(act.Resource); ok {
		if rule, ok := matchAny(p.DeniedHosts, host); ok {
			return Result{Verdict: Blocked, Reason: "host denied by rule " + rule}
		}
		if len(p.AllowedHosts) > 0 {
			if _, ok := matchAny(p.AllowedHosts, host); !ok {
				return Result{Verdict: Blocked, Reason: "host not in allowed list"}
			}
		}
	}

	for _, name := range toolNames(act) {
		if rule, ok := matchAny(p.ApprovalRequiredTools, name); ok {
			return Result{
				Verdict: RequiresApproval,
				Reason:  "tool requires approval by rule " + rule,
				Risk:    act.Risk(),
			}
		}
	}
	if p.RequireApprovalForDelete && act.Type == action.TypeFileDelete {
		return Result{
			Verdict: RequiresApproval,
			Reason:  "file deletion requires approval",
			Risk:    act.Risk(),
		}
	}
	if p.RequireApprovalForNetwork && isNetwork(act.Type) {
		return Result{
			Verdict: RequiresApproval,
			Reason:  "network access requires approval",
			Risk:    act.Risk(),
		}
	}

	return Result{Verdict: Allowed}
}

func isNetwork(t action.Type) bool {
	switch t {
	case action.TypeNetworkRequest, action.TypeTransmitData, action.TypePluginHTTPRequest:
		return true
	}
	return false
}

// toolNames returns the identities a tool-blocking rule can match for
// this action. Non-tool actions have none.
func toolNames(act action.Action) []string {
	switch act.Type {
	case action.TypeShellCommand:
		return []string{strings.TrimPrefix(act.Resource, "cmd://")}
	case action.TypeMCPToolCall:
		id := strings.TrimPrefix(act.Resource, "mcp://")
		server, _, found := strings.Cut(id, ":")
		if found {
			return []string{id, server}
		}
		return []string{id}
	}
	return nil
}

// filePath extracts the path from a file:// resource URI.
func filePath(resourceURI string) (string, bool) {
	rest, found := strings.CutPrefix(resourceURI, "file://")
	if !found {
		return "", false
	}
	return rest, true
}

// hostOf extracts the hostname from a net://host:port resource URI.
func hostOf(resourceURI string) (string, bool) {
	rest, found := strings.CutPrefix(resourceURI, "net://")
	if !found {
		return "", false
	}
	host, _, found := strings.Cut(rest, ":")
	if !found {
		host = rest
	}
	return host, true
}

// matchAny reports the first glob in rules matching the value. Values
// are compared with leading slashes stripped so "/etc/**" and "etc/**"
// behave identically.
func matchAny(rules []string, value string) (string, bool) {
	candidate := strings.TrimPrefix(value, "/")
	for _, rule := range rules {
		if resource.Glob(strings.TrimPrefix(rule, "/"), candidate) {
			return rule, true
		}
	}
	return "", false
}
