// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Provider resolves the effective policy for a check. Implementations
// may layer multiple sources (built-in defaults, workspace file, admin
// overrides); the interceptor treats the returned policy as read-only
// input per call.
type Provider interface {
	Policy() *Policy
}

// Static is a Provider serving one fixed policy.
type Static struct {
	policy *Policy
}

// NewStatic wraps a policy as a Provider. A nil policy behaves as the
// zero policy (allow everything).
func NewStatic(p *Policy) *Static {
	if p == nil {
		p = &Policy{}
	}
	return &Static{policy: p}
}

func (s *Static) Policy() *Policy { return s.policy }

// Layered merges providers in order: all lists concatenate, approval
// flags accumulate, and the smallest non-zero argument cap wins. Deny
// rules from any layer apply regardless of what later layers allow.
type Layered struct {
	providers []Provider
}

// NewLayered combines providers in order.
func NewLayered(providers ...Provider) *Layered {
	return &Layered{providers: providers}
}

func (l *Layered) Policy() *Policy {
	merged := &Policy{}
	for _, provider := range l.providers {
		layer := provider.Policy()
		if layer == nil {
			continue
		}
		merged.BlockedTools = append(merged.BlockedTools, layer.BlockedTools...)
		merged.ApprovalRequiredTools = append(merged.ApprovalRequiredTools, layer.ApprovalRequiredTools...)
		merged.AllowedPaths = append(merged.AllowedPaths, layer.AllowedPaths...)
		merged.DeniedPaths = append(merged.DeniedPaths, layer.DeniedPaths...)
		merged.AllowedHosts = append(merged.AllowedHosts, layer.AllowedHosts...)
		merged.DeniedHosts = append(merged.DeniedHosts, layer.DeniedHosts...)
		merged.BlockedPlugins = append(merged.BlockedPlugins, layer.BlockedPlugins...)
		if layer.MaxArgumentSize > 0 &&
			(merged.MaxArgumentSize == 0 || layer.MaxArgumentSize < merged.MaxArgumentSize) {
			merged.MaxArgumentSize = layer.MaxArgumentSize
		}
		merged.RequireApprovalForDelete = merged.RequireApprovalForDelete || layer.RequireApprovalForDelete
		merged.RequireApprovalForNetwork = merged.RequireApprovalForNetwork || layer.RequireApprovalForNetwork
	}
	return merged
}

// LoadFile reads a policy rule file. The format is chosen by
// extension: .yaml/.yml parse as YAML, .json/.jsonc parse as JSON
// with comments and trailing commas permitted.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}

	p := &Policy{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("policy: parsing %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), p); err != nil {
			return nil, fmt.Errorf("policy: parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("policy: %s: unsupported rule file extension %q", path, ext)
	}
	return p, nil
}
