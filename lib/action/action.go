// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package action defines the closed taxonomy of sensitive actions an
// agent can attempt. Every authorization decision, approval prompt,
// and audit entry is about exactly one Action.
package action

import (
	"fmt"
	"strings"

	"github.com/warden-foundation/warden/lib/capability"
	"github.com/warden-foundation/warden/lib/resource"
)

// Type discriminates the action taxonomy. The string values are
// stable identifiers used in audit entries and policy rules.
type Type string

const (
	TypeFileRead             Type = "file_read"
	TypeFileWrite            Type = "file_write"
	TypeFileDelete           Type = "file_delete"
	TypeShellCommand         Type = "shell_command"
	TypeNetworkRequest       Type = "network_request"
	TypeTransmitData         Type = "transmit_data"
	TypeFinancialTransaction Type = "financial_transaction"
	TypeAccessControlChange  Type = "access_control_change"
	TypeCapabilityGrant      Type = "capability_grant"
	TypeMCPToolCall          Type = "mcp_tool_call"
	TypePluginCapabilityUse  Type = "plugin_capability_use"
	TypePluginHTTPRequest    Type = "plugin_http_request"
	TypePluginFileAccess     Type = "plugin_file_access"
)

// RiskLevel orders actions by blast radius. Higher risk means louder
// approval prompts; it never substitutes for authorization.
type RiskLevel uint8

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", uint8(r))
	}
}

// DefaultRisk returns the risk level an action type carries before
// policy adjustments.
func (t Type) DefaultRisk() RiskLevel {
	switch t {
	case TypeFinancialTransaction, TypeAccessControlChange:
		return RiskCritical
	case TypeFileDelete, TypeFileWrite, TypeShellCommand, TypeTransmitData,
		TypeCapabilityGrant, TypePluginCapabilityUse, TypePluginHTTPRequest,
		TypePluginFileAccess:
		return RiskHigh
	case TypeFileRead, TypeNetworkRequest, TypeMCPToolCall:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Action is one concrete sensitive action: what the agent wants to do,
// to which resource, needing which permission.
type Action struct {
	// Type is the taxonomy discriminator.
	Type Type
	// Resource is the canonical URI the action targets.
	Resource string
	// Permission is the capability verb the action needs.
	Permission capability.Permission
	// Summary is a one-line human description for prompts and audit.
	Summary string
	// Argument carries the action's payload where one exists (command
	// line, request body description). Policy enforces a size cap on
	// it.
	Argument string
	// Plugin names the sandboxed plugin acting, for plugin action
	// types only.
	Plugin string
}

// Risk returns the action's default risk level.
func (a Action) Risk() RiskLevel { return a.Type.DefaultRisk() }

// FileRead reads a file.
func FileRead(path string) Action {
	return Action{
		Type:       TypeFileRead,
		Resource:   fileURI(path),
		Permission: capability.PermissionRead,
		Summary:    "read file " + path,
	}
}

// FileWrite writes or creates a file.
func FileWrite(path string) Action {
	return Action{
		Type:       TypeFileWrite,
		Resource:   fileURI(path),
		Permission: capability.PermissionWrite,
		Summary:    "write file " + path,
	}
}

// FileDelete deletes a file or directory.
func FileDelete(path string) Action {
	return Action{
		Type:       TypeFileDelete,
		Resource:   fileURI(path),
		Permission: capability.PermissionDelete,
		Summary:    "delete " + path,
	}
}

// ShellCommand executes a command. name is the executable; argv is the
// full argument list.
func ShellCommand(name string, argv []string) Action {
	return Action{
		Type:       TypeShellCommand,
		Resource:   "cmd://" + name,
		Permission: capability.PermissionExecute,
		Summary:    "run command " + strings.Join(append([]string{name}, argv...), " "),
		Argument:   strings.Join(argv, " "),
	}
}

// NetworkRequest performs an HTTP request.
func NetworkRequest(method, host string, port int) Action {
	return Action{
		Type:       TypeNetworkRequest,
		Resource:   fmt.Sprintf("net://%s:%d", host, port),
		Permission: capability.PermissionNetwork,
		Summary:    fmt.Sprintf("%s request to %s:%d", method, host, port),
	}
}

// TransmitData sends local data to an external destination.
func TransmitData(destination, description string) Action {
	return Action{
		Type:       TypeTransmitData,
		Resource:   "net://" + destination + ":*",
		Permission: capability.PermissionNetwork,
		Summary:    "transmit " + description + " to " + destination,
		Argument:   description,
	}
}

// FinancialTransaction spends real money outside the cost budget.
func FinancialTransaction(description string, amountUSD float64) Action {
	return Action{
		Type:       TypeFinancialTransaction,
		Resource:   "cmd://financial-transaction",
		Permission: capability.PermissionExecute,
		Summary:    fmt.Sprintf("financial transaction: %s ($%.2f)", description, amountUSD),
		Argument:   description,
	}
}

// AccessControlChange modifies permissions, credentials, or trust.
func AccessControlChange(description string) Action {
	return Action{
		Type:       TypeAccessControlChange,
		Resource:   "cmd://access-control",
		Permission: capability.PermissionExecute,
		Summary:    "access control change: " + description,
		Argument:   description,
	}
}

// CapabilityGrant issues a new capability token.
func CapabilityGrant(pattern resource.Pattern) Action {
	return Action{
		Type:       TypeCapabilityGrant,
		Resource:   pattern.String(),
		Permission: capability.PermissionExecute,
		Summary:    "grant capability for " + pattern.String(),
	}
}

// MCPToolCall invokes a tool on an MCP server.
func MCPToolCall(server, tool, argument string) Action {
	return Action{
		Type:       TypeMCPToolCall,
		Resource:   "mcp://" + server + ":" + tool,
		Permission: capability.PermissionExecute,
		Summary:    "call MCP tool " + server + ":" + tool,
		Argument:   argument,
	}
}

// PluginCapabilityUse is a sandboxed plugin exercising a declared
// capability.
func PluginCapabilityUse(plugin, cap string) Action {
	return Action{
		Type:       TypePluginCapabilityUse,
		Resource:   "plugin://" + plugin + ":" + cap,
		Permission: capability.PermissionExecute,
		Summary:    "plugin " + plugin + " uses capability " + cap,
		Plugin:     plugin,
	}
}

// PluginHTTPRequest is a sandboxed plugin reaching the network.
func PluginHTTPRequest(plugin, host string) Action {
	return Action{
		Type:       TypePluginHTTPRequest,
		Resource:   "net://" + host + ":*",
		Permission: capability.PermissionNetwork,
		Summary:    "plugin " + plugin + " requests " + host,
		Plugin:     plugin,
	}
}

// PluginFileAccess is a sandboxed plugin touching the filesystem.
func PluginFileAccess(plugin, path string) Action {
	return Action{
		Type:       TypePluginFileAccess,
		Resource:   fileURI(path),
		Permission: capability.PermissionRead,
		Summary:    "plugin " + plugin + " accesses " + path,
		Plugin:     plugin,
	}
}

func fileURI(path string) string {
	return "file://" + "/" + strings.TrimPrefix(path, "/")
}
