// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource defines the URI-like resource identifiers that
// capability tokens and allowances are scoped to, and the glob pattern
// language used to match them.
//
// A resource is "<scheme>://<path>": "file:///etc/hosts",
// "mcp://github:create_issue", "cmd://git", "net://api.example.com:443".
// Patterns use the same shape with glob wildcards in the path:
// "file:///workspace/**" or "mcp://github:*".
package resource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTraversal is returned when a pattern or resource contains a ".."
// path segment. Traversal segments are rejected unconditionally; a
// pattern that names one is invalid, and a candidate resource that
// names one never matches anything.
var ErrTraversal = errors.New("resource: path traversal segment")

// Pattern is a validated resource pattern. The zero value matches
// nothing.
type Pattern struct {
	scheme string
	path   string
}

// Parse validates and returns a resource pattern. The scheme is
// mandatory and literal (no wildcards); the path may contain glob
// wildcards. Any ".." segment anywhere in the path is rejected.
func Parse(raw string) (Pattern, error) {
	scheme, rest, err := split(raw)
	if err != nil {
		return Pattern{}, err
	}
	if hasTraversal(rest) {
		return Pattern{}, fmt.Errorf("%w in pattern %q", ErrTraversal, raw)
	}
	return Pattern{scheme: scheme, path: rest}, nil
}

// MustParse is Parse that panics on error, for package-level pattern
// constants in hosts and tests.
func MustParse(raw string) Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether a concrete resource URI falls under the
// pattern. A candidate with a different scheme, a malformed URI, or
// any ".." segment never matches.
func (p Pattern) Matches(resource string) bool {
	if p.scheme == "" {
		return false
	}
	scheme, rest, err := split(resource)
	if err != nil || scheme != p.scheme {
		return false
	}
	if hasTraversal(rest) {
		return false
	}
	return matchSegments(p.path, rest)
}

// String renders the pattern back to its URI form. file patterns get
// their path-root slash back, so String round-trips through Parse.
func (p Pattern) String() string {
	if p.scheme == "" {
		return ""
	}
	if p.scheme == "file" {
		return "file:///" + p.path
	}
	return p.scheme + "://" + p.path
}

// IsZero reports whether the pattern is the zero value.
func (p Pattern) IsZero() bool { return p.scheme == "" }

// Specificity scores how narrowly the pattern matches: the number of
// literal path segments, minus one per wildcard segment, with "**"
// counting double. When several grants cover the same resource, the
// highest score wins.
func (p Pattern) Specificity() int {
	score := 0
	for _, segment := range strings.Split(p.path, "/") {
		switch {
		case segment == "**":
			score -= 2
		case strings.ContainsAny(segment, "*?["):
			score--
		case segment != "":
			score++
		}
	}
	return score
}

// MarshalText implements encoding.TextMarshaler so patterns serialize
// as their URI form in CBOR, JSON, and YAML.
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// FileExact returns a pattern matching exactly one filesystem path.
func FileExact(path string) Pattern {
	return Pattern{scheme: "file", path: strings.TrimPrefix(path, "/")}
}

// FileDir returns a pattern matching everything under a directory.
func FileDir(dir string) Pattern {
	return Pattern{scheme: "file", path: strings.TrimSuffix(strings.TrimPrefix(dir, "/"), "/") + "/**"}
}

// MCPTool returns a pattern matching one tool on one MCP server.
func MCPTool(server, tool string) Pattern {
	return Pattern{scheme: "mcp", path: server + ":" + tool}
}

// MCPServer returns a pattern matching every tool on an MCP server.
func MCPServer(server string) Pattern {
	return Pattern{scheme: "mcp", path: server + ":*"}
}

// Host returns a pattern matching a network host (any port).
func Host(host string) Pattern {
	return Pattern{scheme: "net", path: host + ":*"}
}

// Command returns a pattern matching a shell command by executable
// name.
func Command(name string) Pattern {
	return Pattern{scheme: "cmd", path: name}
}

// split separates "<scheme>://<rest>" and validates the shape.
// file:// URIs carry a third slash for the path root; it is stripped
// so file patterns and candidates compare on the same form.
func split(raw string) (scheme, rest string, err error) {
	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return "", "", fmt.Errorf("resource: %q is not scheme://path", raw)
	}
	scheme = raw[:idx]
	rest = raw[idx+3:]
	if scheme == "file" {
		rest = strings.TrimPrefix(rest, "/")
	}
	if rest == "" {
		return "", "", fmt.Errorf("resource: %q has an empty path", raw)
	}
	return scheme, rest, nil
}

// hasTraversal reports whether any slash-separated segment is "..".
func hasTraversal(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}
