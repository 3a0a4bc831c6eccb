// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import "testing"

func TestParseRejectsTraversal(t *testing.T) {
	bad := []string{
		"file:///workspace/../etc/passwd",
		"file:///../../root",
		"file:///a/b/../c",
		"mcp://../server:tool",
	}
	for _, raw := range bad {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) accepted a traversal pattern", raw)
		}
	}

	// Dots inside a segment are not traversal.
	if _, err := Parse("file:///workspace/..data/file"); err != nil {
		t.Errorf("Parse rejected %q: %v", "file:///workspace/..data/file", err)
	}
	if _, err := Parse("net://api.example.com:443"); err != nil {
		t.Errorf("Parse rejected a dotted hostname: %v", err)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "no-scheme", "://path", "file://"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) = nil error", raw)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern  string
		resource string
		want     bool
	}{
		// Exact.
		{"file:///etc/hosts", "file:///etc/hosts", true},
		{"file:///etc/hosts", "file:///etc/hostname", false},
		// Single segment.
		{"file:///workspace/*", "file:///workspace/main.go", true},
		{"file:///workspace/*", "file:///workspace/sub/main.go", false},
		// Recursive.
		{"file:///workspace/**", "file:///workspace/main.go", true},
		{"file:///workspace/**", "file:///workspace/a/b/c.go", true},
		{"file:///workspace/**", "file:///etc/hosts", false},
		// Interior recursive.
		{"file:///srv/**/config", "file:///srv/config", true},
		{"file:///srv/**/config", "file:///srv/a/b/config", true},
		{"file:///srv/**/config", "file:///srv/a/b/other", false},
		// Scheme is literal.
		{"file:///workspace/**", "mcp://workspace:anything", false},
		// MCP tool wildcards within a segment.
		{"mcp://github:*", "mcp://github:create_issue", true},
		{"mcp://github:*", "mcp://gitlab:create_issue", false},
		{"mcp://github:create_issue", "mcp://github:create_issue", true},
		// Question mark.
		{"cmd://l?", "cmd://ls", true},
		{"cmd://l?", "cmd://less", false},
		// Hosts.
		{"net://*.example.com:*", "net://api.example.com:443", true},
		{"net://*.example.com:*", "net://example.org:443", false},
	}
	for _, tt := range tests {
		p := MustParse(tt.pattern)
		if got := p.Matches(tt.resource); got != tt.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.pattern, tt.resource, got, tt.want)
		}
	}
}

func TestMatchesRejectsTraversalCandidate(t *testing.T) {
	p := MustParse("file:///workspace/**")
	// The glob alone would match; the traversal check must win.
	if p.Matches("file:///workspace/../etc/passwd") {
		t.Error("candidate with .. segment matched")
	}
	if p.Matches("file:///workspace/sub/../../etc/passwd") {
		t.Error("nested traversal candidate matched")
	}
}

func TestMatchesRejectsMalformedCandidate(t *testing.T) {
	p := MustParse("file:///workspace/**")
	for _, candidate := range []string{"", "workspace/file", "file://"} {
		if p.Matches(candidate) {
			t.Errorf("malformed candidate %q matched", candidate)
		}
	}
}

func TestZeroPatternMatchesNothing(t *testing.T) {
	var p Pattern
	if p.Matches("file:///etc/hosts") {
		t.Error("zero pattern matched")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		pattern  Pattern
		resource string
		want     bool
	}{
		{FileExact("/etc/hosts"), "file:///etc/hosts", true},
		{FileExact("/etc/hosts"), "file:///etc/shadow", false},
		{FileDir("/workspace"), "file:///workspace/a/b.go", true},
		{FileDir("/workspace"), "file:///other/a.go", false},
		{MCPTool("github", "create_issue"), "mcp://github:create_issue", true},
		{MCPServer("github"), "mcp://github:list_repos", true},
		{Host("api.example.com"), "net://api.example.com:443", true},
		{Command("git"), "cmd://git", true},
		{Command("git"), "cmd://gitk", false},
	}
	for _, tt := range tests {
		if got := tt.pattern.Matches(tt.resource); got != tt.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.pattern, tt.resource, got, tt.want)
		}
	}
}

func TestSpecificityOrdering(t *testing.T) {
	broad := MustParse("file:///**")
	dir := MustParse("file:///workspace/**")
	exact := MustParse("file:///workspace/main.go")
	if !(exact.Specificity() > dir.Specificity()) {
		t.Errorf("exact (%d) not more specific than dir (%d)", exact.Specificity(), dir.Specificity())
	}
	if !(dir.Specificity() > broad.Specificity()) {
		t.Errorf("dir (%d) not more specific than broad (%d)", dir.Specificity(), broad.Specificity())
	}
}

func TestTextRoundTrip(t *testing.T) {
	p := MustParse("mcp://github:*")
	text, err := p.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var out Pattern
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if out != p {
		t.Errorf("round trip mismatch: %v vs %v", out, p)
	}
}
