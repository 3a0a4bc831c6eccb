// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"path"
	"strings"
)

// Glob reports whether a slash-separated value matches a glob pattern,
// using the same matching rules as Pattern.Matches but without scheme
// handling or traversal checks. Intended for rule lists that match raw
// paths and hostnames rather than full resource URIs.
func Glob(pattern, value string) bool {
	return matchSegments(pattern, value)
}

// matchSegments checks whether a slash-separated value matches a glob
// pattern:
//
//   - Exact match: "etc/hosts" matches only "etc/hosts"
//   - Single-segment wildcard: "etc/*" matches "etc/hosts" but not "etc/ssl/certs"
//   - Recursive wildcard: "etc/**" matches "etc/hosts", "etc/ssl/certs", etc.
//   - Universal: "**" matches anything
//   - Interior recursive: "srv/**/config" matches "srv/config", "srv/a/b/config"
//   - Character wildcard: "?" matches a single non-slash character
//
// Wildcards * and ? work in all positions, including around **. The
// single-segment wildcard "*" does not match "/", the standard
// path.Match behavior. Use "**" to match across hierarchy boundaries.
//
// Returns false for malformed patterns (unmatched brackets, etc.)
// rather than propagating errors; a malformed pattern must never
// grant access.
func matchSegments(pattern, value string) bool {
	// Universal match.
	if pattern == "**" {
		return true
	}

	// No ** in the pattern: path.Match handles single-segment * and ?
	// correctly (not matching /).
	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, value)
	}

	// Suffix "etc/**": match the prefix, then anything after.
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		// ** matches zero additional segments.
		if matchGlob(prefix, value) {
			return true
		}
		return hasMatchingPrefix(prefix, value)
	}

	// Prefix "**/config": match anything before, then the suffix.
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchGlob(suffix, value) {
			return true
		}
		return hasMatchingSuffix(suffix, value)
	}

	// Interior "srv/**/config": split on the first /**, match prefix
	// and suffix independently.
	separatorIndex := strings.Index(pattern, "/**/")
	if separatorIndex >= 0 {
		prefix := pattern[:separatorIndex]
		suffix := pattern[separatorIndex+4:]

		// Zero-segment case: prefix and suffix adjacent.
		if matchGlob(prefix+"/"+suffix, value) {
			return true
		}

		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(value, "/")

		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}

		prefixCandidate := strings.Join(segments[:prefixDepth], "/")
		if !matchGlob(prefix, prefixCandidate) {
			return false
		}

		suffixCandidate := strings.Join(segments[len(segments)-suffixDepth:], "/")
		if !matchGlob(suffix, suffixCandidate) {
			return false
		}

		// Segments consumed by ** must be non-empty (reject values
		// with consecutive slashes between prefix and suffix).
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// Multiple ** segments or other complex patterns: deny by default.
	return false
}

func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// hasMatchingPrefix reports whether the value starts with segments that
// match the pattern, with at least one additional segment after.
func hasMatchingPrefix(pattern, value string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(value, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	candidate := strings.Join(segments[:depth], "/")
	return matchGlob(pattern, candidate)
}

// hasMatchingSuffix reports whether the value ends with segments that
// match the pattern, with at least one additional segment before.
func hasMatchingSuffix(pattern, value string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(value, "/")
	if len(segments) <= depth {
		return false
	}
	candidate := strings.Join(segments[len(segments)-depth:], "/")
	return matchGlob(pattern, candidate)
}
