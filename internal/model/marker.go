package model

import "strings"

// MarkerSet is an ordered list of case-sensitive literal substrings that
// indicate a development build.
type MarkerSet []string

// IgnoreSet is an ordered list of literal substrings identifying script URLs
// that are never inspected for markers.
type IgnoreSet []string

// DefaultMarkers returns the built-in development markers
func DefaultMarkers() MarkerSet {
	return MarkerSet{
		"development build",
		"react.development.js",
		"webpack://",
		"eval(",
		"sourceMappingURL",
		"webpackHotUpdate",
		"HMR",
		"__DEV__",
	}
}

// DefaultIgnore returns the built-in ignore list
func DefaultIgnore() IgnoreSet {
	return IgnoreSet{"bootstrap.bundle.min.js"}
}

// Matches returns the members contained in text, in set order.
// Matching is plain substring containment.
func (s MarkerSet) Matches(text string) []string {
	if text == "" {
		return nil
	}
	var found []string
	for _, m := range s {
		if m != "" && strings.Contains(text, m) {
			found = append(found, m)
		}
	}
	return found
}

// Contains reports whether url contains any member of the set
func (s IgnoreSet) Contains(url string) bool {
	for _, ig := range s {
		if ig != "" && strings.Contains(url, ig) {
			return true
		}
	}
	return false
}

// Provenance tags where a finding was observed
type Provenance string

const (
	ProvenanceConsoleLog   Provenance = "console_log"
	ProvenanceResponseBody Provenance = "response_body"
	ProvenanceScriptBody   Provenance = "script_body"
	ProvenancePage         Provenance = "page"
	ProvenanceEnvFile      Provenance = "env_file"
)
