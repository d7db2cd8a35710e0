package model

import "time"

// ScanKind is the type of target that was scanned
type ScanKind string

const (
	ScanKindWebsite    ScanKind = "website"
	ScanKindSourceCode ScanKind = "sourcecode"
)

// Check names the rule that produced a finding
type Check string

const (
	CheckDevLog        Check = "dev_log"
	CheckSourceMap     Check = "source_map"
	CheckDevFile       Check = "dev_file"
	CheckPagePredicate Check = "page_predicate"
	CheckEnvMarker     Check = "env_marker"
)

// Finding explains why one of the ScanResult flags is set
type Finding struct {
	Check      Check      `json:"check"`
	Provenance Provenance `json:"provenance"`
	URL        string     `json:"url,omitempty"`
	Markers    []string   `json:"markers,omitempty"`
	Excerpt    string     `json:"excerpt,omitempty"` // console line, truncated
}

// ScanResult is the aggregate of the independent findings of one scan
type ScanResult struct {
	DevLogFound        bool `json:"dev_log_found"`
	SourceMapFound     bool `json:"source_map_found"`
	DevFileFound       bool `json:"dev_file_found"`
	DevByPagePredicate bool `json:"dev_by_page_predicate"`
	Verdict            bool `json:"verdict"`

	// TimedOut is set when navigation exceeded its budget; Verdict is then false
	TimedOut bool `json:"timed_out"`

	Findings      []Finding `json:"findings,omitempty"`
	FetchFailures int       `json:"fetch_failures"`
}

// TimedOutResult returns the result of a scan aborted by a navigation timeout
func TimedOutResult() ScanResult {
	return ScanResult{TimedOut: true}
}

// Report is the complete devcheck report for one target
type Report struct {
	ID        string        `json:"id"`
	Kind      ScanKind      `json:"kind"`
	Target    string        `json:"target"`
	Collector string        `json:"collector,omitempty"` // browser, http
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Result    ScanResult    `json:"result"`
	Error     string        `json:"error,omitempty"`
}

// VerdictLine returns the fixed stdout line for the report's verdict
func (r *Report) VerdictLine() string {
	if r.Kind == ScanKindSourceCode {
		if r.Result.Verdict {
			return "Development environment detected."
		}
		return "No development environment detected."
	}
	if r.Result.Verdict {
		return "Development build detected."
	}
	return "No development build detected."
}
